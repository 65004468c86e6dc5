package dataset

import (
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePNG(t *testing.T, path string, img image.Image) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

// writePair writes a 4x4 color/ground-truth pair: left half red labeled
// green, right half blue labeled yellow.
func writePair(t *testing.T, dir, name string) {
	t.Helper()
	colors := image.NewRGBA(image.Rect(0, 0, 4, 4))
	labels := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			if x < 2 {
				colors.SetRGBA(x, y, color.RGBA{R: 255, A: 255})
				labels.SetRGBA(x, y, color.RGBA{G: 255, A: 255})
			} else {
				colors.SetRGBA(x, y, color.RGBA{B: 255, A: 255})
				labels.SetRGBA(x, y, color.RGBA{R: 255, G: 255, A: 255})
			}
		}
	}
	writePNG(t, filepath.Join(dir, name+"_colors.png"), colors)
	writePNG(t, filepath.Join(dir, name+"_ground_truth.png"), labels)
}

func writeDepth(t *testing.T, dir, name string, millimeters [][]uint16) {
	t.Helper()
	h := len(millimeters)
	w := len(millimeters[0])
	depth := image.NewGray16(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			depth.SetGray16(x, y, color.Gray16{Y: millimeters[y][x]})
		}
	}
	writePNG(t, filepath.Join(dir, name+"_depth.png"), depth)
}

func TestLoad_EmptyFolderFails(t *testing.T) {
	_, err := Load(t.TempDir(), LoadOptions{})

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrEmptyDataset))
}

func TestLoad_BuildsPaletteAndLabels(t *testing.T) {
	dir := t.TempDir()
	writePair(t, dir, "scene1")

	ds, err := Load(dir, LoadOptions{UseCIELab: false})
	require.NoError(t, err)

	require.Equal(t, 1, ds.Count())
	assert.Equal(t, 2, ds.LabelCount())
	assert.False(t, ds.HasDepth())

	im := &ds.Images[0]
	assert.Equal(t, float32(255), im.ColorAt(0, 0, 0))
	assert.Equal(t, float32(0), im.ColorAt(2, 0, 0))
	assert.Equal(t, float32(255), im.ColorAt(2, 3, 0))

	green, ok := ds.LabelFor(RGB{G: 255})
	require.True(t, ok)
	yellow, ok := ds.LabelFor(RGB{R: 255, G: 255})
	require.True(t, ok)
	assert.Equal(t, green, im.LabelAt(0, 0))
	assert.Equal(t, yellow, im.LabelAt(3, 3))

	_, ok = ds.LabelFor(RGB{R: 1, G: 2, B: 3})
	assert.False(t, ok)
}

func TestLoad_CIELabConversion(t *testing.T) {
	dir := t.TempDir()
	colors := image.NewRGBA(image.Rect(0, 0, 2, 2))
	labels := image.NewRGBA(image.Rect(0, 0, 2, 2))
	for y := 0; y < 2; y++ {
		for x := 0; x < 2; x++ {
			colors.SetRGBA(x, y, color.RGBA{R: 255, G: 255, B: 255, A: 255})
			labels.SetRGBA(x, y, color.RGBA{A: 255})
		}
	}
	writePNG(t, filepath.Join(dir, "white_colors.png"), colors)
	writePNG(t, filepath.Join(dir, "white_ground_truth.png"), labels)

	ds, err := Load(dir, LoadOptions{UseCIELab: true})
	require.NoError(t, err)

	// White is L=1, a=0, b=0 in CIELab.
	im := &ds.Images[0]
	assert.InDelta(t, 1.0, im.ColorAt(0, 0, 0), 0.01)
	assert.InDelta(t, 0.0, im.ColorAt(1, 0, 0), 0.01)
	assert.InDelta(t, 0.0, im.ColorAt(2, 0, 0), 0.01)
}

func TestLoad_SortedOrderAndMaxImages(t *testing.T) {
	dir := t.TempDir()
	writePair(t, dir, "banana")
	writePair(t, dir, "apple")
	writePair(t, dir, "cherry")

	ds, err := Load(dir, LoadOptions{MaxImages: 2})
	require.NoError(t, err)

	require.Equal(t, 2, ds.Count())
	assert.Equal(t, "apple", ds.Images[0].Name)
	assert.Equal(t, "banana", ds.Images[1].Name)
}

func TestLoad_MissingGroundTruthFails(t *testing.T) {
	dir := t.TempDir()
	colors := image.NewRGBA(image.Rect(0, 0, 2, 2))
	writePNG(t, filepath.Join(dir, "orphan_colors.png"), colors)

	_, err := Load(dir, LoadOptions{})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "orphan_ground_truth.png")
}

func TestLoad_DepthConvertedToMeters(t *testing.T) {
	dir := t.TempDir()
	writePair(t, dir, "scene1")
	writeDepth(t, dir, "scene1", [][]uint16{
		{1000, 1000, 1000, 1000},
		{1000, 1000, 1000, 1000},
		{1000, 1000, 1000, 1000},
		{1000, 1000, 1000, 2000},
	})

	ds, err := Load(dir, LoadOptions{})
	require.NoError(t, err)

	require.True(t, ds.HasDepth())
	im := &ds.Images[0]
	assert.InDelta(t, 1.0, im.DepthAt(0, 0), 1e-6)
	assert.InDelta(t, 2.0, im.DepthAt(3, 3), 1e-6)
}

func TestLoad_DepthFillingFillsMissingReadings(t *testing.T) {
	dir := t.TempDir()
	writePair(t, dir, "scene1")
	row := []uint16{0, 1000, 0, 2000}
	writeDepth(t, dir, "scene1", [][]uint16{row, row, row, row})

	unfilled, err := Load(dir, LoadOptions{})
	require.NoError(t, err)
	assert.Equal(t, float32(0), unfilled.Images[0].DepthAt(0, 0))

	ds, err := Load(dir, LoadOptions{UseDepthFilling: true})
	require.NoError(t, err)

	im := &ds.Images[0]
	assert.InDelta(t, 1.0, im.DepthAt(0, 0), 1e-6)
	assert.InDelta(t, 1.0, im.DepthAt(2, 0), 1e-6)
	assert.InDelta(t, 2.0, im.DepthAt(3, 0), 1e-6)
}

func TestLoad_InconsistentDepthPresenceFails(t *testing.T) {
	dir := t.TempDir()
	writePair(t, dir, "with")
	writeDepth(t, dir, "with", [][]uint16{
		{1, 1, 1, 1}, {1, 1, 1, 1}, {1, 1, 1, 1}, {1, 1, 1, 1},
	})
	writePair(t, dir, "without")

	_, err := Load(dir, LoadOptions{})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "depth channel")
}

func TestBytesPerImage_UniformFootprint(t *testing.T) {
	dir := t.TempDir()
	writePair(t, dir, "scene1")

	ds, err := Load(dir, LoadOptions{})
	require.NoError(t, err)

	// 16 pixels: 3 color floats + 1 label byte each = 16*(12+1)
	assert.Equal(t, uint64(16*13), ds.BytesPerImage())
	assert.Equal(t, ds.Images[0].SizeInMemory(), ds.BytesPerImage())
}

func TestParseRGB(t *testing.T) {
	c, err := ParseRGB("255, 0, 10")
	require.NoError(t, err)
	assert.Equal(t, RGB{R: 255, G: 0, B: 10}, c)
	assert.Equal(t, "255,0,10", c.String())

	for _, bad := range []string{"256,0,0", "1,2", "a,b,c", "", "-1,0,0"} {
		_, err := ParseRGB(bad)
		assert.Error(t, err, "input %q", bad)
	}
}

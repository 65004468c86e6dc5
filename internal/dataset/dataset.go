// Package dataset loads labeled RGB-D training images from disk.
package dataset

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrEmptyDataset is returned when a training folder yields zero images.
var ErrEmptyDataset = errors.New("dataset contains no images")

// RGB identifies a ground-truth label color.
type RGB struct {
	R, G, B uint8
}

func (c RGB) String() string {
	return fmt.Sprintf("%d,%d,%d", c.R, c.G, c.B)
}

// ParseRGB parses a "R,G,B" triple with each component in [0,255].
func ParseRGB(s string) (RGB, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return RGB{}, fmt.Errorf("invalid color %q: expected format R,G,B", s)
	}
	var vals [3]uint8
	for i, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || v < 0 || v > 255 {
			return RGB{}, fmt.Errorf("invalid color %q: component %q out of range 0..255", s, p)
		}
		vals[i] = uint8(v)
	}
	return RGB{R: vals[0], G: vals[1], B: vals[2]}, nil
}

// LabeledImage holds one training image in memory: three color channels
// (RGB or CIELab), an optional depth channel in meters, and a per-pixel
// label index into the dataset palette.
type LabeledImage struct {
	Name   string
	Width  int
	Height int
	Color  []float32 // len Width*Height*3, channel-major per pixel
	Depth  []float32 // len Width*Height, nil if no depth map
	Labels []uint8   // len Width*Height
}

// SizeInMemory reports the in-memory footprint of the image in bytes.
func (im *LabeledImage) SizeInMemory() uint64 {
	return uint64(len(im.Color)*4 + len(im.Depth)*4 + len(im.Labels))
}

// ColorAt returns channel ch of the pixel at (x, y).
func (im *LabeledImage) ColorAt(ch, x, y int) float32 {
	return im.Color[(y*im.Width+x)*3+ch]
}

// DepthAt returns the depth of the pixel at (x, y), or 0 if there is no
// depth channel.
func (im *LabeledImage) DepthAt(x, y int) float32 {
	if im.Depth == nil {
		return 0
	}
	return im.Depth[y*im.Width+x]
}

// LabelAt returns the label index of the pixel at (x, y).
func (im *LabeledImage) LabelAt(x, y int) uint8 {
	return im.Labels[y*im.Width+x]
}

// Dataset is an ordered collection of labeled images sharing one palette.
// Per-image footprints are assumed uniform; the first image governs.
type Dataset struct {
	Images  []LabeledImage
	Palette []RGB // label index -> ground-truth color
}

func (d *Dataset) Count() int {
	return len(d.Images)
}

// BytesPerImage reports the per-image memory footprint.
func (d *Dataset) BytesPerImage() uint64 {
	if len(d.Images) == 0 {
		return 0
	}
	return d.Images[0].SizeInMemory()
}

func (d *Dataset) LabelCount() int {
	return len(d.Palette)
}

// HasDepth reports whether the images carry a depth channel.
func (d *Dataset) HasDepth() bool {
	return len(d.Images) > 0 && d.Images[0].Depth != nil
}

// LabelFor returns the label index assigned to a ground-truth color.
func (d *Dataset) LabelFor(c RGB) (uint8, bool) {
	for i, p := range d.Palette {
		if p == c {
			return uint8(i), true
		}
	}
	return 0, false
}

package dataset

import (
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/lucasb-eyer/go-colorful"
)

const (
	colorSuffix = "_colors.png"
	depthSuffix = "_depth.png"
	labelSuffix = "_ground_truth.png"
)

// LoadOptions control preprocessing during loading.
type LoadOptions struct {
	UseCIELab       bool
	UseDepthFilling bool
	MaxImages       int // 0 means all
}

// Load reads all image pairs from folder. Every "<name>_colors.png" must have
// a matching "<name>_ground_truth.png"; "<name>_depth.png" is optional but
// must be present for either all images or none. Files are processed in
// sorted order so label indices are stable across runs.
func Load(folder string, opts LoadOptions) (*Dataset, error) {
	entries, err := os.ReadDir(folder)
	if err != nil {
		return nil, fmt.Errorf("failed to read training folder: %w", err)
	}

	var bases []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), colorSuffix) {
			continue
		}
		bases = append(bases, strings.TrimSuffix(e.Name(), colorSuffix))
	}
	sort.Strings(bases)

	if opts.MaxImages > 0 && len(bases) > opts.MaxImages {
		bases = bases[:opts.MaxImages]
	}

	ds := &Dataset{}
	labels := make(map[RGB]uint8)
	for _, base := range bases {
		im, err := loadOne(folder, base, opts, ds, labels)
		if err != nil {
			return nil, err
		}
		ds.Images = append(ds.Images, *im)
	}

	if len(ds.Images) == 0 {
		return nil, fmt.Errorf("found no files in %s: %w", folder, ErrEmptyDataset)
	}

	hasDepth := ds.Images[0].Depth != nil
	for i := range ds.Images {
		if (ds.Images[i].Depth != nil) != hasDepth {
			return nil, fmt.Errorf("image %s: depth channel present for some images but not all", ds.Images[i].Name)
		}
	}

	return ds, nil
}

func loadOne(folder, base string, opts LoadOptions, ds *Dataset, labels map[RGB]uint8) (*LabeledImage, error) {
	colorImg, err := decodePNG(filepath.Join(folder, base+colorSuffix))
	if err != nil {
		return nil, err
	}
	labelImg, err := decodePNG(filepath.Join(folder, base+labelSuffix))
	if err != nil {
		return nil, err
	}

	bounds := colorImg.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if lb := labelImg.Bounds(); lb.Dx() != w || lb.Dy() != h {
		return nil, fmt.Errorf("image %s: ground truth size %dx%d does not match color size %dx%d",
			base, lb.Dx(), lb.Dy(), w, h)
	}

	im := &LabeledImage{
		Name:   base,
		Width:  w,
		Height: h,
		Color:  make([]float32, w*h*3),
		Labels: make([]uint8, w*h),
	}

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, b := rgb8At(colorImg, bounds.Min.X+x, bounds.Min.Y+y)
			i := (y*w + x) * 3
			if opts.UseCIELab {
				l, a, bb := colorful.Color{
					R: float64(r) / 255.0,
					G: float64(g) / 255.0,
					B: float64(b) / 255.0,
				}.Lab()
				im.Color[i] = float32(l)
				im.Color[i+1] = float32(a)
				im.Color[i+2] = float32(bb)
			} else {
				im.Color[i] = float32(r)
				im.Color[i+1] = float32(g)
				im.Color[i+2] = float32(b)
			}

			lr, lg, lb := rgb8At(labelImg, bounds.Min.X+x, bounds.Min.Y+y)
			c := RGB{R: lr, G: lg, B: lb}
			id, ok := labels[c]
			if !ok {
				id = uint8(len(ds.Palette))
				labels[c] = id
				ds.Palette = append(ds.Palette, c)
			}
			im.Labels[y*w+x] = id
		}
	}

	depthPath := filepath.Join(folder, base+depthSuffix)
	if _, err := os.Stat(depthPath); err == nil {
		depthImg, err := decodePNG(depthPath)
		if err != nil {
			return nil, err
		}
		dbounds := depthImg.Bounds()
		if dbounds.Dx() != w || dbounds.Dy() != h {
			return nil, fmt.Errorf("image %s: depth size %dx%d does not match color size %dx%d",
				base, dbounds.Dx(), dbounds.Dy(), w, h)
		}
		im.Depth = make([]float32, w*h)
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				// 16-bit depth in millimeters, converted to meters
				d, _, _, _ := depthImg.At(dbounds.Min.X+x, dbounds.Min.Y+y).RGBA()
				im.Depth[y*w+x] = float32(d) / 1000.0
			}
		}
		if opts.UseDepthFilling {
			fillDepth(im)
		}
	}

	return im, nil
}

func decodePNG(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	img, err := png.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return img, nil
}

func rgb8At(img image.Image, x, y int) (uint8, uint8, uint8) {
	r, g, b, _ := img.At(x, y).RGBA()
	return uint8(r >> 8), uint8(g >> 8), uint8(b >> 8)
}

// fillDepth replaces missing (zero) depth readings with the nearest valid
// reading on the same scanline, scanning left to right and then right to
// left. Pixels on scanlines with no valid reading at all stay zero.
func fillDepth(im *LabeledImage) {
	for y := 0; y < im.Height; y++ {
		row := im.Depth[y*im.Width : (y+1)*im.Width]
		var last float32
		for x := 0; x < im.Width; x++ {
			if row[x] > 0 {
				last = row[x]
			} else if last > 0 {
				row[x] = last
			}
		}
		last = 0
		for x := im.Width - 1; x >= 0; x-- {
			if row[x] > 0 {
				last = row[x]
			} else if last > 0 {
				row[x] = last
			}
		}
	}
}

package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"sort"

	_ "image/gif"
	_ "image/jpeg"

	"github.com/gen2brain/go-fitz"
	"golang.org/x/image/draw"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/geon0078/VLM-Ovis/internal/tensor"
)

const (
	FormatPDF = "pdf"

	// TileSide is the square input side of the visual tokenizer.
	TileSide = 448

	coveringThreshold = 0.9
)

var ErrEmpty = errors.New("image data is empty")

// Decode sniffs and decodes an uploaded file. PDFs are rendered from their first page.
func Decode(data []byte) (image.Image, string, error) {
	if len(data) == 0 {
		return nil, "", ErrEmpty
	}

	if http.DetectContentType(data) == "application/pdf" {
		img, err := decodePDF(data)
		if err != nil {
			return nil, FormatPDF, err
		}
		return img, FormatPDF, nil
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, format, fmt.Errorf("failed to decode image: %w", err)
	}
	return img, format, nil
}

func decodePDF(data []byte) (image.Image, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, fmt.Errorf("failed to open pdf: %w", err)
	}
	defer doc.Close()

	if doc.NumPage() == 0 {
		return nil, errors.New("pdf has no pages")
	}
	img, err := doc.Image(0)
	if err != nil {
		return nil, fmt.Errorf("failed to render pdf page: %w", err)
	}
	return img, nil
}

// ToRGB returns an opaque RGBA copy of img, compositing transparency onto white.
func ToRGB(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Rect.Min == (image.Point{}) && rgba.Opaque() {
		return rgba
	}
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Over)
	return dst
}

func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// Grid is a rows x cols split of an image.
type Grid struct {
	Rows int
	Cols int
}

func (g Grid) Count() int {
	return g.Rows * g.Cols
}

func boxes(size image.Point, g Grid) []image.Rectangle {
	rowHeight := size.Y / g.Rows
	colWidth := size.X / g.Cols

	out := make([]image.Rectangle, 0, g.Count())
	for r := 0; r < g.Rows; r++ {
		top := r * rowHeight
		bottom := top + rowHeight
		if r == g.Rows-1 {
			bottom = size.Y
		}
		for c := 0; c < g.Cols; c++ {
			left := c * colWidth
			right := left + colWidth
			if c == g.Cols-1 {
				right = size.X
			}
			out = append(out, image.Rect(left, top, right, bottom))
		}
	}
	return out
}

// coveringArea is how much of a box survives being fit into a side x side tile.
func coveringArea(box image.Rectangle, side int) float64 {
	w, h := float64(box.Dx()), float64(box.Dy())
	if h > w {
		w, h = h, w
	}
	if w > float64(side) {
		h = h / w * float64(side)
		w = float64(side)
	}
	return w * h
}

// BestGrid picks the split with the fewest tiles that still covers most of the
// image at tile resolution, or the best covering one when none does.
func BestGrid(size image.Point, maxPartition, side int) Grid {
	if maxPartition < 1 {
		maxPartition = 1
	}
	area := float64(size.X * size.Y)

	type scored struct {
		grid  Grid
		ratio float64
	}
	var all, good []scored
	for i := 1; i <= maxPartition; i++ {
		for j := 1; j <= maxPartition; j++ {
			if i*j > maxPartition {
				continue
			}
			g := Grid{Rows: i, Cols: j}
			if size.Y < g.Rows || size.X < g.Cols {
				continue
			}
			var covered float64
			for _, b := range boxes(size, g) {
				covered += coveringArea(b, side)
			}
			s := scored{grid: g, ratio: covered / area}
			all = append(all, s)
			if s.ratio > coveringThreshold {
				good = append(good, s)
			}
		}
	}

	if len(good) > 0 {
		sort.SliceStable(good, func(a, b int) bool {
			if good[a].grid.Count() != good[b].grid.Count() {
				return good[a].grid.Count() < good[b].grid.Count()
			}
			return good[a].ratio > good[b].ratio
		})
		return good[0].grid
	}
	if len(all) == 0 {
		return Grid{Rows: 1, Cols: 1}
	}
	sort.SliceStable(all, func(a, b int) bool {
		if all[a].ratio != all[b].ratio {
			return all[a].ratio > all[b].ratio
		}
		return all[a].grid.Count() < all[b].grid.Count()
	})
	return all[0].grid
}

// Partition returns the whole image followed by its grid tiles, each fit into a
// TileSide square. A 1x1 grid yields only the whole image.
func Partition(img image.Image, maxPartition int) ([]*image.RGBA, Grid) {
	rgb := ToRGB(img)
	size := rgb.Bounds().Size()
	grid := BestGrid(size, maxPartition, TileSide)

	tiles := []*image.RGBA{fit(rgb, rgb.Bounds(), TileSide)}
	if grid.Count() == 1 {
		return tiles, grid
	}
	for _, b := range boxes(size, grid) {
		tiles = append(tiles, fit(rgb, b, TileSide))
	}
	return tiles, grid
}

// fit scales the region to the longest side and pads the rest with black.
func fit(src *image.RGBA, region image.Rectangle, side int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, side, side))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.Black), image.Point{}, draw.Src)

	w, h := region.Dx(), region.Dy()
	if w == 0 || h == 0 {
		return dst
	}
	tw, th := side, side
	if w >= h {
		th = max(1, h*side/w)
	} else {
		tw = max(1, w*side/h)
	}
	target := image.Rect(0, 0, tw, th).Add(image.Pt((side-tw)/2, (side-th)/2))
	draw.CatmullRom.Scale(dst, target, src, region, draw.Src, nil)
	return dst
}

// PixelValues stacks tiles into a [n, 3, side, side] float32 tensor with
// mean 0.5 / std 0.5 normalisation.
func PixelValues(tiles []*image.RGBA) (*tensor.Tensor, error) {
	if len(tiles) == 0 {
		return nil, errors.New("no tiles")
	}
	side := tiles[0].Bounds().Dx()
	plane := side * side
	values := make([]float32, len(tiles)*3*plane)

	for n, tile := range tiles {
		if tile.Bounds().Dx() != side || tile.Bounds().Dy() != side {
			return nil, fmt.Errorf("tile %d is %v, want %dx%d", n, tile.Bounds().Size(), side, side)
		}
		base := n * 3 * plane
		for y := 0; y < side; y++ {
			for x := 0; x < side; x++ {
				off := tile.PixOffset(x, y)
				p := y*side + x
				for c := 0; c < 3; c++ {
					values[base+c*plane+p] = (float32(tile.Pix[off+c])/255 - 0.5) / 0.5
				}
			}
		}
	}
	return tensor.FromFloat32([]int{len(tiles), 3, side, side}, values)
}

package imaging

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geon0078/VLM-Ovis/internal/tensor"
)

func solid(w, h int, c color.Color) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func TestDecodeRoundTrip(t *testing.T) {
	data, err := EncodePNG(solid(10, 6, color.NRGBA{R: 255, A: 255}))
	require.NoError(t, err)

	img, format, err := Decode(data)
	require.NoError(t, err)
	require.Equal(t, "png", format)
	require.Equal(t, image.Pt(10, 6), img.Bounds().Size())
}

func TestDecodeErrors(t *testing.T) {
	_, _, err := Decode(nil)
	require.ErrorIs(t, err, ErrEmpty)

	_, _, err = Decode([]byte("definitely not an image"))
	require.Error(t, err)
}

func TestToRGBCompositesOnWhite(t *testing.T) {
	img := solid(2, 2, color.NRGBA{R: 0, G: 0, B: 0, A: 0})
	rgb := ToRGB(img)
	require.True(t, rgb.Opaque())

	r, g, b, a := rgb.At(1, 1).RGBA()
	assert.Equal(t, uint32(0xffff), r)
	assert.Equal(t, uint32(0xffff), g)
	assert.Equal(t, uint32(0xffff), b)
	assert.Equal(t, uint32(0xffff), a)
}

func TestBestGrid(t *testing.T) {
	assert.Equal(t, Grid{Rows: 1, Cols: 1}, BestGrid(image.Pt(100, 100), 9, TileSide))
	assert.Equal(t, Grid{Rows: 1, Cols: 4}, BestGrid(image.Pt(1792, 448), 9, TileSide))
	assert.Equal(t, Grid{Rows: 4, Cols: 1}, BestGrid(image.Pt(448, 1792), 9, TileSide))
	assert.Equal(t, Grid{Rows: 1, Cols: 1}, BestGrid(image.Pt(1792, 448), 0, TileSide))
}

func TestPartitionSmallImage(t *testing.T) {
	tiles, grid := Partition(solid(100, 100, color.NRGBA{R: 255, A: 255}), 9)
	require.Equal(t, 1, grid.Count())
	require.Len(t, tiles, 1)
	require.Equal(t, image.Pt(TileSide, TileSide), tiles[0].Bounds().Size())

	center := tiles[0].RGBAAt(TileSide/2, TileSide/2)
	assert.GreaterOrEqual(t, center.R, uint8(250))
	assert.LessOrEqual(t, center.G, uint8(5))
}

func TestPartitionWideImage(t *testing.T) {
	tiles, grid := Partition(solid(1792, 448, color.NRGBA{B: 255, A: 255}), 9)
	require.Equal(t, Grid{Rows: 1, Cols: 4}, grid)
	require.Len(t, tiles, 5)
}

func TestPixelValues(t *testing.T) {
	tiles, _ := Partition(solid(100, 100, color.NRGBA{R: 255, A: 255}), 9)
	pv, err := PixelValues(tiles)
	require.NoError(t, err)
	require.Equal(t, []int{1, 3, TileSide, TileSide}, pv.Shape)
	require.Equal(t, tensor.Float32, pv.DType)

	values, err := pv.Float32s()
	require.NoError(t, err)
	plane := TileSide * TileSide
	p := (TileSide/2)*TileSide + TileSide/2
	assert.InDelta(t, 1.0, values[p], 0.05)
	assert.InDelta(t, -1.0, values[plane+p], 0.05)
	assert.InDelta(t, -1.0, values[2*plane+p], 0.05)

	_, err = PixelValues(nil)
	require.Error(t, err)
}

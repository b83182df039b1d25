package media

import (
	"bytes"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestImage creates a small 2x2 RGBA image.
func newTestImage() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.Black)
	img.Set(1, 0, color.White)
	img.Set(0, 1, color.Transparent)
	img.Set(1, 1, color.Transparent)
	return img
}

func TestStripJPEG(t *testing.T) {
	var src bytes.Buffer
	require.NoError(t, jpeg.Encode(&src, newTestImage(), nil))
	// APP1 segment carrying fake EXIF right after SOI
	exif := []byte{0xFF, 0xE1, 0x00, 0x0C, 'E', 'x', 'i', 'f', 0, 0, 'G', 'P', 'S', '!'}
	data := append(append([]byte{}, src.Bytes()[:2]...), append(exif, src.Bytes()[2:]...)...)

	out, err := StripMetadata(data, "image/jpeg")
	require.NoError(t, err)
	assert.False(t, bytes.Contains(out, []byte("GPS!")), "EXIF payload should be removed")

	_, err = jpeg.Decode(bytes.NewReader(out))
	require.NoError(t, err)
}

func TestStripPNG(t *testing.T) {
	var src bytes.Buffer
	require.NoError(t, png.Encode(&src, newTestImage()))

	out, err := StripMetadata(src.Bytes(), "image/png")
	require.NoError(t, err)
	img, err := png.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 2, 2), img.Bounds())
}

func TestStripGIFKeepsFrames(t *testing.T) {
	palette := color.Palette{color.Black, color.White}
	frames := []*image.Paletted{
		image.NewPaletted(image.Rect(0, 0, 2, 2), palette),
		image.NewPaletted(image.Rect(0, 0, 2, 2), palette),
	}
	var src bytes.Buffer
	require.NoError(t, gif.EncodeAll(&src, &gif.GIF{Image: frames, Delay: []int{10, 20}}))

	out, err := StripMetadata(src.Bytes(), "image/gif")
	require.NoError(t, err)
	g, err := gif.DecodeAll(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Len(t, g.Image, 2)
	assert.Equal(t, []int{10, 20}, g.Delay)
}

func TestStripPassesThroughOtherTypes(t *testing.T) {
	data := []byte("%PDF-1.7 not an image")
	out, err := StripMetadata(data, "application/pdf")
	require.NoError(t, err)
	assert.Equal(t, data, out)
	assert.False(t, Strippable("video/mp4"))
}

func TestStripCorruptImage(t *testing.T) {
	_, err := StripMetadata([]byte("garbage"), "image/png")
	assert.Error(t, err)
}

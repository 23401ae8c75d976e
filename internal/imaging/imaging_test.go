package imaging_test

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/adindex/adindex/internal/imaging"
)

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestNormalize_EmptyInput(t *testing.T) {
	out, err := imaging.Normalize(nil)
	require.NoError(t, err)
	require.Nil(t, out)

	out, err = imaging.Normalize([]byte{})
	require.NoError(t, err)
	require.Nil(t, out)
}

func TestNormalize_OpaquePNGRoundTrips(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			src.Set(x, y, color.RGBA{R: 200, G: 50, B: 50, A: 255})
		}
	}

	out, err := imaging.Normalize(encodePNG(t, src))
	require.NoError(t, err)
	require.NotEmpty(t, out)

	decoded, err := jpeg.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	require.Equal(t, src.Bounds(), decoded.Bounds())
}

func TestNormalize_TransparentPixelsFlattenToWhite(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 2, 2))
	// Fully transparent: a naive JPEG re-encode would otherwise have to
	// invent a color for these pixels.
	src.Set(0, 0, color.RGBA{R: 0, G: 0, B: 0, A: 0})
	src.Set(1, 0, color.RGBA{R: 0, G: 0, B: 0, A: 0})
	src.Set(0, 1, color.RGBA{R: 0, G: 0, B: 0, A: 0})
	src.Set(1, 1, color.RGBA{R: 0, G: 0, B: 0, A: 0})

	out, err := imaging.Normalize(encodePNG(t, src))
	require.NoError(t, err)

	decoded, err := jpeg.Decode(bytes.NewReader(out))
	require.NoError(t, err)

	r, g, b, _ := decoded.At(0, 0).RGBA()
	// JPEG quantization isn't exact; a flattened-to-white pixel should
	// still land very close to pure white.
	require.Greater(t, r, uint32(0xf000))
	require.Greater(t, g, uint32(0xf000))
	require.Greater(t, b, uint32(0xf000))
}

func TestNormalize_InvalidDataErrors(t *testing.T) {
	_, err := imaging.Normalize([]byte("not an image"))
	require.Error(t, err)
}

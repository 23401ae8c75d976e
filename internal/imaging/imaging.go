// Package imaging re-encodes ad screenshots captured by the
// HeadlessBrowser into the JPEG form the Store persists: quality 85,
// RGB, no alpha channel.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"

	_ "image/gif"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// Quality is the JPEG encode quality used for every stored screenshot.
const Quality = 85

// Normalize decodes raw (any format the browser might hand back: PNG,
// GIF, WebP, BMP, or already JPEG) and re-encodes it as a quality-85 RGB
// JPEG. A nil or empty input returns nil, matching the "missing
// screenshot becomes empty bytes" contract.
func Normalize(raw []byte) ([]byte, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	src, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode screenshot: %w", err)
	}

	rgb := toRGB(src)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, rgb, &jpeg.Options{Quality: Quality}); err != nil {
		return nil, fmt.Errorf("encode screenshot: %w", err)
	}
	return buf.Bytes(), nil
}

// toRGB flattens src onto an opaque white background so the JPEG encoder
// (which has no alpha channel) never has to guess what a transparent
// pixel should look like.
func toRGB(src image.Image) image.Image {
	if rgba, ok := src.(*image.RGBA); ok && !hasAlpha(rgba) {
		return rgba
	}

	bounds := src.Bounds()
	dst := image.NewRGBA(bounds)
	draw.Draw(dst, bounds, image.White, image.Point{}, draw.Src)
	draw.Draw(dst, bounds, src, bounds.Min, draw.Over)
	return dst
}

func hasAlpha(img *image.RGBA) bool {
	for i := 3; i < len(img.Pix); i += 4 {
		if img.Pix[i] != 0xff {
			return true
		}
	}
	return false
}

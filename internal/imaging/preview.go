// Package imaging builds square thumbnails for uploaded images.
package imaging

import (
	"bytes"
	"errors"
	"image"
	stddraw "image/draw"
	_ "image/jpeg"
	"image/png"
	"net/http"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/webp"
)

const (
	DefaultSize = 256
	MIMEType    = "image/png"

	// MaxPixels caps width*height so a small file cannot declare a
	// canvas that exhausts memory when decoded.
	MaxPixels = 40_000_000
)

var (
	ErrNotImage = errors.New("not a png, jpeg or webp image")
	ErrTooLarge = errors.New("image dimensions too large")
)

// IsImage reports whether raw sniffs as a format Preview can decode.
func IsImage(raw []byte) bool {
	switch http.DetectContentType(raw) {
	case "image/png", "image/jpeg", "image/webp":
		return true
	default:
		return false
	}
}

// Preview crops the centre square of raw and scales it to size×size PNG.
func Preview(raw []byte, size int) ([]byte, error) {
	if !IsImage(raw) {
		return nil, ErrNotImage
	}
	if size <= 0 {
		size = DefaultSize
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		webpCfg, cfgErr := webp.DecodeConfig(bytes.NewReader(raw))
		if cfgErr != nil {
			return nil, errors.New("unable to decode image")
		}
		cfg = webpCfg
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, errors.New("invalid image dimensions")
	}
	if int64(cfg.Width)*int64(cfg.Height) > MaxPixels {
		return nil, ErrTooLarge
	}

	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		decoded, decodeErr := webp.Decode(bytes.NewReader(raw))
		if decodeErr != nil {
			return nil, errors.New("unable to decode image")
		}
		img = decoded
	}

	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()
	if width <= 0 || height <= 0 {
		return nil, errors.New("invalid image dimensions")
	}

	side := min(width, height)
	cropRect := image.Rect(0, 0, side, side)
	square := image.NewRGBA(cropRect)
	srcPoint := image.Point{X: bounds.Min.X + (width-side)/2, Y: bounds.Min.Y + (height-side)/2}
	stddraw.Draw(square, cropRect, img, srcPoint, stddraw.Src)

	scaled := image.NewRGBA(image.Rect(0, 0, size, size))
	xdraw.CatmullRom.Scale(scaled, scaled.Bounds(), square, square.Bounds(), xdraw.Over, nil)

	var out bytes.Buffer
	if err := png.Encode(&out, scaled); err != nil {
		return nil, errors.New("unable to encode preview")
	}
	return out.Bytes(), nil
}

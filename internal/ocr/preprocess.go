// internal/ocr/preprocess.go
package ocr

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif" // register gif
	"image/jpeg"
	"image/png"

	"golang.org/x/image/draw"
)

const (
	// minOCRWidth approximates a 300 DPI scan of a phone-sized slip.
	minOCRWidth = 1600
	// maxOCRHeight bounds the upscaled output together with minOCRWidth.
	maxOCRHeight = 6000
	// maxSourcePixels is the largest image decoded at all.
	maxSourcePixels = 40_000_000
)

var ErrImageTooLarge = errors.New("image exceeds pixel budget")

// Preprocess upscales narrow images so small glyphs survive recognition. The
// result fits a minOCRWidth x maxOCRHeight box; images that would not grow
// are returned unchanged. Undecodable input is returned unchanged with an
// empty content type.
func Preprocess(data []byte) ([]byte, string, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return data, "", nil
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || int64(cfg.Width)*int64(cfg.Height) > maxSourcePixels {
		return data, "image/" + format, fmt.Errorf("%w: %dx%d", ErrImageTooLarge, cfg.Width, cfg.Height)
	}

	w, h, ok := upscaleBox(cfg.Width, cfg.Height)
	if !ok {
		return data, "image/" + format, nil
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return data, "", nil
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Over, nil)

	var buf bytes.Buffer
	if format == "jpeg" {
		err = jpeg.Encode(&buf, dst, &jpeg.Options{Quality: 95})
	} else {
		format = "png"
		err = png.Encode(&buf, dst)
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to encode image: %w", err)
	}
	return buf.Bytes(), "image/" + format, nil
}

// upscaleBox scales w x h up towards minOCRWidth without exceeding
// maxOCRHeight. It reports false when the image would not grow.
func upscaleBox(w, h int) (int, int, bool) {
	if w >= minOCRWidth {
		return w, h, false
	}

	outW := minOCRWidth
	outH := int(int64(h) * minOCRWidth / int64(w))
	if outH > maxOCRHeight {
		outW = int(int64(w) * maxOCRHeight / int64(h))
		outH = maxOCRHeight
	}
	if outW <= w {
		return w, h, false
	}
	return outW, outH, true
}

package compress

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"net/http"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// maxPixels bounds the decoded buffer (about 400 MB of RGBA).
const maxPixels = 100_000_000

var (
	ErrDecode   = errors.New("decode image")
	ErrTooLarge = errors.New("image dimensions too large")
)

func decode(data []byte) (image.Image, string, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, "", fmt.Errorf("%w: zero dimensions", ErrDecode)
	}
	if int64(cfg.Width)*int64(cfg.Height) > maxPixels {
		return nil, "", fmt.Errorf("%w: %dx%d", ErrTooLarge, cfg.Width, cfg.Height)
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return img, format, nil
}

// DetectContentType sniffs the MIME type from the leading bytes.
func DetectContentType(data []byte) string {
	if len(data) > 512 {
		data = data[:512]
	}
	ct := http.DetectContentType(data)
	// DetectContentType has no TIFF signature.
	if ct == "application/octet-stream" && len(data) >= 4 {
		if bytes.HasPrefix(data, []byte("II*\x00")) || bytes.HasPrefix(data, []byte("MM\x00*")) {
			return "image/tiff"
		}
	}
	return ct
}

// HasEXIF reports whether a JPEG stream carries an APP1 Exif segment.
func HasEXIF(data []byte) bool {
	if len(data) < 4 || data[0] != 0xFF || data[1] != 0xD8 {
		return false
	}
	i := 2
	for i+4 <= len(data) {
		if data[i] != 0xFF {
			return false
		}
		marker := data[i+1]
		if marker == 0xDA || marker == 0xD9 {
			return false
		}
		length := int(data[i+2])<<8 | int(data[i+3])
		if length < 2 {
			return false
		}
		payload := data[i+4:]
		if marker == 0xE1 && len(payload) >= 6 && bytes.Equal(payload[:6], []byte("Exif\x00\x00")) {
			return true
		}
		i += 2 + length
	}
	return false
}

// Thumbnail renders a small JPEG data URL for display only.
func Thumbnail(img image.Image, edge int) (string, error) {
	small := resize(flatten(img), edge, draw.ApproxBiLinear)
	out, err := encodeJPEG(small, 70)
	if err != nil {
		return "", fmt.Errorf("thumbnail: %w", err)
	}
	return DataURL(ContentTypeJPEG, out), nil
}

// DataURL wraps data in a base64 data URL.
func DataURL(contentType string, data []byte) string {
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

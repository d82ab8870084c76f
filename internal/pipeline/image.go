package pipeline

import (
	"bytes"
	"fmt"
	"image/gif"
	"image/png"

	"github.com/gabriel-vasile/mimetype"
)

// NormalizeImage returns image bytes in a format accepted by OCR and vision
// APIs together with their MIME type. GIFs are re-encoded as PNG (first frame).
func NormalizeImage(data []byte) ([]byte, string, error) {
	mime := mimetype.Detect(data)

	switch {
	case mime.Is("image/png"), mime.Is("image/jpeg"):
		return data, mime.String(), nil
	case mime.Is("image/gif"):
		img, err := gif.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, "", fmt.Errorf("failed to decode gif: %w", err)
		}
		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			return nil, "", fmt.Errorf("failed to encode png: %w", err)
		}
		return buf.Bytes(), "image/png", nil
	default:
		return nil, "", fmt.Errorf("unsupported image type %s", mime.String())
	}
}

package pipeline

import (
	"bytes"
	"image"
	"image/color"
	"image/gif"
	"image/png"
	"testing"

	"github.com/stretchr/testify/require"
)

func pngImage(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.RGBA{R: 255, A: 255})

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func gifImage(t *testing.T) []byte {
	t.Helper()
	img := image.NewPaletted(image.Rect(0, 0, 4, 4), color.Palette{color.Black, color.White})
	img.SetColorIndex(2, 2, 1)

	var buf bytes.Buffer
	require.NoError(t, gif.Encode(&buf, img, nil))
	return buf.Bytes()
}

const validReply = `{
	"verdict": false,
	"category": "1",
	"g_per_100g": {"proteins": 6.2, "fats": 31, "carbohydrates": 55},
	"percent_of_daily_norm": {"proteins": 8, "fats": 44, "carbohydrates": 20},
	"requirements": [
		{"criterion": "Total sugars", "verdict": false},
		{"criterion": "Non-sugar sweeteners", "verdict": true}
	]
}`

package imagedata

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 100, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func jpegBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h)), nil))
	return buf.Bytes()
}

func TestEncode(t *testing.T) {
	assert.Equal(t, "data:image/png;base64,AQID", Encode([]byte{1, 2, 3}, "image/png"))
	assert.Equal(t, "data:image/jpeg;base64,", Encode(nil, "image/jpeg"))
}

func TestValidateMIME(t *testing.T) {
	tests := []struct {
		mimeType string
		wantErr  bool
	}{
		{"image/png", false},
		{"image/jpeg", false},
		{"image/webp", false},
		{"IMAGE/GIF", false},
		{"image/svg+xml; charset=utf-8", false},
		{"application/pdf", true},
		{"text/plain; charset=utf-8", true},
		{"image/", true},
		{"", true},
	}

	for _, tt := range tests {
		t.Run(tt.mimeType, func(t *testing.T) {
			err := ValidateMIME(tt.mimeType)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrNotImage)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDetectMIME(t *testing.T) {
	webp := append([]byte("RIFF\x00\x00\x00\x00WEBP"), make([]byte, 16)...)

	tests := []struct {
		name string
		data []byte
		want string
	}{
		{"png", pngBytes(t, 2, 2), "image/png"},
		{"jpeg", jpegBytes(t, 2, 2), "image/jpeg"},
		{"webp", webp, "image/webp"},
		{"text", []byte("hello, not an image"), "text/plain; charset=utf-8"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectMIME(tt.data))
		})
	}
}

func TestDownscale_WideImageIsResized(t *testing.T) {
	data := pngBytes(t, 64, 32)

	out, err := Downscale(data, "image/png", 16)
	require.NoError(t, err)

	cfg, format, err := image.DecodeConfig(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, "png", format)
	assert.Equal(t, 16, cfg.Width)
	assert.Equal(t, 8, cfg.Height)
}

func TestDownscale_JPEGKeepsFormat(t *testing.T) {
	out, err := Downscale(jpegBytes(t, 40, 20), "image/jpeg", 10)
	require.NoError(t, err)

	cfg, format, err := image.DecodeConfig(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
	assert.Equal(t, 10, cfg.Width)
}

func TestDownscale_PassThrough(t *testing.T) {
	narrow := pngBytes(t, 8, 8)

	out, err := Downscale(narrow, "image/png", 16)
	require.NoError(t, err)
	assert.Equal(t, narrow, out)

	out, err = Downscale(narrow, "image/png", 0)
	require.NoError(t, err)
	assert.Equal(t, narrow, out)

	gifish := []byte("GIF89a not really")
	out, err = Downscale(gifish, "image/gif", 16)
	require.NoError(t, err)
	assert.Equal(t, gifish, out)
}

func TestDownscale_CorruptImage(t *testing.T) {
	_, err := Downscale([]byte("\x89PNG broken"), "image/png", 16)
	assert.Error(t, err)
}

func TestParse(t *testing.T) {
	data := []byte{0xff, 0xd8, 0xff, 0x00}

	mimeType, got, err := Parse(Encode(data, "image/jpeg"))
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", mimeType)
	assert.Equal(t, data, got)
}

func TestParse_Invalid(t *testing.T) {
	for _, in := range []string{
		"",
		"image/png;base64,AAAA",
		"data:image/png;base64",
		"data:image/png,AAAA",
		"data:;base64,AAAA",
		"data:image/png;base64,***",
	} {
		_, _, err := Parse(in)
		assert.ErrorIs(t, err, ErrInvalidDataURL, in)
	}
}

func TestHash(t *testing.T) {
	assert.Equal(t,
		"e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		Hash(nil))
	assert.Equal(t, Hash([]byte("a")), Hash([]byte("a")))
	assert.NotEqual(t, Hash([]byte("a")), Hash([]byte("b")))
}

// Package imagedata converts uploaded image bytes into base64 data URLs and
// back, and prepares them for the completion endpoint.
package imagedata

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"net/http"
	"strings"

	"github.com/nfnt/resize"
)

// ErrNotImage is returned when the declared media type is not an image.
var ErrNotImage = errors.New("media type is not an image")

// ErrInvalidDataURL is returned by Parse for anything that is not a base64 data URL.
var ErrInvalidDataURL = errors.New("invalid base64 data URL")

// Encode returns data as a "data:<mime>;base64,<payload>" URL.
func Encode(data []byte, mimeType string) string {
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// ValidateMIME accepts any image/* media type.
func ValidateMIME(mimeType string) error {
	mt := strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	if !strings.HasPrefix(mt, "image/") || len(mt) == len("image/") {
		return fmt.Errorf("%w: %q", ErrNotImage, mimeType)
	}
	return nil
}

// isWebP reports whether data is a RIFF container with "WEBP" at offset 8.
func isWebP(data []byte) bool {
	return len(data) >= 12 &&
		string(data[0:4]) == "RIFF" &&
		string(data[8:12]) == "WEBP"
}

// DetectMIME sniffs the media type of data. WebP is checked first because
// http.DetectContentType does not recognise it.
func DetectMIME(data []byte) string {
	if isWebP(data) {
		return "image/webp"
	}
	return http.DetectContentType(data)
}

// Downscale shrinks JPEG and PNG images wider than maxWidth, keeping the
// aspect ratio. Other formats, narrower images and maxWidth 0 are returned
// unchanged.
func Downscale(data []byte, mimeType string, maxWidth uint) ([]byte, error) {
	if maxWidth == 0 {
		return data, nil
	}
	if mimeType != "image/jpeg" && mimeType != "image/png" {
		return data, nil
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image config: %w", err)
	}
	if uint(cfg.Width) <= maxWidth {
		return data, nil
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	img = resize.Resize(maxWidth, 0, img, resize.Lanczos3)

	var buf bytes.Buffer
	switch mimeType {
	case "image/jpeg":
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90})
	case "image/png":
		err = png.Encode(&buf, img)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	return buf.Bytes(), nil
}

// Parse splits a base64 data URL into its media type and decoded bytes.
func Parse(dataURL string) (string, []byte, error) {
	rest, ok := strings.CutPrefix(dataURL, "data:")
	if !ok {
		return "", nil, ErrInvalidDataURL
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", nil, ErrInvalidDataURL
	}
	mimeType, ok := strings.CutSuffix(meta, ";base64")
	if !ok || mimeType == "" {
		return "", nil, ErrInvalidDataURL
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrInvalidDataURL, err)
	}
	return mimeType, data, nil
}

// Hash returns the hex SHA-256 of data. It keys the recipe history.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}


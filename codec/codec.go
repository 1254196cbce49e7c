// Package codec converts image bytes to and from the text forms used by the
// restoration request and the browser.
package codec

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	_ "golang.org/x/image/webp"
)

// Encode reads the whole image and returns its base64 text. No validation of
// the content is done; whatever bytes the reader yields are encoded.
func Encode(r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read image: %w", err)
	}
	return EncodeBytes(data), nil
}

// EncodeBytes is Encode for data already in memory.
func EncodeBytes(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// DecodeBytes reverses Encode.
func DecodeBytes(text string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(text)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return data, nil
}

// Decode turns encoded image text into a data URI a browser can render directly.
func Decode(text, mimeType string) string {
	return "data:" + mimeType + ";base64," + text
}

// DataURI encodes raw bytes straight into a data URI.
func DataURI(data []byte, mimeType string) string {
	return Decode(EncodeBytes(data), mimeType)
}

// IsImage reports whether the declared MIME type names an image.
func IsImage(mimeType string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(mimeType)), "image/")
}

// Sniff detects the MIME type from content, for uploads whose type was not declared.
func Sniff(data []byte) string {
	mtype := mimetype.Detect(data).String()
	if i := strings.IndexByte(mtype, ';'); i >= 0 {
		mtype = mtype[:i]
	}
	return mtype
}

// Dimensions decodes only the image header.
func Dimensions(data []byte) (int, int, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, fmt.Errorf("decode image header: %w", err)
	}
	return cfg.Width, cfg.Height, nil
}

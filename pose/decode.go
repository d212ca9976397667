package pose

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"strings"

	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"
)

var errEmptyFrame = errors.New("empty frame payload")

// DecodeFrame decodes a base64 frame payload into an image. Browser
// clients send data URIs ("data:image/jpeg;base64,...."); the prefix
// up to the first comma is stripped before decoding. JPEG, PNG and
// WebP payloads are accepted.
func DecodeFrame(payload string) (image.Image, error) {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return nil, errEmptyFrame
	}
	if strings.HasPrefix(payload, "data:") {
		_, rest, found := strings.Cut(payload, ",")
		if !found {
			return nil, errors.New("malformed data URI")
		}
		payload = rest
	}

	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		raw, err = base64.RawStdEncoding.DecodeString(payload)
		if err != nil {
			return nil, fmt.Errorf("base64 decode: %w", err)
		}
	}
	if len(raw) == 0 {
		return nil, errEmptyFrame
	}

	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("image decode: %w", err)
	}
	return img, nil
}

package detect

import (
	"bytes"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"
	"time"

	"yogai/pose"
)

// noseSet builds a landmark set whose nose x coordinate drives the
// hand-built test artifact: positive x classifies C, negative L.
func noseSet(noseX float64) pose.Set {
	var set pose.Set
	for i := range set {
		set[i] = pose.Landmark{X: 0, Y: 0.5, Z: 0, Visibility: 0.95}
	}
	set[pose.Nose].X = noseX
	return set
}

func testTime() time.Time {
	return time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
}

func asConfigError(err error, target **ConfigError) bool {
	return errors.As(err, target)
}

// encodeFrame returns a valid base64 PNG payload.
func encodeFrame(t *testing.T) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.RGBA{R: 200, G: 100, B: 50, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode frame: %v", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

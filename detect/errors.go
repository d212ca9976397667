// Package detect contains the frame-to-verdict classification
// pipeline: pose detectors built from trained artifacts, per-session
// stage tracking and the orchestrator that turns an encoded frame
// into a structured verdict.
package detect

import (
	"errors"
	"fmt"
)

// ErrNoLandmarks marks a frame in which no body could be found. It is
// a benign per-frame outcome, not a fault.
var ErrNoLandmarks = errors.New("no pose detected in frame")

// DecodeError reports a frame payload that could not be turned into
// an image. Always reported to the caller, never retried.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("invalid image data: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// ConfigError reports a pose whose detector cannot be constructed,
// usually because its model artifact is missing or unloadable. It is
// fatal for that pose: the pose must not be offered rather than
// silently fall back.
type ConfigError struct {
	Pose string
	Err  error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("pose %q configuration: %v", e.Pose, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// IsDecodeError reports whether err stems from an undecodable frame.
func IsDecodeError(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}

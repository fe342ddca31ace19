package media

import "errors"

var (
	// ErrLoadTimeout means no load signal arrived within the load timeout.
	ErrLoadTimeout = errors.New("media load timed out")
	// ErrLoadFailed means the resource reported a load error.
	ErrLoadFailed = errors.New("media failed to load")
	// ErrAutoplayBlocked is the platform refusing unmuted playback.
	ErrAutoplayBlocked = errors.New("autoplay blocked")
	// ErrPlaybackRejected is a play rejection that cannot be recovered.
	ErrPlaybackRejected = errors.New("playback rejected")
	// ErrPlaybackFailed is a runtime error while the source was ready.
	ErrPlaybackFailed = errors.New("playback failed")
	// ErrNoSource is returned by operations that need an assigned source.
	ErrNoSource = errors.New("no media source assigned")
)

// ErrorKind classifies a source-level error for presentation and metrics.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrLoadTimeout):
		return "load_timeout"
	case errors.Is(err, ErrLoadFailed):
		return "load_error"
	case errors.Is(err, ErrPlaybackRejected):
		return "playback_rejected"
	case errors.Is(err, ErrPlaybackFailed):
		return "playback_error"
	default:
		return "unknown"
	}
}

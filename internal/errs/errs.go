// Package errs defines the small, discriminated error taxonomy shared by
// every pipeline component. Components do not return raw library errors
// across their public boundary; they wrap the underlying cause in one of the
// Kinds below so callers can branch with errors.Is. (The size-only
// constructors framepool.New, spscqueue.New and jitter.New panic on invalid
// arguments instead of returning an error.)
package errs

import "errors"

// Kind is a sentinel identifying a class of failure. Wrap it with fmt.Errorf
// ("%w: detail: %w", Kind, cause) or use New/Wrap below.
type Kind error

var (
	// InvalidConfig: caller supplied an impossible configuration. Fatal at
	// construct/open time.
	InvalidConfig Kind = errors.New("invalid config")

	// IoError: file open/read/write/sync/mkdir failure. Not retried.
	IoError Kind = errors.New("io error")

	// NetworkError: socket create/bind/recv failure.
	NetworkError Kind = errors.New("network error")

	// ResourceExhaustion: frame pool empty or queue full. Expected
	// back-pressure, never surfaced as a session-ending error.
	ResourceExhaustion Kind = errors.New("resource exhausted")

	// EncodeError: the Opus encoder rejected input. Fatal for the sink.
	EncodeError Kind = errors.New("encode error")

	// ClockUnavailable: PTP source not readable; now_ns() degrades to 0.
	ClockUnavailable Kind = errors.New("clock unavailable")

	// ProtocolViolation: RTP parse failure or unsupported payload.
	ProtocolViolation Kind = errors.New("protocol violation")

	// SizeLimit: a sink write would push the file past its format's size
	// ceiling (2^32-1 bytes for RIFF/WAVE). The write is rejected; the file
	// remains closable up to the last successful write.
	SizeLimit Kind = errors.New("size limit")
)

// Wrap ties a Kind to a specific cause while preserving errors.Is(err, kind)
// and errors.Unwrap(err) == cause.
func Wrap(kind Kind, detail string, cause error) error {
	if cause == nil {
		return &kindErr{kind: kind, detail: detail}
	}
	return &kindErr{kind: kind, detail: detail, cause: cause}
}

// New builds a Kind error with a detail message and no wrapped cause.
func New(kind Kind, detail string) error {
	return &kindErr{kind: kind, detail: detail}
}

type kindErr struct {
	kind   Kind
	detail string
	cause  error
}

func (e *kindErr) Error() string {
	if e.cause != nil {
		return e.detail + ": " + e.cause.Error()
	}
	return e.detail
}

func (e *kindErr) Unwrap() error {
	if e.cause != nil {
		return e.cause
	}
	return e.kind
}

func (e *kindErr) Is(target error) bool {
	return target == e.kind
}

package dist

import (
	"context"
	"net"
	"os"

	"github.com/pkg/errors"

	"github.com/ergo-services/erldist/lib"
)

var (
	// ErrMalformed is returned when a handshake message violates its layout.
	ErrMalformed = errors.New("malformed handshake message")

	// ErrRejected is returned when the peer declines the connection or
	// answers the Alive status with false.
	ErrRejected = errors.New("handshake rejected")

	// ErrRaceLost is returned when a simultaneous connection attempt to the
	// same peer won the tie-break and this attempt was abandoned.
	ErrRaceLost = errors.New("simultaneous connection race lost")

	// ErrAuthFailed is returned when a challenge digest does not match.
	ErrAuthFailed = errors.New("handshake digest mismatch")

	// ErrFrameTooLarge is returned when a message does not fit one frame.
	ErrFrameTooLarge = lib.ErrTooLarge
)

func malformed(format string, args ...interface{}) error {
	return errors.Wrapf(ErrMalformed, format, args...)
}

// Outcome classifies the result of a handshake attempt for logs and metrics.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrRaceLost):
		return "race_lost"
	case errors.Is(err, ErrMalformed):
		return "malformed"
	case errors.Is(err, ErrRejected):
		return "rejected"
	case errors.Is(err, ErrAuthFailed):
		return "auth_failed"
	case errors.Is(err, os.ErrDeadlineExceeded), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return "timeout"
	}
	return "transport"
}

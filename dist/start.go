package dist

import (
	"context"
	"net"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/outofforest/logger"
)

// Start runs the handshake from the connecting side. Cancelling ctx abandons
// the handshake at the next read or write; if it was cancelled with the
// ErrRaceLost cause, ErrRaceLost is returned. ctx must carry a logger
// (see logger.WithLogger).
func (h *Handshake) Start(ctx context.Context, conn net.Conn) (Result, error) {
	var result Result

	log := logger.Get(ctx).With(zap.Stringer("remote", conn.RemoteAddr()))
	s := newSession(ctx, conn, h.options.Timeout)
	defer s.close()

	if err := s.write(NameRequest{
		HighVersion: h.options.HighVersion,
		LowVersion:  h.options.LowVersion,
		Flags:       h.options.Flags,
		Name:        h.options.Name,
	}); err != nil {
		return result, err
	}

	body, err := s.read()
	if err != nil {
		return result, err
	}
	status, err := ParseStatus(body)
	if err != nil {
		return result, err
	}
	result.Status = status
	log.Debug("Status received", zap.Stringer("status", status))

	switch status {
	case StatusAlive:
		if err := s.write(StatusReply(h.options.ReplaceAlive)); err != nil {
			return result, err
		}
		if !h.options.ReplaceAlive {
			return result, errors.Wrap(ErrRejected, "peer has an alive connection to us")
		}
	case StatusNok:
		return result, errors.WithStack(ErrRaceLost)
	case StatusNotAllowed:
		return result, errors.Wrap(ErrRejected, "not allowed")
	}

	body, err = s.read()
	if err != nil {
		return result, err
	}
	req, err := ParseChallengeRequest(body)
	if err != nil {
		return result, err
	}
	result.PeerName = req.Name
	result.PeerFlags = req.Flags
	result.PeerHighVersion = req.HighVersion
	result.PeerLowVersion = req.LowVersion

	challenge, err := GenChallenge()
	if err != nil {
		return result, err
	}
	if err := s.write(ChallengeReply{
		Challenge: challenge,
		Digest:    GenDigest(h.options.Cookie, req.Challenge),
	}); err != nil {
		return result, err
	}

	body, err = s.read()
	if err != nil {
		return result, err
	}
	ack, err := ParseChallengeAck(body)
	if err != nil {
		return result, err
	}
	if !VerifyDigest(GenDigest(h.options.Cookie, challenge), ack.Digest) {
		return result, errors.WithStack(ErrAuthFailed)
	}

	log.Debug("Handshake completed", zap.String("peer", req.Name))
	return result, nil
}

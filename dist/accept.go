package dist

import (
	"context"
	"net"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/outofforest/logger"
)

// Accept drives an incoming connection through the handshake:
// name, status, challenge, challenge reply and challenge ack. The connection
// is neither closed nor installed anywhere, that is up to the caller.
// ctx must carry a logger (see logger.WithLogger).
func (h *Handshake) Accept(ctx context.Context, conn net.Conn, arbiter Arbiter) (Result, error) {
	var result Result

	log := logger.Get(ctx).With(zap.Stringer("remote", conn.RemoteAddr()))
	s := newSession(ctx, conn, h.options.Timeout)
	defer s.close()

	body, err := s.read()
	if err != nil {
		return result, err
	}
	name, err := ParseNameRequest(body)
	if err != nil {
		return result, err
	}
	result.PeerName = name.Name
	result.PeerFlags = name.Flags
	result.PeerHighVersion = name.HighVersion
	result.PeerLowVersion = name.LowVersion
	log = log.With(zap.String("peer", name.Name))
	log.Debug("Name received", zap.Stringer("flags", name.Flags))

	status := arbiter.Decide(h.options.Name, name.Name)
	result.Status = status
	if err := s.write(status); err != nil {
		return result, err
	}
	log.Debug("Status sent", zap.Stringer("status", status))

	switch status {
	case StatusAlive:
		body, err := s.read()
		if err != nil {
			return result, err
		}
		if !ParseStatusReply(body) {
			return result, errors.Wrap(ErrRejected, "peer keeps its alive connection")
		}
		if arbiter.RemoveActive(name.Name) {
			log.Debug("Alive connection replaced")
		}
	case StatusNok:
		return result, errors.Wrap(ErrRaceLost, "outgoing connection to the peer wins")
	case StatusNotAllowed:
		return result, errors.Wrap(ErrRejected, "peer is not allowed")
	}

	challenge, err := GenChallenge()
	if err != nil {
		return result, err
	}
	if err := s.write(ChallengeRequest{
		HighVersion: h.options.HighVersion,
		LowVersion:  h.options.LowVersion,
		Flags:       h.options.Flags,
		Challenge:   challenge,
		Name:        h.options.Name,
	}); err != nil {
		return result, err
	}

	body, err = s.read()
	if err != nil {
		return result, err
	}
	reply, err := ParseChallengeReply(body)
	if err != nil {
		return result, err
	}

	if !VerifyDigest(GenDigest(h.options.Cookie, challenge), reply.Digest) {
		return result, errors.WithStack(ErrAuthFailed)
	}

	// there is no confirmation of the ack, the peer may still drop the connection
	if err := s.write(ChallengeAck{Digest: GenDigest(h.options.Cookie, reply.Challenge)}); err != nil {
		return result, err
	}
	log.Debug("Handshake accepted")
	return result, nil
}

package dist

import (
	"encoding/binary"
	"strings"

	"github.com/ergo-services/erldist/lib"
)

// Message tags. NameRequest and ChallengeRequest share the 'n' tag, the
// position in the exchange tells them apart.
const (
	TagName      byte = 'n'
	TagStatus    byte = 's'
	TagChallenge byte = 'n'
	TagReply     byte = 'r'
	TagAck       byte = 'a'
)

const (
	// 'n' + 2 (hi) + 2 (lo) + 2 (flags) + 3 (name),
	// the same bytes hold 4 (flags) + 1 (name) of ReceiveName
	nameRequestMinLength = 10
	// 'n' + 2 (hi) + 2 (lo) + 2 (flags) + 4 (challenge)
	challengeRequestMinLength = 11
	// 'r' + 4 (challenge) + 16 (digest)
	challengeReplyLength = 21
	// 'a' + 16 (digest)
	challengeAckLength = 17
)

// Message is a handshake message that knows its own body layout.
type Message interface {
	// Encode appends the message body (tag byte and payload) to b.
	Encode(b *lib.Buffer)
}

// Marshal returns the body of m without the length header. The handshake
// itself frames messages with WriteMessage, Marshal serves callers that
// need the bare body.
func Marshal(m Message) []byte {
	b := lib.TakeBuffer()
	defer lib.ReleaseBuffer(b)
	m.Encode(b)
	return append([]byte(nil), b.B...)
}

// NameRequest is the first message of the handshake sent by the connecting
// node. The flags travel as 16 bits, so only the lower half of Flags survives.
type NameRequest struct {
	HighVersion uint16
	LowVersion  uint16
	Flags       Flags
	Name        string
}

// Encode
func (m NameRequest) Encode(b *lib.Buffer) {
	b.AppendByte(TagName)
	b.AppendUint16(m.HighVersion)
	b.AppendUint16(m.LowVersion)
	b.AppendUint16(uint16(m.Flags))
	b.AppendString(m.Name)
}

// ParseNameRequest
func ParseNameRequest(body []byte) (NameRequest, error) {
	if len(body) < nameRequestMinLength {
		return NameRequest{}, malformed("name request is too short (%d bytes)", len(body))
	}
	if body[0] != TagName {
		return NameRequest{}, malformed("unexpected tag %q instead of name request", body[0])
	}
	return NameRequest{
		HighVersion: binary.BigEndian.Uint16(body[1:3]),
		LowVersion:  binary.BigEndian.Uint16(body[3:5]),
		Flags:       Flags(binary.BigEndian.Uint16(body[5:7])),
		Name:        string(body[7:]),
	}, nil
}

// ReceiveName is the variant of the name message carrying 32-bit flags.
// It is a codec only: Accept and Start always exchange NameRequest, the
// two share the tag and can't be told apart on the wire.
type ReceiveName struct {
	HighVersion uint16
	LowVersion  uint16
	Flags       Flags
	Name        string
}

// Encode
func (m ReceiveName) Encode(b *lib.Buffer) {
	b.AppendByte(TagName)
	b.AppendUint16(m.HighVersion)
	b.AppendUint16(m.LowVersion)
	b.AppendUint32(uint32(m.Flags))
	b.AppendString(m.Name)
}

// ParseReceiveName
func ParseReceiveName(body []byte) (ReceiveName, error) {
	if len(body) < nameRequestMinLength {
		return ReceiveName{}, malformed("receive name is too short (%d bytes)", len(body))
	}
	if body[0] != TagName {
		return ReceiveName{}, malformed("unexpected tag %q instead of receive name", body[0])
	}
	return ReceiveName{
		HighVersion: binary.BigEndian.Uint16(body[1:3]),
		LowVersion:  binary.BigEndian.Uint16(body[3:5]),
		Flags:       Flags(binary.BigEndian.Uint32(body[5:9])),
		Name:        string(body[9:]),
	}, nil
}

// Status is the answer of the accepting node to a name request.
type Status int

const (
	StatusAlive Status = iota + 1
	StatusNok
	StatusNotAllowed
	StatusOk
	StatusOkSimultaneous
)

var statusTokens = map[Status]string{
	StatusAlive:          "alive",
	StatusNok:            "nok",
	StatusNotAllowed:     "not_allowed",
	StatusOk:             "ok",
	StatusOkSimultaneous: "ok_simultaneous",
}

// String returns the wire token of the status.
func (s Status) String() string {
	return statusTokens[s]
}

// Proceed reports whether the handshake goes on after this status.
func (s Status) Proceed() bool {
	return s == StatusOk || s == StatusOkSimultaneous
}

// Encode
func (s Status) Encode(b *lib.Buffer) {
	b.AppendByte(TagStatus)
	b.AppendString(s.String())
}

// ParseStatus
func ParseStatus(body []byte) (Status, error) {
	if len(body) < 2 {
		return 0, malformed("status is too short (%d bytes)", len(body))
	}
	if body[0] != TagStatus {
		return 0, malformed("unexpected tag %q instead of status", body[0])
	}
	token := string(body[1:])
	for s, t := range statusTokens {
		if t == token {
			return s, nil
		}
	}
	return 0, malformed("unknown status %q", token)
}

// StatusReply is the answer of the connecting node to the Alive status:
// true to replace the existing connection, false to give up.
type StatusReply bool

// Encode
func (r StatusReply) Encode(b *lib.Buffer) {
	if r {
		b.AppendString("true")
		return
	}
	b.AppendString("false")
}

// ParseStatusReply returns true only for a boolean "true" string. Anything
// else, including garbage, means false.
func ParseStatusReply(body []byte) StatusReply {
	return StatusReply(strings.EqualFold(strings.TrimSpace(string(body)), "true"))
}

// ChallengeRequest is sent by the accepting node once the status allows the
// handshake to go on.
type ChallengeRequest struct {
	HighVersion uint16
	LowVersion  uint16
	Flags       Flags
	Challenge   uint32
	Name        string
}

// Encode
func (m ChallengeRequest) Encode(b *lib.Buffer) {
	b.AppendByte(TagChallenge)
	b.AppendUint16(m.HighVersion)
	b.AppendUint16(m.LowVersion)
	b.AppendUint16(uint16(m.Flags))
	b.AppendUint32(m.Challenge)
	b.AppendString(m.Name)
}

// ParseChallengeRequest
func ParseChallengeRequest(body []byte) (ChallengeRequest, error) {
	if len(body) < challengeRequestMinLength {
		return ChallengeRequest{}, malformed("challenge is too short (%d bytes)", len(body))
	}
	if body[0] != TagChallenge {
		return ChallengeRequest{}, malformed("unexpected tag %q instead of challenge", body[0])
	}
	return ChallengeRequest{
		HighVersion: binary.BigEndian.Uint16(body[1:3]),
		LowVersion:  binary.BigEndian.Uint16(body[3:5]),
		Flags:       Flags(binary.BigEndian.Uint16(body[5:7])),
		Challenge:   binary.BigEndian.Uint32(body[7:11]),
		Name:        string(body[11:]),
	}, nil
}

// ChallengeReply carries the connecting node's own challenge and its proof
// of the shared cookie against the challenge it received.
type ChallengeReply struct {
	Challenge uint32
	Digest    Digest
}

// Encode
func (m ChallengeReply) Encode(b *lib.Buffer) {
	b.AppendByte(TagReply)
	b.AppendUint32(m.Challenge)
	b.Append(m.Digest[:])
}

// ParseChallengeReply
func ParseChallengeReply(body []byte) (ChallengeReply, error) {
	if len(body) != challengeReplyLength {
		return ChallengeReply{}, malformed("challenge reply must be %d bytes, got %d", challengeReplyLength, len(body))
	}
	if body[0] != TagReply {
		return ChallengeReply{}, malformed("unexpected tag %q instead of challenge reply", body[0])
	}
	m := ChallengeReply{
		Challenge: binary.BigEndian.Uint32(body[1:5]),
	}
	copy(m.Digest[:], body[5:])
	return m, nil
}

// ChallengeAck closes the handshake, proving the accepting node holds the
// same cookie.
type ChallengeAck struct {
	Digest Digest
}

// Encode
func (m ChallengeAck) Encode(b *lib.Buffer) {
	b.AppendByte(TagAck)
	b.Append(m.Digest[:])
}

// ParseChallengeAck
func ParseChallengeAck(body []byte) (ChallengeAck, error) {
	if len(body) != challengeAckLength {
		return ChallengeAck{}, malformed("challenge ack must be %d bytes, got %d", challengeAckLength, len(body))
	}
	if body[0] != TagAck {
		return ChallengeAck{}, malformed("unexpected tag %q instead of challenge ack", body[0])
	}
	var m ChallengeAck
	copy(m.Digest[:], body[1:])
	return m, nil
}

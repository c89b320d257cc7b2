package dist

import (
	"crypto/md5"
	"crypto/rand"
	"crypto/subtle"
	"encoding/binary"
	"strconv"

	"github.com/pkg/errors"
)

// Digest is the MD5 proof of the shared cookie.
type Digest [md5.Size]byte

// GenDigest computes md5(cookie ++ decimal(challenge)), the way Erlang nodes
// prove they share the cookie without sending it.
func GenDigest(cookie string, challenge uint32) Digest {
	s := make([]byte, 0, len(cookie)+10)
	s = append(s, cookie...)
	s = strconv.AppendUint(s, uint64(challenge), 10)
	return md5.Sum(s)
}

// VerifyDigest compares all the bytes of both digests.
func VerifyDigest(expected, candidate Digest) bool {
	return subtle.ConstantTimeCompare(expected[:], candidate[:]) == 1
}

// GenChallenge returns a fresh challenge from the crypto random source.
func GenChallenge() (uint32, error) {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, errors.WithStack(err)
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

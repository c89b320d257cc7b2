package dist

import (
	"crypto/md5"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenDigest(t *testing.T) {
	// the challenge is hashed as its decimal representation
	shouldBe := md5.Sum([]byte("secret3735928559"))
	require.Equal(t, Digest(shouldBe), GenDigest("secret", 0xdeadbeef))

	require.Equal(t, Digest(md5.Sum([]byte("0"))), GenDigest("", 0))
}

func TestVerifyDigest(t *testing.T) {
	requireT := require.New(t)

	cookies := []string{"", "a", "cookie", "ZZZZZZZZZZZZZZZZZZZZ"}
	challenges := []uint32{0, 1, 42, 1 << 31, 4294967295}

	for _, cookie := range cookies {
		for _, challenge := range challenges {
			requireT.True(VerifyDigest(GenDigest(cookie, challenge), GenDigest(cookie, challenge)))
			requireT.False(VerifyDigest(GenDigest(cookie, challenge), GenDigest(cookie+"x", challenge)))
			requireT.False(VerifyDigest(GenDigest(cookie, challenge), GenDigest(cookie, challenge+1)))
		}
	}
}

func TestVerifyDigestComparesAllBytes(t *testing.T) {
	d := GenDigest("cookie", 1)
	other := d
	other[15] ^= 0xff
	require.False(t, VerifyDigest(d, other))
}

func TestGenChallenge(t *testing.T) {
	requireT := require.New(t)

	seen := map[uint32]struct{}{}
	for i := 0; i < 16; i++ {
		c, err := GenChallenge()
		requireT.NoError(err)
		seen[c] = struct{}{}
	}
	requireT.Greater(len(seen), 1)
}

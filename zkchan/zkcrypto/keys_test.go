package zkcrypto

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	kp, err := GenKeyPair(bytes.NewReader(bytes.Repeat([]byte{0x07}, 32)))
	require.NoError(t, err)

	digest := SHA256([]byte("cust-close preimage"))
	sig := Sign(kp.Priv, digest)

	ok, err := Verify(kp.Pub, digest, sig)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestVerifyRejectsWrongDigest(t *testing.T) {
	kp, err := GenKeyPair(nil)
	require.NoError(t, err)

	digest := SHA256([]byte("original message"))
	sig := Sign(kp.Priv, digest)

	tampered := SHA256([]byte("tampered message"))
	ok, err := Verify(kp.Pub, tampered, sig)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestHMACSHA256RoundTrip(t *testing.T) {
	key := []byte("merchant-hmac-key-64-bytes-of-filler-aaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	msg := []byte("serialized state")
	tag := HMACSHA256(key, msg)
	require.True(t, VerifyHMACSHA256(key, msg, tag[:]))
	require.False(t, VerifyHMACSHA256(key, []byte("different msg"), tag[:]))
}

func TestXOR32SelfInverse(t *testing.T) {
	a, err := RandomMask32(nil)
	require.NoError(t, err)
	b, err := RandomMask32(nil)
	require.NoError(t, err)

	masked := XOR32(a, b)
	recovered := XOR32(masked, b)
	require.Equal(t, a, recovered)
}

package zkproofs

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCommitOpenRoundTrip(t *testing.T) {
	params := SetupParams()

	v, err := RandomBlinding(nil)
	require.NoError(t, err)
	r, err := RandomBlinding(nil)
	require.NoError(t, err)

	c, err := Commit(params, v, r)
	require.NoError(t, err)

	ok, err := Open(params, c, v, r)
	require.NoError(t, err)
	require.True(t, ok)

	wrongV, err := RandomBlinding(nil)
	require.NoError(t, err)
	ok, err = Open(params, c, wrongV, r)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestNIZKOpeningProof(t *testing.T) {
	params := SetupParams()

	v, err := RandomBlinding(nil)
	require.NoError(t, err)
	r, err := RandomBlinding(nil)
	require.NoError(t, err)

	c, err := Commit(params, v, r)
	require.NoError(t, err)

	proof, err := Prove(nil, params, c, v, r)
	require.NoError(t, err)

	ok, err := Verify(params, c, proof)
	require.NoError(t, err)
	require.True(t, ok)
}

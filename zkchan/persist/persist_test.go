package persist

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCustChannelRoundTrip(t *testing.T) {
	s := openTestStore(t)

	entry := CustChannel{CustState: []byte("cust-state-blob"), ChannelToken: []byte(`{"pk_cust":"ab"}`)}
	require.NoError(t, s.SaveCustChannel("alice", entry))

	loaded, ok, err := s.LoadCustChannel("alice")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, entry, loaded)

	_, ok, err = s.LoadCustChannel("bob")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestListCustChannelNames(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.SaveCustChannel("alice", CustChannel{}))
	require.NoError(t, s.SaveCustChannel("bob", CustChannel{}))

	names, err := s.ListCustChannelNames()
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"alice", "bob"}, names)
}

func TestMerchDBRoundTrip(t *testing.T) {
	s := openTestStore(t)

	_, ok, err := s.LoadMerchDB()
	require.NoError(t, err)
	require.False(t, ok)

	entry := MerchDB{MerchState: []byte("merch-state"), ChannelState: []byte("channel-state")}
	require.NoError(t, s.SaveMerchDB(entry))

	loaded, ok, err := s.LoadMerchDB()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, entry, loaded)
}

func TestMerchChannelRoundTrip(t *testing.T) {
	s := openTestStore(t)

	var channelID [32]byte
	channelID[0] = 0xab

	entry := MerchChannel{ChannelState: []byte("channel-state")}
	require.NoError(t, s.SaveMerchChannel(channelID, entry))

	loaded, ok, err := s.LoadMerchChannel(channelID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, entry, loaded)

	var otherID [32]byte
	otherID[0] = 0xcd
	_, ok, err = s.LoadMerchChannel(otherID)
	require.NoError(t, err)
	require.False(t, ok)
}

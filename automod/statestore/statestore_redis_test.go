package statestore

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)

	s, err := NewRedisStore("redis://"+mr.Addr(), "clanker/")
	require.NoError(t, err)
	defer s.Close()

	testStoreBasics(t, s)
	testStoreConcurrentIncrement(t, s)

	require.True(t, mr.Exists("clanker/count/strikes"))
}

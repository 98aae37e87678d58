package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/tradestream/pkg/secretstore"
)

func TestStoreWritesCredentialsAndClearsTokens(t *testing.T) {
	ss, err := secretstore.Open(secretstore.OpenOptions{InMemory: true})
	require.NoError(t, err)

	require.NoError(t, ss.SetString(secretstore.SessionKey("s1", "access"), "old"))
	require.NoError(t, store(ss, "s1", "user", "pass", true))

	login, ok, err := ss.GetString(secretstore.SessionKey("s1", "login"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "user", login)

	_, ok, err = ss.GetString(secretstore.SessionKey("s1", "access"))
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, ss.Close())
}

package net

import (
	"net"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetEphemeralTCPPort(t *testing.T) {
	first, err := GetEphemeralTCPPort("127.0.0.1")
	require.NoError(t, err)
	second, err := GetEphemeralTCPPort("127.0.0.1")
	require.NoError(t, err)

	assert.Greater(t, first, 0)
	assert.Greater(t, second, 0)
	assert.NotEqual(t, first, second)

	// the port is released, so it can be bound right away
	l, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(first)))
	require.NoError(t, err)
	require.NoError(t, l.Close())
}

func TestGetEphemeralTCPPortDefaultHost(t *testing.T) {
	port, err := GetEphemeralTCPPort("")
	require.NoError(t, err)
	assert.Greater(t, port, 0)
}

package net

import (
	"fmt"
	"net"
)

// GetEphemeralTCPPort asks the OS for a free TCP port on host and releases it immediately.
// Nothing reserves the port afterwards, so another process may claim it before the caller binds it.
func GetEphemeralTCPPort(host string) (int, error) {
	if host == "" {
		host = "localhost"
	}
	addr, err := net.ResolveTCPAddr("tcp", net.JoinHostPort(host, "0"))
	if err != nil {
		return 0, fmt.Errorf("resolving %s:0: %w", host, err)
	}
	listener, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return 0, fmt.Errorf("listening to acquire port: %w", err)
	}
	defer listener.Close()
	return listener.Addr().(*net.TCPAddr).Port, nil
}

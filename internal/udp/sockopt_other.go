//go:build !unix && !windows

package udp

import "syscall"

func setBroadcast(network, address string, c syscall.RawConn) error { return nil }

func setReuse(network, address string, c syscall.RawConn) error { return nil }

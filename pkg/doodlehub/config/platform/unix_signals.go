//go:build unix

// Package platform maps signal names to the host's signal numbers.
package platform

import (
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

type Signal = unix.Signal

// SignalNum returns the signal with the given name, such as "SIGUSR1", or 0
// if the platform has no such signal.
func SignalNum(name string) Signal {
	return unix.SignalNum(name)
}

func FromOsSignal(sig os.Signal) Signal {
	if s, ok := sig.(syscall.Signal); ok {
		return Signal(s)
	}

	return Signal(0)
}

//go:build !windows

package signals

import (
	"os"
	"syscall"
)

var watched = []os.Signal{syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP}

func classify(sig os.Signal) kind {
	switch sig {
	case syscall.SIGHUP:
		return kindReload
	case syscall.SIGINT, syscall.SIGTERM:
		return kindInterrupt
	}
	return kindIgnored
}

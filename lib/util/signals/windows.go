//go:build windows

package signals

import "os"

var watched = []os.Signal{os.Interrupt}

func classify(sig os.Signal) kind {
	if sig == os.Interrupt {
		return kindInterrupt
	}
	return kindIgnored
}

package util

import (
	"os"

	"github.com/go-i2p/logger"
)

var log = logger.GetGoI2PLogger()

// UserHome returns the current user's home directory, falling back to
// $HOME, %USERPROFILE% and finally the working directory.
func UserHome() string {
	home, err := os.UserHomeDir()
	if err == nil {
		return home
	}
	for _, env := range []string{"HOME", "USERPROFILE"} {
		if v := os.Getenv(env); v != "" {
			log.WithError(err).WithField("env", env).Warn("os.UserHomeDir failed, using environment")
			return v
		}
	}
	wd, wdErr := os.Getwd()
	if wdErr != nil {
		panic("go-tunnelmsg: unable to determine home directory; set $HOME")
	}
	log.WithError(err).Warn("no home directory available, using working directory")
	return wd
}

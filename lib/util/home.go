package util

import (
	"os"
)

// UserHome returns the current user's home directory.
// Falls back to $HOME, then %USERPROFILE%, then the working directory, so
// the relay can still start inside minimal containers.
func UserHome() string {
	homeDir, err := os.UserHomeDir()
	if err == nil {
		return homeDir
	}
	if home := os.Getenv("HOME"); home != "" {
		log.WithError(err).Warn("user_home_dir_failed_using_HOME")
		return home
	}
	if home := os.Getenv("USERPROFILE"); home != "" {
		log.WithError(err).Warn("user_home_dir_failed_using_USERPROFILE")
		return home
	}
	if wd, wdErr := os.Getwd(); wdErr == nil {
		log.WithError(err).Warn("user_home_dir_failed_using_working_dir")
		return wd
	}
	return "."
}

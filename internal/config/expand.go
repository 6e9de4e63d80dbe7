package config

import (
	"os"
	"path/filepath"
	"strings"
)

// ExpandPath resolves a leading ~ and the ${USER} and ${HOME} variables in
// a local path. Other ${VAR} references are left as written so a typo
// shows up in the path instead of silently vanishing.
func ExpandPath(path string) string {
	if path == "" {
		return path
	}

	path = os.Expand(path, func(name string) string {
		switch name {
		case "USER":
			return currentUser()
		case "HOME":
			return homeDir()
		}
		return "${" + name + "}"
	})

	switch {
	case path == "~":
		return homeDir()
	case strings.HasPrefix(path, "~/"):
		return filepath.Join(homeDir(), path[2:])
	}
	return path
}

func currentUser() string {
	for _, key := range []string{"USER", "LOGNAME", "USERNAME"} {
		if user := os.Getenv(key); user != "" {
			return user
		}
	}
	return "user"
}

func homeDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return home
	}
	return "~"
}

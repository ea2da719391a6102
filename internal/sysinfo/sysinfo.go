package sysinfo

import (
	"os"
	"os/user"
	"runtime"
)

// Hostname returns the local hostname, or "unknown" when the OS refuses.
func Hostname() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return "unknown"
	}
	return h
}

// Username returns the local login name of the session owner.
func Username() string {
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return ""
}

// Platform names the host OS the way peers expect it.
func Platform() string {
	switch runtime.GOOS {
	case "darwin":
		return "Mac OS"
	case "windows":
		return "Windows"
	case "linux":
		return "Linux"
	default:
		return runtime.GOOS
	}
}

//go:build linux

package sysinfo

import "golang.org/x/sys/unix"

// KernelVersion reads the running kernel release via uname.
func KernelVersion() string {
	var uts unix.Utsname
	if err := unix.Uname(&uts); err != nil {
		return ""
	}
	return unix.ByteSliceToString(uts.Release[:])
}

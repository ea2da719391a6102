//go:build !linux

package sysinfo

// KernelVersion is only reported on linux.
func KernelVersion() string { return "" }

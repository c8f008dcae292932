//go:build linux

package gpu

import "golang.org/x/sys/unix"

// KernelRelease returns the running kernel release, e.g. "6.8.0-45-generic".
// Which hwmon files exist varies between kernel versions.
func KernelRelease() string {
	var uts unix.Utsname
	if err := unix.Uname(&uts); err != nil {
		return ""
	}
	return unix.ByteSliceToString(uts.Release[:])
}

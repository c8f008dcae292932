//go:build !linux

package gpu

// KernelRelease returns "" on platforms without a DRM sysfs export.
func KernelRelease() string {
	return ""
}

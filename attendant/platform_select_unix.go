//go:build !windows

package attendant

// NewPlatformOps constructs the concrete PlatformOps for this build (spec
// §9: the concrete variant is chosen once, at daemon construction, never
// dispatched per-call).
func NewPlatformOps(desktop bool, _ string) PlatformOps {
	return &PosixOps{Desktop: desktop}
}

//go:build !(linux || darwin || freebsd || openbsd || netbsd || dragonfly)

// Package platform holds OS-specific process hardening.
package platform

// DisableCoreDumps is a no-op on platforms without RLIMIT_CORE.
func DisableCoreDumps() error { return nil }

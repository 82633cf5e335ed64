//go:build !linux && !darwin

package logger

// Colors are only enabled where terminal detection is supported.
func isTerminal(uintptr) bool { return false }

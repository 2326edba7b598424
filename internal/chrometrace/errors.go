package chrometrace

import (
	"errors"
	"fmt"
)

// Sentinel error kinds surfaced to callers. Schema-missing, row-decode, and
// resource-cleanup failures are never wrapped in these — they are logged
// via logrus and never returned, per the propagation policy.
var (
	// ErrInputMissing: the nsys report path does not exist.
	ErrInputMissing = errors.New("input file not found")
	// ErrToolMissing: the nsys binary is not on PATH.
	ErrToolMissing = errors.New("nsys command not found")
	// ErrToolFailed: nsys export ran but exited non-zero.
	ErrToolFailed = errors.New("nsys export failed")
	// ErrUnsupportedBackend: useRust was requested but this converter has
	// exactly one backend.
	ErrUnsupportedBackend = errors.New("rust linker backend is not available in this build")
)

// wrapInputMissing names the offending path in the error chain while
// keeping errors.Is(err, ErrInputMissing) working for callers.
func wrapInputMissing(path string) error {
	return fmt.Errorf("%w: %s", ErrInputMissing, path)
}

func wrapToolMissing(tool string) error {
	return fmt.Errorf("%w: %s", ErrToolMissing, tool)
}

func wrapToolFailed(stderr string) error {
	return fmt.Errorf("%w: %s", ErrToolFailed, stderr)
}

package shared

import "fmt"

var (
	// Configuration errors
	ErrMissingConfig = fmt.Errorf("configuration not found")
	ErrInvalidConfig = fmt.Errorf("invalid configuration")
	ErrMissingDSN    = fmt.Errorf("missing database URL")
	ErrUnknownDriver = fmt.Errorf("unsupported database driver")

	// Row-level validation errors, recovered as per-row skips
	ErrUnknownAspect     = fmt.Errorf("unknown image aspect")
	ErrUnsupportedServer = fmt.Errorf("unsupported server tag")

	// Pre-condition errors, fatal to the whole run
	ErrMissingServer     = fmt.Errorf("required server identifier missing from target")
	ErrAdminUserNotFound = fmt.Errorf("admin user id not found in target")

	// Asset copy errors
	ErrMissingSourceDir = fmt.Errorf("source directory does not exist")
)

package version

import (
	"fmt"
	"runtime"
)

// Set at build time with -ldflags "-X github.com/kylemclaren/chat-tasks/internal/version.Version=..."
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// Info returns a one-line build description
func Info() string {
	return fmt.Sprintf("chat-tasks %s (commit %s, built %s, %s/%s)", Version, Commit, Date, runtime.GOOS, runtime.GOARCH)
}

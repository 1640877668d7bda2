// Package platform resolves platform-specific collaborators of the download
// subsystem: the default download directory and the storage permission gate.
package platform

import (
	"context"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
)

// DownloadDir returns the directory new downloads are saved to. A configured
// override wins when it points at an existing directory, then the user's
// download directory, then a "Downloads" folder under the home directory.
func DownloadDir(override string) string {
	if override != "" {
		if info, err := os.Stat(override); err == nil && info.IsDir() {
			return override
		}
	}

	if xdg.UserDirs.Download != "" {
		return xdg.UserDirs.Download
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, "Downloads")
}

// PermissionGate must be satisfied before any download starts. Desktop
// platforms that do not gate storage access use NoopGate.
type PermissionGate interface {
	EnsureStorageAccess(ctx context.Context) error
}

// NoopGate grants storage access unconditionally.
type NoopGate struct{}

func (NoopGate) EnsureStorageAccess(context.Context) error { return nil }

package procrunner

import (
	"os/exec"
	"path/filepath"
)

// fallbackDirs are probed, in order, after PATH lookup fails.
var fallbackDirs = []string{"/usr/bin", "/usr/local/bin", "/snap/bin"}

// FindBinary resolves name via PATH, then the standard absolute
// fallback locations. If none exist, the bare name is returned
// unchanged and the OS will reject it at exec time.
func FindBinary(name string) string {
	if path, err := exec.LookPath(name); err == nil {
		return path
	}
	for _, dir := range fallbackDirs {
		candidate := filepath.Join(dir, name)
		if path, err := exec.LookPath(candidate); err == nil {
			return path
		}
	}
	return name
}

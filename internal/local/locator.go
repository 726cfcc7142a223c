package local

import (
	"os"
	"path/filepath"
)

// DefaultMaxHops is how many parent directories Locate climbs.
const DefaultMaxHops = 10

// Locate resolves a settings folder. Absolute folders are returned as is.
// A relative folder is looked up under base and then under each of up to
// maxHops parents of base; the first existing directory wins. When none
// exists the path under base is returned so that the folder can appear
// later.
func Locate(base, folder string, maxHops int) string {
	if filepath.IsAbs(folder) {
		return filepath.Clean(folder)
	}
	if base == "" {
		if wd, err := os.Getwd(); err == nil {
			base = wd
		}
	}
	base = filepath.Clean(base)

	dir := base
	for hop := 0; hop <= maxHops; hop++ {
		candidate := filepath.Join(dir, folder)
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return filepath.Join(base, folder)
}

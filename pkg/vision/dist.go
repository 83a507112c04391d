package vision

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"visionsdk/internal/common/fsutil"
	"visionsdk/internal/install"
)

// ManifestFile marks a directory as a vision project.
const ManifestFile = "pekat_package.json"

// checkProject resolves path and verifies it holds a project manifest.
func checkProject(path string) (string, error) {
	abs, err := fsutil.Resolve(path)
	if err != nil {
		return "", fmt.Errorf("project path: %w", err)
	}
	if !fsutil.FileExists(filepath.Join(abs, ManifestFile)) {
		return "", &ProjectNotFoundError{Path: abs}
	}
	return abs, nil
}

// resolveDist returns the distribution directory: the override when given,
// otherwise the newest installation in the platform default location.
func resolveDist(override string) (string, error) {
	if override != "" {
		abs, err := fsutil.Resolve(override)
		if err != nil {
			return "", fmt.Errorf("dist path: %w", err)
		}
		if !fsutil.PathExists(abs) {
			return "", &DistNotExistsError{Path: abs}
		}
		return abs, nil
	}
	loc, ok := install.DefaultLocation(runtime.GOOS, os.Getenv)
	if !ok {
		return "", &DistNotFoundError{}
	}
	c, found, err := install.Newest(loc)
	if err != nil {
		return "", fmt.Errorf("scan %s: %w", loc.Root, err)
	}
	if !found {
		return "", &DistNotFoundError{Root: loc.Root}
	}
	return c.Path, nil
}

// serverBinary returns the server executable inside a distribution.
func serverBinary(dist, goos string) string {
	name := "pekat_vision"
	if goos == "windows" {
		name += ".exe"
	}
	return filepath.Join(dist, "pekat_vision", name)
}

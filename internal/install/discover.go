// Package install locates vision server distributions on disk.
package install

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Location is a platform default install root and the directory name prefix
// every distribution under it carries (e.g. "pekat-vision-3.19.2").
type Location struct {
	Root   string
	Prefix string
}

// Candidate is one distribution directory found under a Location.
type Candidate struct {
	Path string
	// Version is the normalized version ("v3.19.2", "v3.19.0.post1")
	// parsed from the directory name, or "" when the suffix is not a version.
	Version string

	ver Version
}

// DefaultLocation returns the default install root for goos. ok is false for
// platforms the server does not ship on.
func DefaultLocation(goos string, getenv func(string) string) (loc Location, ok bool) {
	switch goos {
	case "windows":
		root := getenv("PROGRAMFILES")
		if root == "" {
			root = `C:\Program Files`
		}
		return Location{Root: root, Prefix: "PEKAT VISION "}, true
	case "linux":
		return Location{Root: "/opt/PEKAT", Prefix: "pekat-vision-"}, true
	default:
		return Location{}, false
	}
}

// Scan lists directories under loc.Root whose names start with loc.Prefix,
// newest version first. Names without a parsable version sort last.
// A missing root yields no candidates and no error.
func Scan(loc Location) ([]Candidate, error) {
	entries, err := os.ReadDir(loc.Root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read install root: %w", err)
	}
	var out []Candidate
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasPrefix(name, loc.Prefix) {
			continue
		}
		c := Candidate{Path: filepath.Join(loc.Root, name)}
		if v, ok := ParseVersion(strings.TrimPrefix(name, loc.Prefix)); ok {
			c.Version, c.ver = v.String(), v
		}
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Version == "" || b.Version == "" {
			if a.Version == b.Version {
				return a.Path > b.Path
			}
			return b.Version == ""
		}
		if c := a.ver.Compare(b.ver); c != 0 {
			return c > 0
		}
		return a.Path > b.Path
	})
	return out, nil
}

// Newest returns the highest-versioned candidate under loc.
func Newest(loc Location) (Candidate, bool, error) {
	cands, err := Scan(loc)
	if err != nil || len(cands) == 0 {
		return Candidate{}, false, err
	}
	return cands[0], true, nil
}

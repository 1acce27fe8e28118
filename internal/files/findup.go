package files

import (
	"fmt"
	"os"
	"path/filepath"
)

// FindUp searches dir and its ancestors for an entry called name and returns its path,
// or "" if no directory up to the root has one.
func FindUp(name, dir string) (string, error) {
	curDir := dir
	for {
		entries, err := os.ReadDir(curDir)
		if err != nil {
			return "", fmt.Errorf("reading %s: %w", curDir, err)
		}
		for _, e := range entries {
			if name == e.Name() {
				return filepath.Join(curDir, name), nil
			}
		}
		newDir := filepath.Dir(curDir)
		if newDir == curDir {
			return "", nil
		}
		curDir = newDir
	}
}

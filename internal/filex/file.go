// Package filex contains filesystem helpers used at startup.
package filex

import (
	"fmt"
	"os"
	"path/filepath"
)

// EnsureWritableDir creates dir (and parents) if needed and checks that a file
// can be created inside it. Relative paths are resolved against the working
// directory. The absolute path is returned.
func EnsureWritableDir(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("abs %s: %w", dir, err)
	}

	if err := os.MkdirAll(abs, 0o770); err != nil {
		return "", fmt.Errorf("mkdir %s: %w", abs, err)
	}

	probe, err := os.CreateTemp(abs, ".probe-*")
	if err != nil {
		return "", fmt.Errorf("directory %s is not writable: %w", abs, err)
	}
	name := probe.Name()
	_ = probe.Close()

	if err := os.Remove(name); err != nil {
		return "", fmt.Errorf("remove probe %s: %w", name, err)
	}

	return abs, nil
}

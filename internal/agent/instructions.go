package agent

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const (
	// InstructionsFile is the name of the per-directory custom instructions file.
	InstructionsFile = ".desktop-assist.md"
	maxInstructions  = 10 * 1024
)

// ErrInstructionsTooLarge is returned for instruction files over 10 KB.
var ErrInstructionsTooLarge = errors.New("instructions file too large")

// FindInstructions walks from start up to home, inclusive, and returns the
// first instructions file found. The walk also stops at the filesystem root.
func FindInstructions(start, home string) (string, bool) {
	cur, err := filepath.Abs(start)
	if err != nil {
		return "", false
	}
	cur = resolve(cur)
	if home != "" {
		if h, err := filepath.Abs(home); err == nil {
			home = resolve(h)
		}
	}

	for {
		candidate := filepath.Join(cur, InstructionsFile)
		if fi, err := os.Stat(candidate); err == nil && fi.Mode().IsRegular() {
			return candidate, true
		}
		if cur == home {
			return "", false
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return "", false
		}
		cur = parent
	}
}

// LoadInstructions reads an instructions file, enforcing the size limit.
func LoadInstructions(path string) (string, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("reading instructions: %w", err)
	}
	if fi.Size() > maxInstructions {
		return "", fmt.Errorf("%w (%d bytes, max %d): %s", ErrInstructionsTooLarge, fi.Size(), maxInstructions, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading instructions: %w", err)
	}
	return string(data), nil
}

func resolve(p string) string {
	if r, err := filepath.EvalSymlinks(p); err == nil {
		return r
	}
	return p
}

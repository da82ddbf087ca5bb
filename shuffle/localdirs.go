package shuffle

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/hupe1980/colbench/internal/fs"
)

// LocalDirsEnv names the comma-separated list of shuffle directories.
const LocalDirsEnv = "COLBENCH_LOCAL_DIRS"

// LocalDirs are the directories a run writes shuffle output to.
type LocalDirs struct {
	Dirs    []string
	FromEnv bool
}

// LocalDirsFromEnv reads LocalDirsEnv, creating each listed directory. When
// the variable is unset or empty a fresh temporary directory is used.
func LocalDirsFromEnv() (LocalDirs, error) {
	var dirs []string
	for _, d := range strings.Split(os.Getenv(LocalDirsEnv), ",") {
		if d = strings.TrimSpace(d); d != "" {
			dirs = append(dirs, d)
		}
	}

	if len(dirs) == 0 {
		dir, err := os.MkdirTemp("", "colbench-shuffle-")
		if err != nil {
			return LocalDirs{}, fmt.Errorf("create shuffle dir: %w", err)
		}
		return LocalDirs{Dirs: []string{dir}}, nil
	}

	for _, d := range dirs {
		if err := fs.Default.MkdirAll(d, 0o755); err != nil {
			return LocalDirs{}, fmt.Errorf("create shuffle dir %s: %w", d, err)
		}
	}
	return LocalDirs{Dirs: dirs, FromEnv: true}, nil
}

// DataFile returns a new, unique data file path in the first directory.
func (l LocalDirs) DataFile() string {
	return filepath.Join(l.Dirs[0], "shuffle-"+uuid.NewString()+".data")
}

// CleanupOutput removes dataFile. Directories are removed as well unless
// they were supplied through the environment.
func (l LocalDirs) CleanupOutput(dataFile string) error {
	var errs []error
	if err := RemoveDataFile(dataFile); err != nil {
		errs = append(errs, err)
	}
	if !l.FromEnv {
		for _, d := range l.Dirs {
			if err := fs.Default.RemoveAll(d); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// RemoveDataFile removes a single data file, ignoring files that were never
// created.
func RemoveDataFile(path string) error {
	return fs.RemoveIfExists(fs.Default, path)
}

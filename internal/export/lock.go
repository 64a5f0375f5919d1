package export

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"canvas-aux/internal/errors"
)

// LockFileName is the advisory lock taken in an export directory
const LockFileName = ".canvas-aux.lock"

// Lock is an advisory lock over an export directory
type Lock struct {
	path string
}

// AcquireLock creates the lock file in dir, failing if another run holds it
func AcquireLock(dir string) (*Lock, error) {
	path := filepath.Join(dir, LockFileName)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if os.IsExist(err) {
			holder := ""
			if content, readErr := os.ReadFile(path); readErr == nil {
				holder = strings.TrimSpace(string(content))
			}
			return nil, errors.NewAppError(errors.ErrorTypeTableExport,
				fmt.Sprintf("export directory %s is locked by process %s", dir, holder), err).
				WithContext("lock_file", path).AsFatal()
		}
		return nil, errors.NewAppError(errors.ErrorTypeTableExport, "cannot create lock file "+path, err).AsFatal()
	}
	defer f.Close()

	if _, err := f.WriteString(strconv.Itoa(os.Getpid()) + "\n"); err != nil {
		os.Remove(path)
		return nil, errors.NewAppError(errors.ErrorTypeTableExport, "cannot write lock file "+path, err).AsFatal()
	}

	return &Lock{path: path}, nil
}

// Release removes the lock file
func (l *Lock) Release() error {
	if l == nil {
		return nil
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

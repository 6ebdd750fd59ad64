package ncei

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ValidatorStore remembers the remote validator token (ETag) each local file
// was downloaded under.
type ValidatorStore interface {
	Get(dest string) (token string, ok bool, err error)
	Put(dest, token string) error
}

// SideFileStore keeps each token in a file next to the data file, named
// <file>.etag.
type SideFileStore struct{}

// SideFileName is the token file for dest.
func SideFileName(dest string) string {
	return dest + ".etag"
}

func (SideFileStore) Get(dest string) (string, bool, error) {
	b, err := os.ReadFile(SideFileName(dest))
	if errors.Is(err, fs.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading validator for %s: %w", dest, err)
	}
	return strings.TrimSpace(string(b)), true, nil
}

func (SideFileStore) Put(dest, token string) error {
	name := SideFileName(dest)
	tmp, err := os.CreateTemp(filepath.Dir(name), filepath.Base(name)+".*.tmp")
	if err != nil {
		return fmt.Errorf("writing validator for %s: %w", dest, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(token); err != nil {
		tmp.Close()
		return fmt.Errorf("writing validator for %s: %w", dest, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing validator for %s: %w", dest, err)
	}
	return os.Rename(tmp.Name(), name)
}

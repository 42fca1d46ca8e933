package export

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ErrNotFound is returned when an export does not exist yet.
var ErrNotFound = errors.New("export not found")

// Store holds exports by name. Replace makes the new content visible only
// after write has returned successfully.
type Store interface {
	Open(ctx context.Context, name string) (io.ReadCloser, error)
	Replace(ctx context.Context, name string, write func(w io.Writer) error) error
}

// FileStore keeps exports on the local filesystem.
type FileStore struct{}

// Open opens the export at path.
func (FileStore) Open(_ context.Context, path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("open export: %w", err)
	}
	return f, nil
}

// Replace writes to a temporary file next to path and renames it over path.
func (FileStore) Replace(_ context.Context, path string, write func(w io.Writer) error) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temporary export: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if err = write(tmp); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close temporary export: %w", err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace export: %w", err)
	}
	return nil
}

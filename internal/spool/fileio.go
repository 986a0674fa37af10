package spool

import (
	"fmt"
	"os"
	"path/filepath"
)

// SaveFileAtomic replaces path with data so readers see either the old or
// the new content, never a partial write.
func SaveFileAtomic(path string, data []byte, mode os.FileMode) error {
	return WriteAtomic(path, mode, func(f *os.File) error {
		_, err := f.Write(data)
		return err
	})
}

// WriteAtomic hands write a temp file next to path, then fsyncs and renames
// it over path. The file is opened read-write so encoders can seek back and
// patch headers. Concurrent writers get distinct temp files.
func WriteAtomic(path string, mode os.FileMode, write func(f *os.File) error) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmp := f.Name()
	defer func() {
		if err != nil {
			_ = f.Close()
			_ = os.Remove(tmp)
		}
	}()

	if err = f.Chmod(mode); err != nil {
		return err
	}
	if err = write(f); err != nil {
		return fmt.Errorf("writing %s: %w", filepath.Base(path), err)
	}
	if err = f.Sync(); err != nil {
		return err
	}
	if err = f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

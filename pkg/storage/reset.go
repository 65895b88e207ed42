package storage

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/pfrederiksen/objstore/internal/logger"
)

// ResetAllData deletes the storage root and everything below it, depth first.
// Deletion is best effort: entries that can't be removed are skipped and
// their paths returned. A nil result means the root is gone.
func (s *Storage) ResetAllData() []string {
	failed := removeTree(s.root, nil)
	if len(failed) > 0 {
		logger.Warn("storage reset left entries behind", logger.Fields{
			"root":   s.root,
			"failed": len(failed),
		}, nil)
	} else {
		logger.Debug("storage reset", logger.Fields{"root": s.root})
	}
	return failed
}

func removeTree(path string, failed []string) []string {
	info, err := os.Lstat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return failed
		}
		return append(failed, path)
	}

	if info.IsDir() {
		entries, err := os.ReadDir(path)
		if err != nil {
			logger.Warn("could not list directory", logger.Fields{"path": path}, err)
		}
		for _, e := range entries {
			failed = removeTree(filepath.Join(path, e.Name()), failed)
		}
	}

	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logger.Warn("could not remove entry", logger.Fields{"path": path}, err)
		failed = append(failed, path)
	}
	return failed
}

// Info describes a stored object.
type Info struct {
	Name    string    `json:"name"`
	Type    string    `json:"type"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

// Stat reads the envelope header of fileName without decoding the value.
func (s *Storage) Stat(fileName string) (*Info, error) {
	f, path, err := s.open("stat", fileName)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, newError("stat", path, ErrIO, err)
	}

	d := newDecoder(f)
	tag, err := d.readHeader()
	if err != nil {
		return nil, newError("stat", path, d.kind(), err)
	}

	return &Info{
		Name:    filepath.ToSlash(fileName),
		Type:    tag,
		Size:    fi.Size(),
		ModTime: fi.ModTime(),
	}, nil
}

// List returns the names of all stored objects relative to the root, using
// forward slashes, sorted. The marker file is not listed.
func (s *Storage) List() ([]string, error) {
	var names []string
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == s.root && errors.Is(err, fs.ErrNotExist) {
				return fs.SkipAll
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		if rel == MarkerFileName {
			return nil
		}
		names = append(names, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, newError("list", s.root, ErrIO, err)
	}
	sort.Strings(names)
	return names, nil
}

// Delete removes the object stored under fileName.
func (s *Storage) Delete(fileName string) error {
	path, err := s.resolve("delete", fileName)
	if err != nil {
		return err
	}
	info, err := os.Lstat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return newError("delete", path, ErrNotFound, err)
		}
		return newError("delete", path, ErrIO, err)
	}
	if info.IsDir() {
		return errorf("delete", path, ErrInvalidArgument, "is a directory")
	}
	if err := os.Remove(path); err != nil {
		return newError("delete", path, ErrIO, err)
	}
	logger.Debug("object deleted", logger.Fields{"path": path})
	return nil
}

package statestore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// FileStore keeps state in memory and rewrites a JSON snapshot file after every mutation.
//
// The file is replaced atomically: the snapshot is written to a temporary file in the same directory, synced, and renamed over the old one, so a crash mid-write leaves the previous snapshot intact.
type FileStore struct {
	*MemStore
	path string
}

// Opens (or creates) the snapshot file at path and loads its contents.
func NewFileStore(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	mem := NewMemStore()
	raw, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// fresh state
	case err != nil:
		return nil, err
	case len(raw) > 0:
		if err := json.Unmarshal(raw, &mem.state); err != nil {
			return nil, fmt.Errorf("parsing state file %s: %w", path, err)
		}
		mem.state.init()
	}
	fs := &FileStore{
		MemStore: mem,
		path:     path,
	}
	mem.persist = fs.write
	return fs, nil
}

func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) write(st *snapshot) error {
	b, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(s.path, b)
}

func writeFileAtomic(path string, b []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	ok := false
	defer func() {
		if !ok {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(b); err != nil {
		return fmt.Errorf("writing state snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("syncing state snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replacing state snapshot: %w", err)
	}
	ok = true
	return nil
}

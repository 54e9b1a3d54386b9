// Licensed under the Apache-2.0 license

package nvmem

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const fileSchemaVersion = 1

// fileImage is the on-disk layout of a FileStore
type fileImage struct {
	SchemaVersion int               `json:"schema_version"`
	Words         [WordCount]uint32 `json:"words"`
	Checksum      string            `json:"checksum,omitempty"`
}

func (img *fileImage) checksum() (string, error) {
	unsigned := fileImage{SchemaVersion: img.SchemaVersion, Words: img.Words}
	data, err := json.Marshal(unsigned)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// FileStore keeps the region in a JSON file. Every write goes to a temporary
// file that is synced and renamed over the previous image, then the
// directory is synced.
type FileStore struct {
	mu    sync.Mutex
	path  string
	words [WordCount]uint32
	lock  *os.File
}

// OpenFile opens (creating if needed) the region stored at path. The file
// is locked for exclusive use until Close.
func OpenFile(path string) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("nvmem file path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create nvmem directory: %w", err)
	}

	lock, err := lockFile(path + ".lock")
	if err != nil {
		return nil, err
	}

	s := &FileStore{path: path, lock: lock}
	if err := s.load(); err != nil {
		unlockFile(lock)
		return nil, err
	}
	return s, nil
}

func (s *FileStore) load() error {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read nvmem file: %w", err)
	}

	var img fileImage
	if err := json.Unmarshal(data, &img); err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if img.SchemaVersion != fileSchemaVersion {
		return fmt.Errorf("%w: schema version %d", ErrCorrupt, img.SchemaVersion)
	}
	sum, err := img.checksum()
	if err != nil {
		return err
	}
	if sum != img.Checksum {
		return fmt.Errorf("%w: checksum mismatch", ErrCorrupt)
	}

	s.words = img.Words
	return nil
}

func (s *FileStore) save(words [WordCount]uint32) error {
	img := fileImage{SchemaVersion: fileSchemaVersion, Words: words}
	sum, err := img.checksum()
	if err != nil {
		return err
	}
	img.Checksum = sum

	data, err := json.MarshalIndent(img, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal nvmem image: %w", err)
	}

	tmpPath := s.path + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename nvmem file: %w", err)
	}

	dir, err := os.Open(filepath.Dir(s.path))
	if err != nil {
		return fmt.Errorf("open nvmem directory: %w", err)
	}
	defer dir.Close()
	if err := dir.Sync(); err != nil {
		return fmt.Errorf("sync nvmem directory: %w", err)
	}
	return nil
}

// ReadWord reads one word
func (s *FileStore) ReadWord(index int) (uint32, error) {
	if err := checkIndex(index); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.words[index], nil
}

// WriteWord durably writes one word
func (s *FileStore) WriteWord(index int, value uint32) error {
	if err := checkIndex(index); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	words := s.words
	words[index] = value
	if err := s.save(words); err != nil {
		return err
	}
	s.words = words
	return nil
}

// Close releases the file lock
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lock == nil {
		return nil
	}
	err := unlockFile(s.lock)
	s.lock = nil
	return err
}

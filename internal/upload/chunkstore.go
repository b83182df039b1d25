// Package upload stages chunked uploads on disk and reassembles them into
// artifacts ready to be attached to an email.
package upload

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
)

var uploadIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// ChunkStore persists raw chunk bytes under <root>/<uploadID>/<index>. The
// directory for an upload id is its only session state.
type ChunkStore struct {
	root   string
	locks  *keyedMutex
	logger *slog.Logger
}

// NewChunkStore creates the staging root if needed.
func NewChunkStore(root string, logger *slog.Logger) (*ChunkStore, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, &StorageError{Op: "mkdir", Path: root, Err: err}
	}
	return &ChunkStore{root: root, locks: newKeyedMutex(), logger: logger}, nil
}

// PutChunk writes one chunk. Writing the same index again replaces the
// earlier bytes. The chunk becomes visible atomically once fully written.
func (s *ChunkStore) PutChunk(uploadID string, index int, r io.Reader) error {
	if err := validateUploadID(uploadID); err != nil {
		return err
	}
	if index < 0 {
		return fmt.Errorf("%w: chunk index %d is negative", ErrInvalidUpload, index)
	}

	unlock := s.locks.Lock(uploadID)
	defer unlock()

	dir := s.dir(uploadID)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return &StorageError{Op: "mkdir", Path: dir, Err: err}
	}

	tmp, err := os.CreateTemp(dir, ".part-*")
	if err != nil {
		return &StorageError{Op: "create", Path: dir, Err: err}
	}

	n, err := io.Copy(tmp, r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp.Name())
		return &StorageError{Op: "write", Path: tmp.Name(), Err: err}
	}

	path := s.chunkPath(uploadID, index)
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return &StorageError{Op: "rename", Path: path, Err: err}
	}

	s.logger.Debug("chunk stored", "upload_id", uploadID, "chunk_index", index, "bytes", n)
	return nil
}

// Missing returns the indices in [0, total) that have no chunk on disk.
func (s *ChunkStore) Missing(uploadID string, total int) ([]int, error) {
	var missing []int
	for i := 0; i < total; i++ {
		_, err := os.Stat(s.chunkPath(uploadID, i))
		switch {
		case err == nil:
		case errors.Is(err, fs.ErrNotExist):
			missing = append(missing, i)
		default:
			return nil, &StorageError{Op: "stat", Path: s.chunkPath(uploadID, i), Err: err}
		}
	}
	return missing, nil
}

// Open returns a reader for one staged chunk.
func (s *ChunkStore) Open(uploadID string, index int) (*os.File, error) {
	f, err := os.Open(s.chunkPath(uploadID, index))
	if err != nil {
		return nil, &StorageError{Op: "open", Path: s.chunkPath(uploadID, index), Err: err}
	}
	return f, nil
}

// Remove deletes every chunk of an upload along with its directory.
func (s *ChunkStore) Remove(uploadID string) error {
	if err := os.RemoveAll(s.dir(uploadID)); err != nil {
		return &StorageError{Op: "remove", Path: s.dir(uploadID), Err: err}
	}
	return nil
}

// lock serialises chunk writes, assembly and sweeping for one upload id.
func (s *ChunkStore) lock(uploadID string) func() {
	return s.locks.Lock(uploadID)
}

func (s *ChunkStore) dir(uploadID string) string {
	return filepath.Join(s.root, uploadID)
}

func (s *ChunkStore) chunkPath(uploadID string, index int) string {
	return filepath.Join(s.dir(uploadID), strconv.Itoa(index))
}

func validateUploadID(uploadID string) error {
	if !uploadIDPattern.MatchString(uploadID) {
		return fmt.Errorf("%w: upload id %q", ErrInvalidUpload, uploadID)
	}
	return nil
}

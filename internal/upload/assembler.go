package upload

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/chunkmail/internal/attachment"
)

// Assembler concatenates the staged chunks of an upload into a single
// artifact file. Artifacts are transient: whoever sends them deletes them.
type Assembler struct {
	chunks      *ChunkStore
	artifactDir string
	logger      *slog.Logger
}

func NewAssembler(chunks *ChunkStore, artifactDir string, logger *slog.Logger) (*Assembler, error) {
	dir, err := filepath.Abs(artifactDir)
	if err != nil {
		return nil, &StorageError{Op: "abs", Path: artifactDir, Err: err}
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, &StorageError{Op: "mkdir", Path: dir, Err: err}
	}
	return &Assembler{chunks: chunks, artifactDir: dir, logger: logger}, nil
}

// Assemble writes chunks 0..totalChunks-1 in index order to a new artifact
// and returns its path. Every chunk must be present before anything is read;
// otherwise an *IncompleteUploadError is returned and the staged chunks are
// left untouched. No partial artifact is ever left behind.
func (a *Assembler) Assemble(uploadID, fileName string, totalChunks int) (string, error) {
	if err := validateUploadID(uploadID); err != nil {
		return "", err
	}
	if totalChunks <= 0 {
		return "", fmt.Errorf("%w: total chunks must be positive, got %d", ErrInvalidUpload, totalChunks)
	}
	name, err := cleanFileName(fileName)
	if err != nil {
		return "", err
	}

	unlock := a.chunks.lock(uploadID)
	defer unlock()

	missing, err := a.chunks.Missing(uploadID, totalChunks)
	if err != nil {
		return "", err
	}
	if len(missing) > 0 {
		return "", &IncompleteUploadError{UploadID: uploadID, TotalChunks: totalChunks, Missing: missing}
	}

	tmp, err := os.CreateTemp(a.artifactDir, ".assemble-*")
	if err != nil {
		return "", &StorageError{Op: "create", Path: a.artifactDir, Err: err}
	}

	size, err := a.concat(tmp, uploadID, totalChunks)
	if cerr := tmp.Close(); err == nil && cerr != nil {
		err = &StorageError{Op: "close", Path: tmp.Name(), Err: cerr}
	}
	if err != nil {
		os.Remove(tmp.Name())
		return "", err
	}

	path := filepath.Join(a.artifactDir, attachment.UniqueName(name))
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return "", &StorageError{Op: "rename", Path: path, Err: err}
	}

	if err := a.chunks.Remove(uploadID); err != nil {
		a.logger.Warn("upload: chunk cleanup failed", "upload_id", uploadID, "err", err)
	}

	a.logger.Info("upload assembled",
		"upload_id", uploadID,
		"chunks", totalChunks,
		"size_bytes", size,
	)
	return path, nil
}

func (a *Assembler) concat(dst io.Writer, uploadID string, totalChunks int) (int64, error) {
	var total int64
	for i := 0; i < totalChunks; i++ {
		f, err := a.chunks.Open(uploadID, i)
		if err != nil {
			return total, err
		}
		n, err := io.Copy(dst, f)
		f.Close()
		total += n
		if err != nil {
			return total, &StorageError{Op: "copy", Path: a.chunks.chunkPath(uploadID, i), Err: err}
		}
	}
	return total, nil
}

// SaveArtifact stores a directly uploaded file as an artifact so it follows
// the same delete-after-send lifecycle as assembled uploads.
func (a *Assembler) SaveArtifact(fileName string, r io.Reader) (string, error) {
	name, err := cleanFileName(fileName)
	if err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(a.artifactDir, ".direct-*")
	if err != nil {
		return "", &StorageError{Op: "create", Path: a.artifactDir, Err: err}
	}

	_, err = io.Copy(tmp, r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp.Name())
		return "", &StorageError{Op: "write", Path: tmp.Name(), Err: err}
	}

	path := filepath.Join(a.artifactDir, attachment.UniqueName(name))
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return "", &StorageError{Op: "rename", Path: path, Err: err}
	}
	return path, nil
}

// ArtifactPath checks that path names a file directly inside the artifact
// directory and returns its cleaned absolute form.
func (a *Assembler) ArtifactPath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("%w: artifact path %q", ErrInvalidUpload, path)
	}
	if filepath.Dir(abs) != a.artifactDir || strings.HasPrefix(filepath.Base(abs), ".") {
		return "", fmt.Errorf("%w: %q is not an artifact", ErrInvalidUpload, path)
	}
	return abs, nil
}

// cleanFileName keeps only the final path element of a client-supplied name.
func cleanFileName(name string) (string, error) {
	name = strings.ReplaceAll(name, "\\", "/")
	name = strings.ReplaceAll(name, "\x00", "")
	name = filepath.Base(strings.TrimSpace(name))
	if name == "." || name == ".." || name == "/" || name == "" {
		return "", fmt.Errorf("%w: file name is required", ErrInvalidUpload)
	}
	// leave room for the uniqueness prefix within the 255 byte name limit
	if len(name) > 200 {
		name = name[len(name)-200:]
	}
	return name, nil
}

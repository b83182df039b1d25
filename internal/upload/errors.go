package upload

import (
	"errors"
	"fmt"
)

// ErrInvalidUpload is returned for malformed upload parameters: an unsafe
// upload id, a negative chunk index, a non-positive chunk count or an empty
// file name.
var ErrInvalidUpload = errors.New("invalid upload parameters")

// StorageError reports a disk failure while staging chunks or writing an
// artifact. The upload must be restarted by the client.
type StorageError struct {
	Op   string
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("upload storage: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// IncompleteUploadError is returned when assembly is requested before every
// chunk has arrived. The staged chunks are kept so completion can be retried.
type IncompleteUploadError struct {
	UploadID    string
	TotalChunks int
	Missing     []int
}

func (e *IncompleteUploadError) Error() string {
	return fmt.Sprintf("upload %s incomplete: %d of %d chunks missing %v",
		e.UploadID, len(e.Missing), e.TotalChunks, e.Missing)
}

package handler

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/chunkmail/internal/attachment"
	"github.com/chunkmail/internal/upload"
)

type chunkWriter interface {
	PutChunk(uploadID string, index int, r io.Reader) error
}

type chunkAssembler interface {
	Assemble(uploadID, fileName string, totalChunks int) (string, error)
}

// UploadHandler accepts chunked uploads and assembles them into artifacts
// that can be referenced when sending an email.
type UploadHandler struct {
	BaseHandler
	chunks        chunkWriter
	assembler     chunkAssembler
	maxChunkBytes int64
}

func NewUploadHandler(base BaseHandler, chunks chunkWriter, assembler chunkAssembler, maxChunkSizeMB int) *UploadHandler {
	return &UploadHandler{
		BaseHandler:   base,
		chunks:        chunks,
		assembler:     assembler,
		maxChunkBytes: int64(maxChunkSizeMB) << 20,
	}
}

// Chunk stores one chunk. The chunk bytes are the raw request body; the
// upload coordinates travel in the query string.
func (h *UploadHandler) Chunk(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	uploadID := q.Get("uploadId")

	index, err := strconv.Atoi(q.Get("chunkIndex"))
	if err != nil {
		h.badRequestResponse(w, r, errors.New("chunkIndex must be an integer"))
		return
	}
	total, err := strconv.Atoi(q.Get("totalChunks"))
	if err != nil {
		h.badRequestResponse(w, r, errors.New("totalChunks must be an integer"))
		return
	}
	if total <= 0 || index < 0 || index >= total {
		h.badRequestResponse(w, r, fmt.Errorf("chunkIndex %d out of range for %d chunks", index, total))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxChunkBytes)
	if err := h.chunks.PutChunk(uploadID, index, r.Body); err != nil {
		h.failure(w, r, err)
		return
	}

	h.Logger.Debug("chunk received",
		"upload_id", uploadID,
		"chunk_index", index,
		"total_chunks", total,
		"file_name", q.Get("fileName"),
	)

	resp := envelope{"uploadId": uploadID, "chunkIndex": index, "totalChunks": total}
	if err := h.writeJSON(w, http.StatusOK, resp, nil); err != nil {
		h.serverErrorResponse(w, r, err)
	}
}

// Complete assembles every staged chunk of an upload into an artifact and
// returns the artifact path.
func (h *UploadHandler) Complete(w http.ResponseWriter, r *http.Request) {
	var input struct {
		UploadID    string `json:"uploadId"`
		FileName    string `json:"fileName"`
		TotalChunks int    `json:"totalChunks"`
		MimeType    string `json:"mimeType"`
	}
	if err := h.readJSON(w, r, &input); err != nil {
		h.badRequestResponse(w, r, err)
		return
	}

	path, err := h.assembler.Assemble(input.UploadID, input.FileName, input.TotalChunks)
	if err != nil {
		var incomplete *upload.IncompleteUploadError
		if errors.As(err, &incomplete) {
			h.Logger.Info("upload incomplete", "upload_id", input.UploadID, "missing", len(incomplete.Missing))
		}
		h.failure(w, r, err)
		return
	}

	fileName, mimeType := attachment.Resolve(path)
	if strings.TrimSpace(input.MimeType) != "" {
		mimeType = input.MimeType
	}

	h.Logger.Info("upload assembled", "upload_id", input.UploadID, "path", path)

	resp := envelope{"path": path, "fileName": fileName, "mimeType": mimeType}
	if err := h.writeJSON(w, http.StatusOK, resp, nil); err != nil {
		h.serverErrorResponse(w, r, err)
	}
}

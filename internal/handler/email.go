package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/chunkmail/internal/mailer"
	"github.com/chunkmail/internal/model"
	"github.com/go-chi/chi/v5"
)

type emailSender interface {
	Send(ctx context.Context, req mailer.Request) (int64, error)
}

type emailRecords interface {
	ListAll(ctx context.Context) ([]model.Email, error)
	GetByID(ctx context.Context, id int64) (*model.Email, error)
	Delete(ctx context.Context, id int64) error
}

type artifactStore interface {
	SaveArtifact(fileName string, r io.Reader) (string, error)
	ArtifactPath(path string) (string, error)
}

// EmailHandler sends emails and exposes their records.
type EmailHandler struct {
	BaseHandler
	sender         emailSender
	records        emailRecords
	artifacts      artifactStore
	maxUploadBytes int64
}

func NewEmailHandler(base BaseHandler, sender emailSender, records emailRecords, artifacts artifactStore, maxUploadSizeMB int) *EmailHandler {
	return &EmailHandler{
		BaseHandler:    base,
		sender:         sender,
		records:        records,
		artifacts:      artifacts,
		maxUploadBytes: int64(maxUploadSizeMB) << 20,
	}
}

// recipientList accepts either a comma separated string or an array.
type recipientList []string

func (l *recipientList) UnmarshalJSON(data []byte) error {
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		*l = splitList([]string{one})
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return errors.New("recipients must be a string or an array of strings")
	}
	*l = splitList(many)
	return nil
}

// Send accepts a JSON body referencing previously assembled artifacts, or a
// multipart form that may also carry the attachment files directly.
func (h *EmailHandler) Send(w http.ResponseWriter, r *http.Request) {
	var (
		req   mailer.Request
		saved []string
		err   error
	)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		req, saved, err = h.parseMultipart(w, r)
	} else {
		req, err = h.parseJSON(w, r)
	}
	if err != nil {
		h.failure(w, r, err)
		return
	}

	id, err := h.sender.Send(r.Context(), req)
	if err != nil {
		if id == 0 {
			// no record was created, so the pipeline never took ownership
			h.discard(saved)
		}
		h.failure(w, r, err)
		return
	}

	if err := h.writeJSON(w, http.StatusCreated, envelope{"id": id}, nil); err != nil {
		h.serverErrorResponse(w, r, err)
	}
}

func (h *EmailHandler) parseJSON(w http.ResponseWriter, r *http.Request) (mailer.Request, error) {
	var input struct {
		Sender      string        `json:"sender"`
		Recipients  recipientList `json:"recipients"`
		Subject     string        `json:"subject"`
		Body        string        `json:"body"`
		Attachments []string      `json:"attachments"`
	}
	if err := h.readJSON(w, r, &input); err != nil {
		return mailer.Request{}, fmt.Errorf("%w: %v", errBadRequest, err)
	}

	paths, err := h.artifactPaths(input.Attachments)
	if err != nil {
		return mailer.Request{}, err
	}

	return mailer.Request{
		Sender:      input.Sender,
		Recipients:  input.Recipients,
		Subject:     input.Subject,
		Body:        input.Body,
		Attachments: paths,
	}, nil
}

// parseMultipart also returns the artifacts it saved from file parts so the
// caller can discard them if the pipeline never takes ownership.
func (h *EmailHandler) parseMultipart(w http.ResponseWriter, r *http.Request) (mailer.Request, []string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			return mailer.Request{}, nil, err
		}
		return mailer.Request{}, nil, fmt.Errorf("%w: form is invalid: %v", errBadRequest, err)
	}
	defer r.MultipartForm.RemoveAll()

	form := r.MultipartForm
	paths, err := h.artifactPaths(form.Value["attachmentPaths"])
	if err != nil {
		return mailer.Request{}, nil, err
	}

	saved, err := h.saveFiles(form.File["attachments"])
	if err != nil {
		return mailer.Request{}, nil, err
	}

	return mailer.Request{
		Sender:      r.FormValue("sender"),
		Recipients:  splitList(form.Value["recipients"]),
		Subject:     r.FormValue("subject"),
		Body:        r.FormValue("body"),
		Attachments: append(paths, saved...),
	}, saved, nil
}

func (h *EmailHandler) saveFiles(files []*multipart.FileHeader) ([]string, error) {
	saved := make([]string, 0, len(files))
	for _, fh := range files {
		path, err := h.saveFile(fh)
		if err != nil {
			h.discard(saved)
			return nil, err
		}
		saved = append(saved, path)
	}
	return saved, nil
}

func (h *EmailHandler) saveFile(fh *multipart.FileHeader) (string, error) {
	f, err := fh.Open()
	if err != nil {
		return "", fmt.Errorf("open form file %q: %w", fh.Filename, err)
	}
	defer f.Close()
	return h.artifacts.SaveArtifact(fh.Filename, f)
}

func (h *EmailHandler) artifactPaths(in []string) ([]string, error) {
	out := make([]string, 0, len(in))
	for _, p := range in {
		if strings.TrimSpace(p) == "" {
			continue
		}
		abs, err := h.artifacts.ArtifactPath(p)
		if err != nil {
			return nil, err
		}
		out = append(out, abs)
	}
	return out, nil
}

func (h *EmailHandler) discard(paths []string) {
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			h.Logger.Warn("discard artifact failed", "path", p, "err", err)
		}
	}
}

// List returns every email record, most recent first.
func (h *EmailHandler) List(w http.ResponseWriter, r *http.Request) {
	emails, err := h.records.ListAll(r.Context())
	if err != nil {
		h.serverErrorResponse(w, r, err)
		return
	}
	if err := h.writeJSON(w, http.StatusOK, envelope{"emails": emails}, nil); err != nil {
		h.serverErrorResponse(w, r, err)
	}
}

func (h *EmailHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.emailID(w, r)
	if !ok {
		return
	}

	email, err := h.records.GetByID(r.Context(), id)
	if err != nil {
		h.failure(w, r, err)
		return
	}
	if err := h.writeJSON(w, http.StatusOK, envelope{"email": email}, nil); err != nil {
		h.serverErrorResponse(w, r, err)
	}
}

func (h *EmailHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := h.emailID(w, r)
	if !ok {
		return
	}

	if err := h.records.Delete(r.Context(), id); err != nil {
		h.failure(w, r, err)
		return
	}
	h.Logger.Info("email record deleted", "email_id", id)
	w.WriteHeader(http.StatusNoContent)
}

func (h *EmailHandler) emailID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		h.notFoundResponse(w, r)
		return 0, false
	}
	return id, true
}

// splitList flattens repeated values that may each hold a comma separated
// list, dropping blanks.
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

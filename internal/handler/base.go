package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/chunkmail/internal/mailer"
	"github.com/chunkmail/internal/store"
	"github.com/chunkmail/internal/upload"
)

type envelope map[string]any

// Error kinds reported in the "kind" field of error responses.
const (
	kindValidation = "validation"
	kindIncomplete = "incomplete_upload"
	kindStorage    = "storage"
	kindDelivery   = "delivery"
	kindNotFound   = "not_found"
	kindTooLarge   = "too_large"
	kindInternal   = "internal"
)

// errBadRequest marks malformed requests that never reached a service.
var errBadRequest = errors.New("bad request")

type BaseHandler struct {
	Logger *slog.Logger
}

func (h *BaseHandler) logError(r *http.Request, err error) {
	method := r.Method
	uri := r.URL.RequestURI()

	h.Logger.Error(err.Error(), "method", method, "uri", uri)
}

func (h *BaseHandler) errorResponse(w http.ResponseWriter, r *http.Request, status int, kind string, message any, extra envelope) {
	env := envelope{"error": message, "kind": kind}
	for k, v := range extra {
		env[k] = v
	}

	err := h.writeJSON(w, status, env, nil)
	if err != nil {
		h.logError(r, err)
		w.WriteHeader(500)
	}
}

func (h *BaseHandler) serverErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	h.logError(r, err)

	message := "the server encountered a problem and could not process your request"
	h.errorResponse(w, r, http.StatusInternalServerError, kindInternal, message, nil)
}

func (h *BaseHandler) badRequestResponse(w http.ResponseWriter, r *http.Request, err error) {
	h.errorResponse(w, r, http.StatusBadRequest, kindValidation, err.Error(), nil)
}

func (h *BaseHandler) notFoundResponse(w http.ResponseWriter, r *http.Request) {
	h.errorResponse(w, r, http.StatusNotFound, kindNotFound, "the requested resource could not be found", nil)
}

// failure maps an error from the upload, mailer or store packages to its
// HTTP response.
func (h *BaseHandler) failure(w http.ResponseWriter, r *http.Request, err error) {
	var (
		validationErr *mailer.ValidationError
		incompleteErr *upload.IncompleteUploadError
		deliveryErr   *mailer.DeliveryError
		storageErr    *upload.StorageError
		maxBytesErr   *http.MaxBytesError
	)

	switch {
	case errors.As(err, &validationErr):
		h.errorResponse(w, r, http.StatusBadRequest, kindValidation, err.Error(), envelope{"fields": validationErr.Fields})
	case errors.Is(err, upload.ErrInvalidUpload), errors.Is(err, errBadRequest):
		h.badRequestResponse(w, r, err)
	case errors.As(err, &incompleteErr):
		h.errorResponse(w, r, http.StatusConflict, kindIncomplete, err.Error(), envelope{"missing": incompleteErr.Missing})
	case errors.As(err, &maxBytesErr):
		h.errorResponse(w, r, http.StatusRequestEntityTooLarge, kindTooLarge,
			fmt.Sprintf("body must not be larger than %d bytes", maxBytesErr.Limit), nil)
	case errors.As(err, &deliveryErr):
		h.errorResponse(w, r, http.StatusBadGateway, kindDelivery, "email delivery failed",
			envelope{"detail": deliveryErr.Detail(), "id": deliveryErr.EmailID})
	case errors.Is(err, store.ErrNotFound):
		h.notFoundResponse(w, r)
	case errors.As(err, &storageErr):
		h.logError(r, err)
		h.errorResponse(w, r, http.StatusInternalServerError, kindStorage, "storage failure", nil)
	default:
		h.serverErrorResponse(w, r, err)
	}
}

func (h *BaseHandler) writeJSON(w http.ResponseWriter, status int, data any, headers http.Header) error {
	for k, v := range headers {
		for _, value := range v {
			w.Header().Add(k, value)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	encoder := json.NewEncoder(w)

	if err := encoder.Encode(data); err != nil {
		return err
	}

	return nil
}

func (h *BaseHandler) readJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576) // 1MB

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	err := dec.Decode(dst)
	if err != nil {
		var syntaxError *json.SyntaxError
		var unmarshalTypeError *json.UnmarshalTypeError
		var invalidUnmarshalError *json.InvalidUnmarshalError
		var maxBytesError *http.MaxBytesError

		switch {
		case errors.As(err, &syntaxError):
			return fmt.Errorf("body contains badly-formed JSON (at character %d)", syntaxError.Offset)
		case errors.Is(err, io.ErrUnexpectedEOF):
			return errors.New("body contains badly-formed JSON")
		case errors.As(err, &unmarshalTypeError):
			if unmarshalTypeError.Field != "" {
				return fmt.Errorf("body contains incorrect JSON type for field %q", unmarshalTypeError.Field)
			}
			return fmt.Errorf("body contains incorrect JSON type (at character %d)", unmarshalTypeError.Offset)
		case errors.Is(err, io.EOF):
			return errors.New("body must not be empty")
		case errors.As(err, &maxBytesError):
			return fmt.Errorf("body must not be larger than %d bytes", maxBytesError.Limit)
		case errors.As(err, &invalidUnmarshalError):
			panic(err)
		default:
			return err
		}
	}

	// Ensure only a single JSON value is present in the body
	err = dec.Decode(&struct{}{})
	if !errors.Is(err, io.EOF) {
		return errors.New("body must only contain a single JSON value")
	}

	return nil
}

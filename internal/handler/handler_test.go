package handler

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chunkmail/internal/mailer"
	"github.com/chunkmail/internal/model"
	"github.com/chunkmail/internal/provider"
	"github.com/chunkmail/internal/store"
	"github.com/chunkmail/internal/upload"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	err  error
	sent []*provider.Message
}

func (f *fakeProvider) Send(_ context.Context, msg *provider.Message) error {
	f.sent = append(f.sent, msg)
	return f.err
}

func (f *fakeProvider) Name() string { return "fake" }

type testServer struct {
	router    http.Handler
	provider  *fakeProvider
	emails    *store.EmailStore
	assembler *upload.Assembler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	db, err := store.Open(context.Background(), store.DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	root := t.TempDir()
	chunks, err := upload.NewChunkStore(filepath.Join(root, "chunks"), logger)
	require.NoError(t, err)
	assembler, err := upload.NewAssembler(chunks, filepath.Join(root, "artifacts"), logger)
	require.NoError(t, err)

	ts := &testServer{
		provider:  &fakeProvider{},
		emails:    store.NewEmailStore(db),
		assembler: assembler,
	}
	pipeline := mailer.New(ts.emails, store.NewAttachmentStore(db), ts.provider, logger)

	base := BaseHandler{Logger: logger}
	uploads := NewUploadHandler(base, chunks, assembler, 1)
	emails := NewEmailHandler(base, pipeline, ts.emails, assembler, 1)

	r := chi.NewRouter()
	r.Get("/api/health", base.Health(db, "fake"))
	r.Post("/api/uploads/chunk", uploads.Chunk)
	r.Post("/api/uploads/complete", uploads.Complete)
	r.Post("/api/emails", emails.Send)
	r.Get("/api/emails", emails.List)
	r.Get("/api/emails/{id}", emails.Get)
	r.Delete("/api/emails/{id}", emails.Delete)
	ts.router = r
	return ts
}

func (ts *testServer) do(t *testing.T, method, target, contentType string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rr := httptest.NewRecorder()
	ts.router.ServeHTTP(rr, req)
	return rr
}

func (ts *testServer) postJSON(t *testing.T, target string, v any) *httptest.ResponseRecorder {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return ts.do(t, http.MethodPost, target, "application/json", bytes.NewReader(b))
}

func (ts *testServer) putChunk(t *testing.T, uploadID string, index, total int, data string) *httptest.ResponseRecorder {
	t.Helper()
	target := fmt.Sprintf("/api/uploads/chunk?uploadId=%s&fileName=x.txt&chunkIndex=%d&totalChunks=%d", uploadID, index, total)
	return ts.do(t, http.MethodPost, target, "application/octet-stream", strings.NewReader(data))
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out), rr.Body.String())
	return out
}

func TestChunkedUploadAndSend(t *testing.T) {
	ts := newTestServer(t)

	for i, part := range []string{"aaaaaaaaaa", "bbbbbbbbbb", "cccccccccc"} {
		rr := ts.putChunk(t, "u1", i, 3, part)
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		assert.Equal(t, float64(i), decode(t, rr)["chunkIndex"])
	}

	rr := ts.postJSON(t, "/api/uploads/complete", map[string]any{
		"uploadId": "u1", "fileName": "x.txt", "totalChunks": 3, "mimeType": "text/plain",
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	completed := decode(t, rr)
	path := completed["path"].(string)
	assert.Equal(t, "x.txt", completed["fileName"])
	assert.Equal(t, "text/plain", completed["mimeType"])

	rr = ts.postJSON(t, "/api/emails", map[string]any{
		"sender":      "from@example.org",
		"recipients":  "a@example.org, b@example.org",
		"subject":     "Report",
		"body":        "See attached",
		"attachments": []string{path},
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	id := int64(decode(t, rr)["id"].(float64))

	require.Len(t, ts.provider.sent, 1)
	msg := ts.provider.sent[0]
	assert.Equal(t, []string{"a@example.org", "b@example.org"}, msg.To)
	require.Len(t, msg.Attachments, 1)
	assert.Equal(t, "x.txt", msg.Attachments[0].Filename)
	content, err := base64.StdEncoding.DecodeString(msg.Attachments[0].Content)
	require.NoError(t, err)
	assert.Equal(t, "aaaaaaaaaabbbbbbbbbbcccccccccc", string(content))

	_, err = os.Stat(path)
	assert.True(t, errors.Is(err, os.ErrNotExist), "artifact should be deleted after send")

	email, err := ts.emails.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSent, email.Status)
}

func TestCompleteIncompleteUpload(t *testing.T) {
	ts := newTestServer(t)
	require.Equal(t, http.StatusOK, ts.putChunk(t, "u2", 0, 3, "0123456789").Code)
	require.Equal(t, http.StatusOK, ts.putChunk(t, "u2", 2, 3, "0123456789").Code)

	rr := ts.postJSON(t, "/api/uploads/complete", map[string]any{
		"uploadId": "u2", "fileName": "x.txt", "totalChunks": 3,
	})
	require.Equal(t, http.StatusConflict, rr.Code)
	body := decode(t, rr)
	assert.Equal(t, kindIncomplete, body["kind"])
	assert.Equal(t, []any{float64(1)}, body["missing"])
}

func TestChunkRejectsBadParameters(t *testing.T) {
	ts := newTestServer(t)

	cases := []struct {
		name   string
		target string
	}{
		{"non-numeric index", "/api/uploads/chunk?uploadId=u1&chunkIndex=x&totalChunks=3"},
		{"index out of range", "/api/uploads/chunk?uploadId=u1&chunkIndex=3&totalChunks=3"},
		{"zero total", "/api/uploads/chunk?uploadId=u1&chunkIndex=0&totalChunks=0"},
		{"unsafe upload id", "/api/uploads/chunk?uploadId=..%2Fetc&chunkIndex=0&totalChunks=1"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := ts.do(t, http.MethodPost, tc.target, "application/octet-stream", strings.NewReader("data"))
			assert.Equal(t, http.StatusBadRequest, rr.Code)
			assert.Equal(t, kindValidation, decode(t, rr)["kind"])
		})
	}
}

func TestChunkTooLarge(t *testing.T) {
	ts := newTestServer(t)
	big := strings.Repeat("x", 1<<20+1)

	rr := ts.putChunk(t, "u3", 0, 1, big)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
}

func TestSendMissingSender(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.postJSON(t, "/api/emails", map[string]any{
		"sender": "", "recipients": []string{"to@example.org"}, "subject": "s", "body": "b",
	})
	require.Equal(t, http.StatusBadRequest, rr.Code)
	body := decode(t, rr)
	assert.Equal(t, kindValidation, body["kind"])
	assert.Equal(t, []any{"sender"}, body["fields"])

	list, err := ts.emails.ListAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.Empty(t, ts.provider.sent)
}

func TestSendRejectsForeignAttachmentPath(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.postJSON(t, "/api/emails", map[string]any{
		"sender": "from@example.org", "recipients": "to@example.org", "subject": "s", "body": "b",
		"attachments": []string{"/etc/passwd"},
	})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Empty(t, ts.provider.sent)
}

func TestSendDeliveryFailure(t *testing.T) {
	ts := newTestServer(t)
	ts.provider.err = errors.New("mailbox unavailable")

	rr := ts.postJSON(t, "/api/emails", map[string]any{
		"sender": "from@example.org", "recipients": []string{"to@example.org"}, "subject": "s", "body": "b",
	})
	require.Equal(t, http.StatusBadGateway, rr.Code)
	body := decode(t, rr)
	assert.Equal(t, kindDelivery, body["kind"])
	assert.Equal(t, "mailbox unavailable", body["detail"])

	email, err := ts.emails.GetByID(context.Background(), int64(body["id"].(float64)))
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, email.Status)
}

func TestSendMultipartWithFile(t *testing.T) {
	ts := newTestServer(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("sender", "from@example.org"))
	require.NoError(t, mw.WriteField("recipients", "a@example.org"))
	require.NoError(t, mw.WriteField("recipients", "b@example.org,c@example.org"))
	require.NoError(t, mw.WriteField("subject", "Photos"))
	require.NoError(t, mw.WriteField("body", "Attached"))
	fw, err := mw.CreateFormFile("attachments", "photo.png")
	require.NoError(t, err)
	_, err = fw.Write([]byte("not really a png"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	rr := ts.do(t, http.MethodPost, "/api/emails", mw.FormDataContentType(), &buf)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	require.Len(t, ts.provider.sent, 1)
	msg := ts.provider.sent[0]
	assert.Equal(t, []string{"a@example.org", "b@example.org", "c@example.org"}, msg.To)
	require.Len(t, msg.Attachments, 1)
	assert.Equal(t, "photo.png", msg.Attachments[0].Filename)
	assert.Equal(t, "image/png", msg.Attachments[0].Type)
}

func TestSendMultipartValidationDiscardsFiles(t *testing.T) {
	ts := newTestServer(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("recipients", "a@example.org"))
	fw, err := mw.CreateFormFile("attachments", "notes.txt")
	require.NoError(t, err)
	_, err = fw.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	rr := ts.do(t, http.MethodPost, "/api/emails", mw.FormDataContentType(), &buf)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	dir := filepath.Dir(mustArtifactDir(t, ts))
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

// mustArtifactDir returns a path inside the artifact directory.
func mustArtifactDir(t *testing.T, ts *testServer) string {
	t.Helper()
	path, err := ts.assembler.SaveArtifact("probe.txt", strings.NewReader(""))
	require.NoError(t, err)
	require.NoError(t, os.Remove(path))
	return path
}

func TestEmailRecordEndpoints(t *testing.T) {
	ts := newTestServer(t)

	for i := 0; i < 2; i++ {
		rr := ts.postJSON(t, "/api/emails", map[string]any{
			"sender": "from@example.org", "recipients": "to@example.org",
			"subject": fmt.Sprintf("s%d", i), "body": "b",
		})
		require.Equal(t, http.StatusCreated, rr.Code)
	}

	rr := ts.do(t, http.MethodGet, "/api/emails", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var list struct {
		Emails []model.Email `json:"emails"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
	require.Len(t, list.Emails, 2)
	assert.Equal(t, "s1", list.Emails[0].Subject)

	id := list.Emails[0].ID
	rr = ts.do(t, http.MethodGet, fmt.Sprintf("/api/emails/%d", id), "", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = ts.do(t, http.MethodDelete, fmt.Sprintf("/api/emails/%d", id), "", nil)
	assert.Equal(t, http.StatusNoContent, rr.Code)

	rr = ts.do(t, http.MethodGet, fmt.Sprintf("/api/emails/%d", id), "", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = ts.do(t, http.MethodDelete, "/api/emails/9999", "", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = ts.do(t, http.MethodGet, "/api/emails/abc", "", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(t, http.MethodGet, "/api/health", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	body := decode(t, rr)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "fake", body["provider"])
}

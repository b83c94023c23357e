package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/doctalk/internal/chat"
	"github.com/hyperjump/doctalk/internal/config"
	"github.com/hyperjump/doctalk/internal/extract"
	"github.com/hyperjump/doctalk/internal/llm"
	"github.com/hyperjump/doctalk/internal/models"
	"github.com/hyperjump/doctalk/internal/session"
	"github.com/hyperjump/doctalk/internal/storage"
)

type mockWatchService struct {
	dirs []string
}

func (m *mockWatchService) Directories() []string {
	return append([]string(nil), m.dirs...)
}

func (m *mockWatchService) AddDirectory(path string) error {
	for _, d := range m.dirs {
		if d == path {
			return nil
		}
	}
	m.dirs = append(m.dirs, path)
	return nil
}

func (m *mockWatchService) RemoveDirectory(path string) error {
	for i, d := range m.dirs {
		if d == path {
			m.dirs = append(m.dirs[:i], m.dirs[i+1:]...)
			return nil
		}
	}
	return nil
}

func newTestServer(t *testing.T, client llm.ChatClient, mutate func(*config.Config)) (*Server, *session.Store) {
	t.Helper()
	cfg := config.Default()
	if mutate != nil {
		mutate(cfg)
	}
	store := session.NewStore()
	svc := chat.NewService(store, client, extract.NewExtractor())
	return NewServer(svc, nil, cfg, zap.NewNop(), nil, ""), store
}

func uploadRequest(t *testing.T, field, filename string, content []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile(field, filename)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatal(err)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	r := httptest.NewRequest(http.MethodPost, "/api/upload", &body)
	r.Header.Set("Content-Type", mw.FormDataContentType())
	return r
}

func chatRequest(path, prompt string) *http.Request {
	body, _ := json.Marshal(models.ChatRequest{Prompt: prompt})
	r := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	return r
}

func serve(srv *Server, r *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, r)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
}

func TestHandleUpload(t *testing.T) {
	srv, store := newTestServer(t, llm.NewMockClient(), nil)

	w := serve(srv, uploadRequest(t, "file", "notes.txt", []byte("héllo wörld")))
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, body %s", w.Code, w.Body.String())
	}
	var out models.UploadResponse
	decode(t, w, &out)
	if out.Message != "Document 'notes.txt' uploaded successfully!" {
		t.Errorf("message: got %q", out.Message)
	}
	if out.Length != 11 {
		t.Errorf("length should count characters: got %d", out.Length)
	}
	if doc := store.Document(); doc == nil || doc.Text != "héllo wörld" {
		t.Errorf("document not stored: %+v", doc)
	}
}

func TestHandleUpload_missingFile(t *testing.T) {
	srv, _ := newTestServer(t, llm.NewMockClient(), nil)
	w := serve(srv, uploadRequest(t, "attachment", "notes.txt", []byte("x")))
	if w.Code != http.StatusBadRequest {
		t.Errorf("status: got %d, want 400", w.Code)
	}
}

func TestHandleUpload_notMultipart(t *testing.T) {
	srv, _ := newTestServer(t, llm.NewMockClient(), nil)
	r := httptest.NewRequest(http.MethodPost, "/api/upload", strings.NewReader("plain body"))
	r.Header.Set("Content-Type", "text/plain")
	w := serve(srv, r)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status: got %d, want 400", w.Code)
	}
}

func TestHandleUpload_extractionFailureKeepsDocument(t *testing.T) {
	srv, store := newTestServer(t, llm.NewMockClient(), nil)
	if w := serve(srv, uploadRequest(t, "file", "good.txt", []byte("good"))); w.Code != http.StatusOK {
		t.Fatalf("first upload: %d", w.Code)
	}

	tests := []struct {
		name    string
		content []byte
	}{
		{"bad.txt", []byte{0xff, 0xfe}},
		{"bad.docx", []byte("not a zip")},
		{"bad.pdf", []byte("not a pdf")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(srv, uploadRequest(t, "file", tt.name, tt.content))
			if w.Code != http.StatusUnprocessableEntity {
				t.Errorf("status: got %d, want 422", w.Code)
			}
			var out models.ErrorResponse
			decode(t, w, &out)
			if out.Error == "" {
				t.Error("error message should be set")
			}
			if doc := store.Document(); doc == nil || doc.Name != "good.txt" {
				t.Errorf("previous document should be kept, got %+v", doc)
			}
		})
	}
}

func TestHandleUpload_tooLarge(t *testing.T) {
	srv, store := newTestServer(t, llm.NewMockClient(), func(c *config.Config) { c.Upload.MaxBytes = 64 })
	w := serve(srv, uploadRequest(t, "file", "big.txt", bytes.Repeat([]byte("a"), 1024)))
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status: got %d, want 413", w.Code)
	}
	if store.Document() != nil {
		t.Error("oversized upload should not be stored")
	}
}

func TestHandleChat_streams(t *testing.T) {
	srv, store := newTestServer(t, llm.NewMockClient("Hello", ", ", "world"), nil)
	w := serve(srv, chatRequest("/api/chat", "hi"))
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("content type: got %q", ct)
	}
	if w.Body.String() != "Hello, world" {
		t.Errorf("body: got %q", w.Body.String())
	}
	if !w.Flushed {
		t.Error("response should be flushed")
	}
	h := store.History()
	if len(h) != 2 || h[1].Content != "Hello, world" {
		t.Errorf("history: got %+v", h)
	}
}

func TestHandleChat_flushesBeforeCompletion(t *testing.T) {
	gate := make(chan struct{})
	srv, store := newTestServer(t, llm.NewMockClient("first").HoldUntil(gate), nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/chat", "application/json", strings.NewReader(`{"prompt":"hi"}`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	got := make([]byte, 0, 5)
	buf := make([]byte, 16)
	deadline := time.Now().Add(3 * time.Second)
	for len(got) < 5 && time.Now().Before(deadline) {
		n, err := resp.Body.Read(buf)
		got = append(got, buf[:n]...)
		if err != nil {
			break
		}
	}
	if string(got) != "first" {
		t.Fatalf("first fragment should arrive before the reply completes, got %q", got)
	}
	if len(store.History()) != 0 {
		t.Error("history should not change before the reply completes")
	}
	close(gate)
	rest, _ := io.ReadAll(resp.Body)
	if len(rest) != 0 {
		t.Errorf("unexpected trailing body %q", rest)
	}
}

func TestHandleChat_errorMarker(t *testing.T) {
	srv, store := newTestServer(t, llm.NewMockClient("par", "tial").FailAfter(1, errors.New("boom")), nil)
	w := serve(srv, chatRequest("/api/chat", "hi"))
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	want := "par\n" + models.StreamErrorMarker + "model error: boom"
	if w.Body.String() != want {
		t.Errorf("body: got %q, want %q", w.Body.String(), want)
	}
	if len(store.History()) != 0 {
		t.Error("failed exchange should not be appended")
	}
}

func TestHandleChat_errorTrailer(t *testing.T) {
	srv, _ := newTestServer(t, llm.NewMockClient("par").FailAfter(1, errors.New("boom")), nil)
	w := serve(srv, chatRequest("/api/chat", "hi"))
	if got := w.Result().Trailer.Get(models.StreamErrorTrailer); got != "model error: boom" {
		t.Errorf("error trailer: got %q", got)
	}

	srv, _ = newTestServer(t, llm.NewMockClient("fine"), nil)
	w = serve(srv, chatRequest("/api/chat", "hi"))
	if got := w.Result().Trailer.Get(models.StreamErrorTrailer); got != "" {
		t.Errorf("successful reply should not carry an error trailer, got %q", got)
	}
}

func TestHandleChat_requestTimeoutMarked(t *testing.T) {
	gate := make(chan struct{})
	defer close(gate)
	srv, store := newTestServer(t, llm.NewMockClient("partial ").HoldUntil(gate), func(c *config.Config) {
		c.Server.RequestTimeout = 100 * time.Millisecond
	})

	w := serve(srv, chatRequest("/api/chat", "hi"))
	want := "partial \n" + models.StreamErrorMarker + chat.ErrReplyTimeout.Error()
	if w.Body.String() != want {
		t.Errorf("body: got %q, want %q", w.Body.String(), want)
	}
	if w.Result().Trailer.Get(models.StreamErrorTrailer) == "" {
		t.Error("timed out reply should carry an error trailer")
	}
	if len(store.History()) != 0 {
		t.Error("timed out exchange should not be appended")
	}
}

func TestHandleChatComplete_requestTimeout(t *testing.T) {
	gate := make(chan struct{})
	defer close(gate)
	srv, _ := newTestServer(t, llm.NewMockClient("partial ").HoldUntil(gate), func(c *config.Config) {
		c.Server.RequestTimeout = 100 * time.Millisecond
	})
	w := serve(srv, chatRequest("/api/chat/complete", "hi"))
	if w.Code != http.StatusGatewayTimeout {
		t.Errorf("status: got %d, want 504", w.Code)
	}
}

func TestHandleChat_errorBeforeAnyText(t *testing.T) {
	srv, _ := newTestServer(t, llm.NewMockClient().FailToStart(errors.New("connection refused")), nil)
	w := serve(srv, chatRequest("/api/chat", "hi"))
	if !strings.HasPrefix(w.Body.String(), models.StreamErrorMarker) {
		t.Errorf("body should start with the error marker: %q", w.Body.String())
	}
}

func TestHandleChat_invalidBody(t *testing.T) {
	srv, _ := newTestServer(t, llm.NewMockClient(), nil)
	for _, path := range []string{"/api/chat", "/api/chat/complete"} {
		r := httptest.NewRequest(http.MethodPost, path, strings.NewReader("{"))
		w := serve(srv, r)
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: status %d, want 400", path, w.Code)
		}
	}
}

func TestHandleChatComplete(t *testing.T) {
	srv, store := newTestServer(t, llm.NewMockClient("Go ", "rocks"), nil)
	w := serve(srv, chatRequest("/api/chat/complete", "hi"))
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	var out models.ChatResponse
	decode(t, w, &out)
	if out.Response != "Go rocks" {
		t.Errorf("response: got %q", out.Response)
	}
	if len(store.History()) != 2 {
		t.Error("exchange should be appended")
	}
}

func TestHandleChatComplete_modelError(t *testing.T) {
	srv, store := newTestServer(t, llm.NewMockClient("a", "b").FailAfter(1, errors.New("boom")), nil)
	w := serve(srv, chatRequest("/api/chat/complete", "hi"))
	if w.Code != http.StatusBadGateway {
		t.Errorf("status: got %d, want 502", w.Code)
	}
	var out models.ErrorResponse
	decode(t, w, &out)
	if !strings.Contains(out.Error, "boom") {
		t.Errorf("error: got %q", out.Error)
	}
	if len(store.History()) != 0 {
		t.Error("failed exchange should not be appended")
	}
}

func TestConversationFlow(t *testing.T) {
	client := llm.NewMockClient("Green.")
	srv, _ := newTestServer(t, client, nil)

	serve(srv, uploadRequest(t, "file", "sky.txt", []byte("The sky is green.")))
	serve(srv, chatRequest("/api/chat/complete", "What color is the sky?"))
	serve(srv, chatRequest("/api/chat", "Are you sure?"))

	last := client.LastCall()
	if len(last) != 5 {
		t.Fatalf("expected 5 messages, got %d: %+v", len(last), last)
	}
	if last[1].Content != chat.DocumentPreamble+"The sky is green." {
		t.Errorf("document message: %q", last[1].Content)
	}
	if last[3].Role != models.RoleAssistant || last[3].Content != "Green." {
		t.Errorf("previous reply should be in the history: %+v", last[3])
	}

	// A new upload starts a fresh conversation.
	serve(srv, uploadRequest(t, "file", "sea.txt", []byte("The sea is red.")))
	serve(srv, chatRequest("/api/chat/complete", "And the sea?"))
	last = client.LastCall()
	if len(last) != 3 {
		t.Errorf("history should be cleared by the upload, got %+v", last)
	}
}

func TestUploadThenChat_documentInPrompt(t *testing.T) {
	client := llm.NewMockClient("It says hi.")
	srv, _ := newTestServer(t, client, nil)

	w := serve(srv, uploadRequest(t, "file", "hello.txt", []byte("Hi there")))
	var up models.UploadResponse
	decode(t, w, &up)
	if up.Length != 8 {
		t.Errorf("length: got %d, want 8", up.Length)
	}

	serve(srv, chatRequest("/api/chat", "What does it say?"))
	var found bool
	for _, m := range client.LastCall() {
		if strings.Contains(m.Content, "Hi there") {
			found = true
		}
	}
	if !found {
		t.Errorf("document text missing from the outbound messages: %+v", client.LastCall())
	}
}

func TestStreamMatchesBuffered(t *testing.T) {
	fragments := []string{"The ", "answer ", "is ", "42", "."}
	streamed, _ := newTestServer(t, llm.NewMockClient(fragments...), nil)
	buffered, _ := newTestServer(t, llm.NewMockClient(fragments...), nil)

	ws := serve(streamed, chatRequest("/api/chat", "q"))
	wb := serve(buffered, chatRequest("/api/chat/complete", "q"))
	var out models.ChatResponse
	decode(t, wb, &out)
	if ws.Body.String() != out.Response {
		t.Errorf("streamed %q, buffered %q", ws.Body.String(), out.Response)
	}
}

func TestHandleDocument(t *testing.T) {
	srv, _ := newTestServer(t, llm.NewMockClient(), nil)
	if w := serve(srv, httptest.NewRequest(http.MethodGet, "/api/document", nil)); w.Code != http.StatusNotFound {
		t.Errorf("status before upload: got %d, want 404", w.Code)
	}
	serve(srv, uploadRequest(t, "file", "notes.txt", []byte("secret text")))
	w := serve(srv, httptest.NewRequest(http.MethodGet, "/api/document", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	if strings.Contains(w.Body.String(), "secret text") {
		t.Error("document text should not be returned")
	}
	var doc models.Document
	decode(t, w, &doc)
	if doc.Name != "notes.txt" || doc.Length != 11 || doc.Checksum == "" {
		t.Errorf("document: got %+v", doc)
	}
}

func TestHandleHistory(t *testing.T) {
	srv, _ := newTestServer(t, llm.NewMockClient("ok"), nil)

	w := serve(srv, httptest.NewRequest(http.MethodGet, "/api/history", nil))
	if strings.TrimSpace(w.Body.String()) != `{"turns":[]}` {
		t.Errorf("empty history: got %s", w.Body.String())
	}

	serve(srv, chatRequest("/api/chat/complete", "hi"))
	w = serve(srv, httptest.NewRequest(http.MethodGet, "/api/history", nil))
	var out models.HistoryResponse
	decode(t, w, &out)
	if len(out.Turns) != 2 || out.Turns[0].Role != models.RoleUser {
		t.Errorf("history: got %+v", out.Turns)
	}

	if w := serve(srv, httptest.NewRequest(http.MethodDelete, "/api/history", nil)); w.Code != http.StatusOK {
		t.Errorf("reset status: got %d", w.Code)
	}
	w = serve(srv, httptest.NewRequest(http.MethodGet, "/api/history", nil))
	out = models.HistoryResponse{}
	decode(t, w, &out)
	if len(out.Turns) != 0 {
		t.Errorf("history after reset: got %+v", out.Turns)
	}
}

func TestHandleHealth(t *testing.T) {
	srv, _ := newTestServer(t, llm.NewMockClient(), nil)
	w := serve(srv, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Errorf("status: got %d", w.Code)
	}
	var out map[string]string
	decode(t, w, &out)
	if out["status"] != "ok" {
		t.Errorf("health: got %v", out)
	}
}

func TestHandleStatus_withArchive(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "archive.db")
	archive, err := storage.NewSQLiteArchive(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	defer archive.Close()

	cfg := config.Default()
	cfg.Storage.DatabasePath = dbPath
	store := session.NewStore()
	svc := chat.NewService(store, llm.NewMockClient("ok"), extract.NewExtractor(), chat.WithArchive(archive))
	srv := NewServer(svc, archive, cfg, zap.NewNop(), nil, "")

	serve(srv, uploadRequest(t, "file", "a.txt", []byte("A")))
	serve(srv, chatRequest("/api/chat/complete", "q"))

	w := serve(srv, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	var out struct {
		Model        string `json:"model"`
		HistoryTurns int    `json:"history_turns"`
		Archive      struct {
			Documents int64 `json:"documents"`
			Exchanges int64 `json:"exchanges"`
			SizeBytes int64 `json:"size_bytes"`
		} `json:"archive"`
	}
	decode(t, w, &out)
	if out.Model != cfg.Model.Name || out.HistoryTurns != 2 {
		t.Errorf("status: got %+v", out)
	}
	if out.Archive.Documents != 1 || out.Archive.Exchanges != 1 || out.Archive.SizeBytes == 0 {
		t.Errorf("archive: got %+v", out.Archive)
	}
}

func TestCORS(t *testing.T) {
	srv, store := newTestServer(t, llm.NewMockClient(), nil)
	r := httptest.NewRequest(http.MethodOptions, "/api/chat", nil)
	r.Header.Set("Origin", "http://localhost:8501")
	r.Header.Set("Access-Control-Request-Method", "POST")
	w := serve(srv, r)
	if w.Code != http.StatusOK {
		t.Errorf("preflight status: got %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("allow origin: got %q", got)
	}
	if got := w.Header().Get("Access-Control-Allow-Methods"); got != http.MethodPost {
		t.Errorf("allow methods: got %q", got)
	}
	if len(store.History()) != 0 {
		t.Error("preflight should not reach the chat handler")
	}
}

func TestCORS_restrictedOrigins(t *testing.T) {
	srv, _ := newTestServer(t, llm.NewMockClient(), func(c *config.Config) {
		c.Server.CORSAllowedOrigins = []string{"http://ui.local"}
	})
	tests := map[string]string{
		"http://ui.local":   "http://ui.local",
		"http://evil.local": "",
	}
	for origin, want := range tests {
		r := httptest.NewRequest(http.MethodGet, "/health", nil)
		r.Header.Set("Origin", origin)
		w := serve(srv, r)
		if got := w.Header().Get("Access-Control-Allow-Origin"); got != want {
			t.Errorf("origin %s: allow origin %q, want %q", origin, got, want)
		}
		if want != "" && !strings.Contains(w.Header().Get("Vary"), "Origin") {
			t.Errorf("origin %s: response should vary on Origin", origin)
		}
	}
}

func TestHandleWatchDirectories(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	cfg := config.Default()
	svc := chat.NewService(session.NewStore(), llm.NewMockClient(), extract.NewExtractor())
	mock := &mockWatchService{dirs: []string{"/tmp/inbox"}}
	srv := NewServer(svc, nil, cfg, zap.NewNop(), mock, cfgPath)

	w := serve(srv, httptest.NewRequest(http.MethodGet, "/api/watch/directories", nil))
	var list struct {
		Directories []string `json:"directories"`
	}
	decode(t, w, &list)
	if len(list.Directories) != 1 || list.Directories[0] != "/tmp/inbox" {
		t.Errorf("directories: got %v", list.Directories)
	}

	newDir := t.TempDir()
	body, _ := json.Marshal(map[string]string{"path": newDir})
	w = serve(srv, httptest.NewRequest(http.MethodPost, "/api/watch/directories", bytes.NewReader(body)))
	if w.Code != http.StatusCreated {
		t.Fatalf("add status: got %d, body %s", w.Code, w.Body.String())
	}
	saved, err := config.Load(cfgPath)
	if err != nil {
		t.Fatal(err)
	}
	if len(saved.Watch.Directories) != 2 {
		t.Errorf("persisted directories: got %v", saved.Watch.Directories)
	}

	w = serve(srv, httptest.NewRequest(http.MethodDelete, "/api/watch/directories?path="+newDir, nil))
	if w.Code != http.StatusOK {
		t.Errorf("remove status: got %d", w.Code)
	}
	if len(mock.dirs) != 1 {
		t.Errorf("directories after remove: got %v", mock.dirs)
	}

	missing := filepath.Join(newDir, "missing")
	body, _ = json.Marshal(map[string]string{"path": missing})
	w = serve(srv, httptest.NewRequest(http.MethodPost, "/api/watch/directories", bytes.NewReader(body)))
	if w.Code != http.StatusNotFound {
		t.Errorf("missing directory: got %d, want 404", w.Code)
	}
}

func TestHandleWatchDirectories_notEnabled(t *testing.T) {
	srv, _ := newTestServer(t, llm.NewMockClient(), nil)
	w := serve(srv, httptest.NewRequest(http.MethodGet, "/api/watch/directories", nil))
	if w.Code != http.StatusNotImplemented {
		t.Errorf("status: got %d, want 501", w.Code)
	}
}

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"testing"

	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/matcher"
	"github.com/hyperjump/kotae/internal/models"
)

type fakeMatcher struct {
	resp       *models.MatchResponse
	err        error
	rebuildErr error
	removed    int
	removeErr  error
	gotRemove  string
	gotPath    string
	gotTopK    int
	pathExists bool
}

func (f *fakeMatcher) FindMatches(ctx context.Context, path string, topK int) (*models.MatchResponse, error) {
	f.gotPath = path
	f.gotTopK = topK
	_, statErr := os.Stat(path)
	f.pathExists = statErr == nil
	return f.resp, f.err
}

func (f *fakeMatcher) Rebuild(ctx context.Context) (*models.RebuildReport, *models.IndexStats, error) {
	if f.rebuildErr != nil {
		return nil, nil, f.rebuildErr
	}
	return &models.RebuildReport{ID: "r1", SuccessCount: 1, TotalCount: 2, MissingCount: 1},
		&models.IndexStats{TotalImages: 1, IndexSize: 1, FeatureDimension: 512}, nil
}

func (f *fakeMatcher) Remove(ctx context.Context, filename string) (int, error) {
	f.gotRemove = filename
	return f.removed, f.removeErr
}

func (f *fakeMatcher) Stats() *models.IndexStats {
	return &models.IndexStats{TotalImages: 3, IndexSize: 3, FeatureDimension: 512, IndexFileExists: true}
}

func newTestServer(m matcher.Matcher) *Server {
	s := NewServer(m, &config.ServerConfig{Port: 8080, MaxUploadBytes: 1 << 20}, zap.NewNop())
	return s
}

func uploadRequest(t *testing.T, contentType string, body []byte, topK string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if body != nil {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="image"; filename="query.png"`)
		h.Set("Content-Type", contentType)
		part, err := mw.CreatePart(h)
		if err != nil {
			t.Fatal(err)
		}
		_, _ = part.Write(body)
	}
	if topK != "" {
		_ = mw.WriteField("top_k", topK)
	}
	_ = mw.Close()
	r := httptest.NewRequest(http.MethodPost, "/api/v1/cab/match", &buf)
	r.Header.Set("Content-Type", mw.FormDataContentType())
	return r
}

func serve(s *Server, r *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, r)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return out
}

func TestHandleMatch_OK(t *testing.T) {
	fm := &fakeMatcher{resp: &models.MatchResponse{
		Matches: []*models.MatchResult{{Filename: "q1.jpg", Answer: "42", Similarity: 0.98, Score: 0.98, Confidence: 0.9, Rank: 1}},
		Margin:  0.1,
	}}
	s := newTestServer(fm)

	w := serve(s, uploadRequest(t, "image/png", []byte("fake png bytes"), "3"))
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, body %s", w.Code, w.Body.String())
	}
	out := decode(t, w)
	if out["success"] != true || out["status"] != statusOK {
		t.Errorf("unexpected body: %v", out)
	}
	matches := out["matches"].([]interface{})
	if len(matches) != 1 || matches[0].(map[string]interface{})["answer"] != "42" {
		t.Errorf("matches: %v", matches)
	}
	if out["stats"].(map[string]interface{})["total_images"] != float64(3) {
		t.Errorf("stats missing: %v", out["stats"])
	}
	if fm.gotTopK != 3 {
		t.Errorf("top_k: got %d", fm.gotTopK)
	}
	if !fm.pathExists {
		t.Error("upload should exist while matching")
	}
	if _, err := os.Stat(fm.gotPath); !os.IsNotExist(err) {
		t.Error("temp upload should be removed after the request")
	}
}

func TestHandleMatch_IndexEmpty(t *testing.T) {
	s := newTestServer(&fakeMatcher{err: matcher.ErrIndexEmpty})
	w := serve(s, uploadRequest(t, "image/jpeg", []byte("x"), ""))
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	out := decode(t, w)
	if out["success"] != false || out["status"] != statusIndexEmpty {
		t.Errorf("unexpected body: %v", out)
	}
	if m, ok := out["matches"].([]interface{}); !ok || len(m) != 0 {
		t.Errorf("matches should be an empty list: %v", out["matches"])
	}
}

func TestHandleMatch_NoMatch(t *testing.T) {
	s := newTestServer(&fakeMatcher{resp: &models.MatchResponse{}})
	w := serve(s, uploadRequest(t, "image/jpeg", []byte("x"), ""))
	out := decode(t, w)
	if out["success"] != true || out["status"] != statusNoMatch {
		t.Errorf("unexpected body: %v", out)
	}
}

func TestHandleMatch_ExtractionFailure(t *testing.T) {
	s := newTestServer(&fakeMatcher{err: fmt.Errorf("%w: bad pixels", matcher.ErrExtraction)})
	w := serve(s, uploadRequest(t, "image/png", []byte("x"), ""))
	if w.Code != http.StatusBadRequest {
		t.Errorf("status: got %d", w.Code)
	}
}

func TestHandleMatch_InternalError(t *testing.T) {
	s := newTestServer(&fakeMatcher{err: errors.New("disk on fire")})
	w := serve(s, uploadRequest(t, "image/png", []byte("x"), ""))
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status: got %d", w.Code)
	}
}

func TestHandleMatch_Validation(t *testing.T) {
	fm := &fakeMatcher{resp: &models.MatchResponse{}}
	s := newTestServer(fm)

	tests := []struct {
		name string
		req  *http.Request
	}{
		{"not an image", uploadRequest(t, "application/pdf", []byte("%PDF"), "")},
		{"empty image", uploadRequest(t, "image/png", []byte{}, "")},
		{"missing file", uploadRequest(t, "", nil, "")},
		{"bad top_k", uploadRequest(t, "image/png", []byte("x"), "abc")},
		{"negative top_k", uploadRequest(t, "image/png", []byte("x"), "-1")},
		{"not multipart", httptest.NewRequest(http.MethodPost, "/api/v1/cab/match", bytes.NewBufferString("{}"))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(s, tt.req)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status: got %d, body %s", w.Code, w.Body.String())
			}
		})
	}
	if fm.gotPath != "" {
		t.Error("matcher should not run for invalid uploads")
	}
}

func TestHandleRebuild(t *testing.T) {
	s := newTestServer(&fakeMatcher{})
	w := serve(s, httptest.NewRequest(http.MethodPost, "/api/v1/cab/rebuild", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	out := decode(t, w)
	if out["success"] != true || out["success_count"] != float64(1) || out["total_count"] != float64(2) {
		t.Errorf("unexpected body: %v", out)
	}
	if out["stats"] == nil {
		t.Error("stats missing")
	}

	s = newTestServer(&fakeMatcher{rebuildErr: errors.New("catalog file not found")})
	w = serve(s, httptest.NewRequest(http.MethodPost, "/api/v1/cab/rebuild", nil))
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status: got %d", w.Code)
	}
}

func TestHandleStatsAndHealth(t *testing.T) {
	s := newTestServer(&fakeMatcher{})
	w := serve(s, httptest.NewRequest(http.MethodGet, "/api/v1/cab/stats", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	out := decode(t, w)
	stats := out["stats"].(map[string]interface{})
	for _, key := range []string{"total_images", "index_size", "feature_dimension", "index_file_exists", "metadata_file_exists"} {
		if _, ok := stats[key]; !ok {
			t.Errorf("stats missing %q", key)
		}
	}

	w = serve(s, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Errorf("health status: got %d", w.Code)
	}
}

func TestHandleRemove(t *testing.T) {
	fm := &fakeMatcher{removed: 2}
	s := newTestServer(fm)
	w := serve(s, httptest.NewRequest(http.MethodDelete, "/api/v1/cab/questions/q%201.jpg", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	if fm.gotRemove != "q 1.jpg" {
		t.Errorf("filename: got %q", fm.gotRemove)
	}
	out := decode(t, w)
	if out["success"] != true || out["removed"] != float64(2) {
		t.Errorf("unexpected body: %v", out)
	}

	w = serve(newTestServer(&fakeMatcher{}), httptest.NewRequest(http.MethodDelete, "/api/v1/cab/questions/none.jpg", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown filename status: got %d", w.Code)
	}

	fm = &fakeMatcher{removeErr: errors.New("invalid filename")}
	w = serve(newTestServer(fm), httptest.NewRequest(http.MethodDelete, "/api/v1/cab/questions/x.jpg", nil))
	if w.Code != http.StatusBadRequest {
		t.Errorf("error status: got %d", w.Code)
	}
}

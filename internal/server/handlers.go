package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/matcher"
	"github.com/hyperjump/kotae/internal/models"
)

const (
	statusOK         = "ok"
	statusIndexEmpty = "index_empty"
	statusNoMatch    = "no_match"
)

type matchResponse struct {
	Success   bool                  `json:"success"`
	Status    string                `json:"status"`
	Message   string                `json:"message"`
	Matches   []*models.MatchResult `json:"matches"`
	Margin    float64               `json:"margin,omitempty"`
	Reranked  bool                  `json:"reranked,omitempty"`
	QueryTime int64                 `json:"query_time_ms,omitempty"`
	Stats     *models.IndexStats    `json:"stats"`
}

type rebuildResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	*models.RebuildReport
	Stats *models.IndexStats `json:"stats"`
}

type removeResponse struct {
	Success bool               `json:"success"`
	Message string             `json:"message"`
	Removed int                `json:"removed"`
	Stats   *models.IndexStats `json:"stats"`
}

type statsResponse struct {
	Success bool               `json:"success"`
	Stats   *models.IndexStats `json:"stats"`
}

func (s *Server) handleMatch(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes())
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.respondError(w, http.StatusRequestEntityTooLarge, "image file too large")
			return
		}
		s.respondError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("image")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "image file is required")
		return
	}
	defer file.Close()
	if !strings.HasPrefix(header.Header.Get("Content-Type"), "image/") {
		s.respondError(w, http.StatusBadRequest, "please upload an image file")
		return
	}

	topK := 0
	if v := r.FormValue("top_k"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.respondError(w, http.StatusBadRequest, "top_k must be a positive integer")
			return
		}
		topK = n
	}

	tmpPath, size, err := s.saveUpload(file, header.Filename)
	if err != nil {
		s.logger.Error("saving upload failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "failed to store upload")
		return
	}
	defer os.Remove(tmpPath)
	if size == 0 {
		s.respondError(w, http.StatusBadRequest, "image file is empty")
		return
	}
	s.logger.Debug("match request", zap.String("filename", header.Filename), zap.Int64("size", size), zap.Int("top_k", topK))

	resp, err := s.matcher.FindMatches(r.Context(), tmpPath, topK)
	switch {
	case errors.Is(err, matcher.ErrIndexEmpty):
		s.respondJSON(w, http.StatusOK, &matchResponse{
			Status:  statusIndexEmpty,
			Message: "question index is empty, rebuild it first",
			Matches: []*models.MatchResult{},
			Stats:   s.matcher.Stats(),
		})
		return
	case errors.Is(err, matcher.ErrExtraction):
		s.logger.Info("query extraction failed", zap.Error(err))
		s.respondError(w, http.StatusBadRequest, "could not extract image features, check the image format")
		return
	case err != nil:
		s.logger.Error("match failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	out := &matchResponse{
		Success:   true,
		Status:    statusOK,
		Message:   fmt.Sprintf("found %d matches", len(resp.Matches)),
		Matches:   resp.Matches,
		Margin:    resp.Margin,
		Reranked:  resp.Reranked,
		QueryTime: resp.QueryTime,
		Stats:     s.matcher.Stats(),
	}
	if len(resp.Matches) == 0 {
		out.Status = statusNoMatch
		out.Message = "no similar question found"
		out.Matches = []*models.MatchResult{}
	}
	s.respondJSON(w, http.StatusOK, out)
}

// saveUpload copies the upload to a uniquely named temp file keeping its extension.
func (s *Server) saveUpload(src io.Reader, filename string) (string, int64, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if len(ext) > 8 {
		ext = ""
	}
	path := filepath.Join(s.uploadDir, "kotae_upload_"+uuid.New().String()+ext)
	dst, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return "", 0, err
	}
	n, err := io.Copy(dst, src)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
		return "", 0, err
	}
	return path, n, nil
}

func (s *Server) handleRebuild(w http.ResponseWriter, r *http.Request) {
	s.logger.Info("rebuild request")
	report, stats, err := s.matcher.Rebuild(r.Context())
	if err != nil {
		s.logger.Error("rebuild failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "rebuilding index failed: "+err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, &rebuildResponse{
		Success:       true,
		Message:       fmt.Sprintf("index rebuilt, %d/%d images processed", report.SuccessCount, report.TotalCount),
		RebuildReport: report,
		Stats:         stats,
	})
}

// handleRemove drops a question's metadata. Its vector is only discarded by
// the next rebuild.
func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	filename := chi.URLParam(r, "filename")
	n, err := s.matcher.Remove(r.Context(), filename)
	if err != nil {
		s.logger.Error("remove failed", zap.String("filename", filename), zap.Error(err))
		s.respondError(w, http.StatusBadRequest, "removing question failed: "+err.Error())
		return
	}
	if n == 0 {
		s.respondError(w, http.StatusNotFound, "question not found: "+filename)
		return
	}
	s.respondJSON(w, http.StatusOK, &removeResponse{
		Success: true,
		Message: fmt.Sprintf("removed %d question(s), rebuild to drop their vectors", n),
		Removed: n,
		Stats:   s.matcher.Stats(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, &statsResponse{Success: true, Stats: s.matcher.Stats()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}

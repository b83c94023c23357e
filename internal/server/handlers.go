package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/doctalk/internal/config"
	"github.com/hyperjump/doctalk/internal/extract"
	"github.com/hyperjump/doctalk/internal/llm"
	"github.com/hyperjump/doctalk/internal/models"
	"github.com/hyperjump/doctalk/internal/storage"
)

// multipartMemory is how much of an upload is kept in memory before spilling to disk.
const multipartMemory = 8 << 20

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	maxBytes := s.config.Upload.MaxBytes
	if maxBytes > 0 {
		if r.ContentLength > maxBytes {
			s.respondError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("upload exceeds %d bytes", maxBytes))
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.respondError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("upload exceeds %d bytes", maxBytes))
			return
		}
		s.respondError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, header, err := r.FormFile("file")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()
	content, err := io.ReadAll(file)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "failed to read upload")
		return
	}

	s.logger.Debug("upload request", zap.String("name", header.Filename), zap.Int("bytes", len(content)))
	doc, err := s.chat.Ingest(r.Context(), header.Filename, content)
	if err != nil {
		if errors.Is(err, extract.ErrExtraction) || errors.Is(err, extract.ErrDecode) {
			s.respondError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		s.logger.Error("upload failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, models.UploadResponse{
		Message: fmt.Sprintf("Document '%s' uploaded successfully!", doc.Name),
		Length:  doc.Length,
	})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req models.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.logger.Debug("chat request", zap.Int("prompt_bytes", len(req.Prompt)))

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Trailer", models.StreamErrorTrailer)
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)
	flush := func() {
		if flusher != nil {
			flusher.Flush()
		}
	}
	flush()

	wrote := false
	for ev := range s.chat.Stream(r.Context(), req.Prompt) {
		if ev.Err != nil {
			marker := models.StreamErrorMarker + ev.Err.Error()
			if wrote {
				marker = "\n" + marker
			}
			_, _ = io.WriteString(w, marker)
			flush()
			w.Header().Set(models.StreamErrorTrailer, strings.Join(strings.Fields(ev.Err.Error()), " "))
			continue
		}
		if _, err := io.WriteString(w, ev.Text); err != nil {
			s.logger.Debug("client went away", zap.Error(err))
			continue
		}
		wrote = true
		flush()
	}
}

func (s *Server) handleChatComplete(w http.ResponseWriter, r *http.Request) {
	var req models.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	reply, err := s.chat.Complete(r.Context(), req.Prompt)
	if err != nil {
		switch {
		case errors.Is(err, llm.ErrModel):
			s.respondError(w, http.StatusBadGateway, err.Error())
		case errors.Is(err, context.DeadlineExceeded):
			s.respondError(w, http.StatusGatewayTimeout, "request timed out")
		default:
			s.logger.Error("chat failed", zap.Error(err))
			s.respondError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	s.respondJSON(w, http.StatusOK, models.ChatResponse{Response: reply})
}

func (s *Server) handleDocument(w http.ResponseWriter, r *http.Request) {
	doc := s.chat.Document()
	if doc == nil {
		s.respondError(w, http.StatusNotFound, "no document uploaded")
		return
	}
	s.respondJSON(w, http.StatusOK, doc)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	turns := s.chat.History()
	if turns == nil {
		turns = []models.Turn{}
	}
	s.respondJSON(w, http.StatusOK, models.HistoryResponse{Turns: turns})
}

func (s *Server) handleResetHistory(w http.ResponseWriter, r *http.Request) {
	s.chat.Reset()
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"model":         s.config.Model.Name,
		"provider":      s.config.Model.Provider,
		"history_turns": len(s.chat.History()),
	}
	if doc := s.chat.Document(); doc != nil {
		resp["document"] = doc
	}
	if s.archive != nil {
		ctx := r.Context()
		docCount, err := s.archive.CountDocuments(ctx)
		if err != nil {
			s.logger.Error("status: count documents failed", zap.Error(err))
			s.respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		exCount, err := s.archive.CountExchanges(ctx)
		if err != nil {
			s.logger.Error("status: count exchanges failed", zap.Error(err))
			s.respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		archive := map[string]interface{}{
			"documents": docCount,
			"exchanges": exCount,
			"path":      s.config.Storage.DatabasePath,
		}
		if size, err := storage.SizeBytes(s.config.Storage.DatabasePath); err == nil {
			archive["size_bytes"] = size
		}
		resp["archive"] = archive
	}
	if s.watch != nil {
		resp["watch_directories"] = s.watch.Directories()
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleWatchDirectoriesList(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"directories": s.watch.Directories()})
}

type watchRequest struct {
	Path string `json:"path"`
}

func (s *Server) handleWatchDirectoriesAdd(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	var req watchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Path == "" {
		s.respondError(w, http.StatusBadRequest, "path is required")
		return
	}
	abs, err := filepath.Abs(req.Path)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid path")
		return
	}
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			s.respondError(w, http.StatusNotFound, "directory not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !info.IsDir() {
		s.respondError(w, http.StatusBadRequest, "path is not a directory")
		return
	}
	if err := s.watch.AddDirectory(abs); err != nil {
		s.logger.Error("watch add directory failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.persistWatchDirectories()
	s.respondJSON(w, http.StatusCreated, map[string]string{"path": abs, "status": "added"})
}

func (s *Server) handleWatchDirectoriesRemove(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	path := r.URL.Query().Get("path")
	if path == "" {
		var body watchRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err == nil {
			path = body.Path
		}
	}
	if path == "" {
		s.respondError(w, http.StatusBadRequest, "path is required (query or body)")
		return
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid path")
		return
	}
	if err := s.watch.RemoveDirectory(abs); err != nil {
		s.logger.Error("watch remove directory failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.persistWatchDirectories()
	s.respondJSON(w, http.StatusOK, map[string]string{"path": abs, "status": "removed"})
}

// persistWatchDirectories writes the current inbox list back to the config file.
func (s *Server) persistWatchDirectories() {
	if s.configPath == "" {
		return
	}
	s.configMu.Lock()
	defer s.configMu.Unlock()
	s.config.Watch.Directories = s.watch.Directories()
	if err := config.Save(s.configPath, s.config); err != nil {
		s.logger.Warn("failed to persist watch config", zap.Error(err))
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, models.ErrorResponse{Error: message})
}

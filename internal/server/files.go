package server

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"erpchat/internal/protocol"
	"erpchat/internal/storage"
)

// handleUpload stores one multipart "file" and answers with its reference.
// The file is linked to a message later, by id, through sendMessage.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes+(1<<20))
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeUploadError(w, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		writeUploadError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeUploadError(w, http.StatusBadRequest, "no file provided")
		return
	}
	defer file.Close()

	filename := filepath.Base(header.Filename)
	if filename == "" || filename == "." || filename == ".." || filename == string(filepath.Separator) {
		writeUploadError(w, http.StatusBadRequest, "invalid filename")
		return
	}
	if header.Size > s.cfg.MaxUploadBytes {
		writeUploadError(w, http.StatusRequestEntityTooLarge, "file too large")
		return
	}

	if err := os.MkdirAll(s.cfg.UploadDir, 0o755); err != nil {
		s.log.Error().Err(err).Msg("create upload dir")
		writeUploadError(w, http.StatusInternalServerError, "could not store file")
		return
	}
	relPath := uuid.NewString() + "-" + sanitizePathComponent(filename)
	diskPath := filepath.Join(s.cfg.UploadDir, relPath)
	dest, err := os.Create(diskPath)
	if err != nil {
		s.log.Error().Err(err).Msg("create upload file")
		writeUploadError(w, http.StatusInternalServerError, "could not store file")
		return
	}
	hasher := sha256.New()
	written, err := io.Copy(io.MultiWriter(dest, hasher), io.LimitReader(file, s.cfg.MaxUploadBytes+1))
	closeErr := dest.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(diskPath)
		s.log.Error().Err(err).Msg("write upload file")
		writeUploadError(w, http.StatusInternalServerError, "could not store file")
		return
	}
	if written > s.cfg.MaxUploadBytes {
		_ = os.Remove(diskPath)
		writeUploadError(w, http.StatusRequestEntityTooLarge, "file too large")
		return
	}

	mimeType := "application/octet-stream"
	if detected, err := mimetype.DetectFile(diskPath); err == nil {
		mimeType = detected.String()
	}

	uploader := strings.TrimSpace(r.FormValue("userId"))
	record := storage.File{
		Name:       filename,
		Size:       written,
		MimeType:   mimeType,
		Path:       relPath,
		SHA256:     hex.EncodeToString(hasher.Sum(nil)),
		UploadedBy: uploader,
	}
	id, err := s.store.CreateFile(r.Context(), record)
	if err != nil {
		_ = os.Remove(diskPath)
		s.log.Error().Err(err).Msg("record upload")
		writeUploadError(w, http.StatusInternalServerError, "could not store file")
		return
	}
	record.ID = id
	s.metrics.FilesUploaded.Inc()
	s.metrics.UploadBytes.Add(float64(written))
	s.log.Info().Int64("file", id).Str("name", filename).Int64("size", written).Str("user", uploader).Msg("file uploaded")

	ref := wireFile(record)
	writeJSON(w, http.StatusOK, protocol.UploadResponse{Success: true, File: &ref})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, errors.New("invalid file id"))
		return
	}
	meta, err := s.store.GetFile(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, errors.New("file not found"))
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	// Path comes from the database, but still keep reads inside the upload dir.
	diskPath := filepath.Join(s.cfg.UploadDir, meta.Path)
	rel, err := filepath.Rel(s.cfg.UploadDir, diskPath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		writeError(w, http.StatusForbidden, errors.New("invalid file path"))
		return
	}

	f, err := os.Open(diskPath)
	if err != nil {
		if os.IsNotExist(err) {
			writeError(w, http.StatusNotFound, errors.New("file not found on disk"))
		} else {
			writeError(w, http.StatusInternalServerError, err)
		}
		return
	}
	defer f.Close()

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", meta.Name))
	w.Header().Set("Content-Type", meta.MimeType)
	http.ServeContent(w, r, meta.Name, meta.CreatedAt, f)
}

func writeUploadError(w http.ResponseWriter, status int, reason string) {
	writeJSON(w, status, protocol.UploadResponse{Error: reason})
}

// sanitizePathComponent removes path separators and NUL bytes.
func sanitizePathComponent(s string) string {
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	s = strings.ReplaceAll(s, "\x00", "")
	s = strings.TrimSpace(s)
	if s == "" || s == "." || s == ".." {
		return "unnamed"
	}
	return s
}

// internal/httpserver/routes_upload.go
//
// Upload and setup routes.
//   - POST /api/upload  multipart "file" -> {url, filename}. Images only,
//     at most 5 MiB (exactly 5 MiB is accepted).
//   - POST /api/setup   one-time schema bootstrap. 404 unless
//     ENABLE_SETUP_ROUTE=true; rate limited; needs ADMIN_PASSWORD.

package httpserver

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/schoolpaper/newsroom/internal/blob"
	"github.com/schoolpaper/newsroom/internal/credential"
	"github.com/schoolpaper/newsroom/internal/identity"
	"github.com/schoolpaper/newsroom/internal/logging"
	"github.com/schoolpaper/newsroom/internal/metrics"
)

// multipartOverhead covers boundaries and part headers around the file.
const multipartOverhead = 1 << 20

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := identity.RequireAuth(identity.FromContext(r.Context())); err != nil {
		s.fail(w, r, err)
		return
	}
	limit := s.cfg.Upload.MaxBytes
	backend := s.blobs.Backend()

	r.Body = http.MaxBytesReader(w, r.Body, limit+multipartOverhead)
	if err := r.ParseMultipartForm(limit + multipartOverhead); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) || errors.Is(err, multipart.ErrMessageTooLarge) {
			metrics.RecordUpload(backend, "too_large")
			writeError(w, http.StatusBadRequest, blob.ErrTooLarge.Error())
			return
		}
		writeError(w, http.StatusBadRequest, "Invalid upload")
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, blob.ErrEmpty.Error())
		return
	}
	defer file.Close()

	if header.Size > limit {
		metrics.RecordUpload(backend, "too_large")
		writeError(w, http.StatusBadRequest, blob.ErrTooLarge.Error())
		return
	}
	data, err := io.ReadAll(io.LimitReader(file, limit+1))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	mt, err := blob.Check(header.Header.Get("Content-Type"), data, limit)
	if err != nil {
		metrics.RecordUpload(backend, "rejected")
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	obj, err := s.blobs.Put(r.Context(), blob.ObjectName(header.Filename, mt), mt.String(), data)
	if err != nil {
		metrics.RecordUpload(backend, "error")
		s.fail(w, r, err)
		return
	}
	metrics.RecordUpload(backend, "stored")
	logging.Ctx(r.Context()).Info().Str("backend", backend).Int("size", obj.Size).Str("type", obj.ContentType).Msg("file uploaded")
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"url":      obj.URL,
		"filename": obj.Filename,
	})
}

func (s *Server) handleSetup(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.Server.EnableSetupRoute {
		writeError(w, http.StatusNotFound, "Not found")
		return
	}
	if !s.allow(w, r, "setup", setupLimit, setupWindow) {
		return
	}
	var body passwordReq
	if !decodeJSON(w, r, &body) {
		return
	}
	stored := s.cfg.Security.AdminPassword
	if body.Password == "" || stored == "" || !credential.VerifyPassword(body.Password, stored) {
		metrics.RecordAuthAttempt("setup", "failure")
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	if !s.requireDB(w, r) {
		return
	}

	res, err := s.db.Migrate(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	logging.Ctx(r.Context()).Info().Uint("version", res.Version).Bool("applied", res.Applied).Msg("setup ran migrations")
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"version": res.Version,
		"applied": res.Applied,
	})
}

package httpserver

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/schoolpaper/newsroom/internal/blob"
	"github.com/schoolpaper/newsroom/internal/database"
	"github.com/schoolpaper/newsroom/internal/identity"
	"github.com/schoolpaper/newsroom/internal/logging"
	"github.com/schoolpaper/newsroom/internal/metrics"
	"github.com/schoolpaper/newsroom/internal/post"
	"github.com/schoolpaper/newsroom/internal/ratelimit"
	"github.com/schoolpaper/newsroom/internal/user"
	"github.com/schoolpaper/newsroom/internal/validation"
)

const maxJSONBody = 1 << 20

// errorBody is the shape of every error response.
type errorBody struct {
	Error      string                  `json:"error"`
	Fields     []validation.FieldError `json:"fields,omitempty"`
	RetryAfter int                     `json:"retryAfter,omitempty"`
	Details    string                  `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"Internal server error"}`))
		return
	}
	writeRaw(w, status, data)
}

func writeRaw(w http.ResponseWriter, status int, data []byte) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// decodeJSON reads a bounded JSON body into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxJSONBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

// fail maps an error from the layers below to a status code. Unexpected
// errors are logged and answered with a generic 500; the error text is only
// sent back in development.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	var ve *validation.Error
	switch {
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: ve.Message(), Fields: ve.Fields})
	case errors.Is(err, identity.ErrUnauthenticated):
		writeError(w, http.StatusUnauthorized, "Unauthorized")
	case errors.Is(err, identity.ErrForbidden):
		writeError(w, http.StatusForbidden, "Forbidden")
	case errors.Is(err, user.ErrNotFound):
		writeError(w, http.StatusNotFound, "User not found")
	case errors.Is(err, post.ErrNotFound):
		writeError(w, http.StatusNotFound, "Post not found")
	case errors.Is(err, user.ErrUsernameTaken):
		writeError(w, http.StatusConflict, "Username already taken")
	case errors.Is(err, post.ErrSlugTaken):
		writeError(w, http.StatusConflict, "A post with this slug already exists, please retry")
	case errors.Is(err, database.ErrUnavailable):
		writeError(w, http.StatusServiceUnavailable, "Database not configured")
	case errors.Is(err, blob.ErrUnavailable):
		writeError(w, http.StatusServiceUnavailable, blob.ErrUnavailable.Error())
	default:
		logging.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		body := errorBody{Error: "Internal server error"}
		if s.cfg.IsDevelopment() {
			body.Details = err.Error()
		}
		writeJSON(w, http.StatusInternalServerError, body)
	}
}

// allow runs the fixed-window limiter for action and answers 429 when the
// client is over its budget.
func (s *Server) allow(w http.ResponseWriter, r *http.Request, action string, limit int, per time.Duration) bool {
	res := s.limiter.Check(ratelimit.Key(action, ratelimit.ClientID(r)), limit, per)
	if res.Allowed {
		return true
	}
	retry := res.RetryAfter(s.limiter.Now())
	metrics.RecordRateLimited(action)
	logging.Ctx(r.Context()).Warn().Str("action", action).Str("client", ratelimit.ClientID(r)).Msg("rate limited")
	w.Header().Set("Retry-After", strconv.Itoa(retry))
	writeJSON(w, http.StatusTooManyRequests, errorBody{
		Error:      "Too many attempts. Please try again later.",
		RetryAfter: retry,
	})
	return false
}

// requireDB answers 503 when the server runs without a database.
func (s *Server) requireDB(w http.ResponseWriter, r *http.Request) bool {
	if s.db != nil {
		return true
	}
	s.fail(w, r, database.ErrUnavailable)
	return false
}

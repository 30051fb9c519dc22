// internal/blob/blob.go
//
// Upload storage for cover images and inline pictures.
//   - Remote: PUT to a blob service (BLOB_READ_WRITE_TOKEN + BLOB_API_URL),
//     which answers with the public URL of the stored object.
//   - DataURL: no token configured; the file comes back as a base64 data URL
//     the client can embed directly.
//
// Check enforces the size limit and that the bytes really are an image,
// whatever the client declared.

package blob

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	gobreaker "github.com/sony/gobreaker/v2"
)

// DefaultMaxBytes is the upload ceiling (5 MiB, inclusive).
const DefaultMaxBytes = 5 << 20

var (
	ErrTooLarge = errors.New("File size must be less than 5MB")
	ErrNotImage = errors.New("Only image files are allowed")
	ErrEmpty    = errors.New("No file provided")

	// ErrUnavailable means the remote store failed repeatedly and uploads
	// are being refused until it recovers.
	ErrUnavailable = errors.New("Upload service temporarily unavailable")
)

// Object is a stored upload.
type Object struct {
	URL         string `json:"url"`
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	Size        int    `json:"size"`
}

// Store persists uploaded bytes and returns where they can be fetched.
type Store interface {
	Put(ctx context.Context, name, contentType string, data []byte) (Object, error)
	Backend() string
}

// Check validates an upload: non-empty, at most maxBytes, declared as image/*
// and sniffed as an image. It returns the sniffed MIME type.
func Check(declared string, data []byte, maxBytes int64) (*mimetype.MIME, error) {
	if len(data) == 0 {
		return nil, ErrEmpty
	}
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return nil, ErrTooLarge
	}
	if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(declared)), "image/") {
		return nil, ErrNotImage
	}
	mt := mimetype.Detect(data)
	for m := mt; m != nil; m = m.Parent() {
		if strings.HasPrefix(m.String(), "image/") {
			return mt, nil
		}
	}
	return nil, ErrNotImage
}

// ObjectName builds a collision-free name keeping a sane extension.
func ObjectName(original string, mt *mimetype.MIME) string {
	ext := ""
	if mt != nil {
		ext = mt.Extension()
	}
	if ext == "" {
		ext = strings.ToLower(path.Ext(original))
	}
	return "uploads/" + uuid.NewString() + ext
}

// DataURL returns uploads inline as data: URLs.
type DataURL struct{}

func (DataURL) Backend() string { return "data_url" }

func (DataURL) Put(_ context.Context, name, contentType string, data []byte) (Object, error) {
	return Object{
		URL:         "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data),
		Filename:    path.Base(name),
		ContentType: contentType,
		Size:        len(data),
	}, nil
}

// Remote stores uploads in an HTTP blob service. Calls go through a circuit
// breaker: after 5 consecutive failures uploads fail fast for 30s.
type Remote struct {
	baseURL string
	token   string
	client  *http.Client
	cb      *gobreaker.CircuitBreaker[Object]
}

// NewRemote returns a Remote for the service at baseURL.
func NewRemote(baseURL, token string) *Remote {
	return &Remote{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: 30 * time.Second},
		cb: gobreaker.NewCircuitBreaker[Object](gobreaker.Settings{
			Name:        "blob-remote",
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= 5
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("blob store circuit changed state")
			},
		}),
	}
}

func (r *Remote) Backend() string { return "remote" }

type putResponse struct {
	URL         string `json:"url"`
	Pathname    string `json:"pathname"`
	ContentType string `json:"contentType"`
}

// Put uploads data as a public object named name.
func (r *Remote) Put(ctx context.Context, name, contentType string, data []byte) (Object, error) {
	obj, err := r.cb.Execute(func() (Object, error) {
		return r.put(ctx, name, contentType, data)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return Object{}, ErrUnavailable
	}
	return obj, err
}

func (r *Remote) put(ctx context.Context, name, contentType string, data []byte) (Object, error) {
	endpoint := r.baseURL + "/" + (&url.URL{Path: name}).EscapedPath()
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(data))
	if err != nil {
		return Object{}, fmt.Errorf("build blob request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+r.token)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("x-content-type", contentType)
	req.Header.Set("x-access", "public")

	resp, err := r.client.Do(req)
	if err != nil {
		return Object{}, fmt.Errorf("blob put: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return Object{}, fmt.Errorf("read blob response: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		return Object{}, fmt.Errorf("blob put: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var out putResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return Object{}, fmt.Errorf("decode blob response: %w", err)
	}
	if out.URL == "" {
		return Object{}, errors.New("blob put: response has no url")
	}
	return Object{URL: out.URL, Filename: path.Base(name), ContentType: contentType, Size: len(data)}, nil
}

// NewStore picks Remote when a token is configured, DataURL otherwise.
func NewStore(baseURL, token string) Store {
	if token == "" {
		return DataURL{}
	}
	return NewRemote(baseURL, token)
}

package blob

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// pngHeader is enough of a PNG for content sniffing.
var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func image(size int) []byte {
	b := make([]byte, size)
	copy(b, pngHeader)
	return b
}

func TestCheck(t *testing.T) {
	tests := []struct {
		name     string
		declared string
		data     []byte
		wantErr  error
	}{
		{"png", "image/png", image(1024), nil},
		{"exactly 5MB", "image/png", image(DefaultMaxBytes), nil},
		{"over 5MB", "image/png", image(6 << 20), ErrTooLarge},
		{"one byte over", "image/png", image(DefaultMaxBytes + 1), ErrTooLarge},
		{"declared text", "text/plain", image(1024), ErrNotImage},
		{"declared image but text", "image/png", []byte("hello, this is not an image"), ErrNotImage},
		{"empty", "image/png", nil, ErrEmpty},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mt, err := Check(tt.declared, tt.data, DefaultMaxBytes)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Check() error = %v, want %v", err, tt.wantErr)
			}
			if err == nil && mt.String() != "image/png" {
				t.Errorf("sniffed %q", mt.String())
			}
		})
	}
}

func TestObjectName(t *testing.T) {
	mt, _ := Check("image/png", image(64), 0)
	name := ObjectName("Photo.JPG", mt)
	if !strings.HasPrefix(name, "uploads/") || !strings.HasSuffix(name, ".png") {
		t.Errorf("ObjectName() = %q", name)
	}
	if ObjectName("a.png", mt) == name {
		t.Error("ObjectName() repeated a name")
	}
}

func TestDataURL(t *testing.T) {
	obj, err := DataURL{}.Put(context.Background(), "uploads/x.png", "image/png", []byte("abc"))
	if err != nil {
		t.Fatal(err)
	}
	if obj.URL != "data:image/png;base64,YWJj" || obj.Filename != "x.png" || obj.Size != 3 {
		t.Errorf("Put() = %+v", obj)
	}
}

func TestRemote(t *testing.T) {
	var gotAuth, gotPath, gotType string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		gotType = r.Header.Get("x-content-type")
		gotBody, _ = io.ReadAll(r.Body)
		_, _ = w.Write([]byte(`{"url":"https://cdn.example.com` + r.URL.Path + `","pathname":"x"}`))
	}))
	defer srv.Close()

	store := NewStore(srv.URL, "tok")
	if store.Backend() != "remote" {
		t.Fatalf("Backend() = %q", store.Backend())
	}
	obj, err := store.Put(context.Background(), "uploads/a.png", "image/png", []byte("data"))
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if gotAuth != "Bearer tok" || gotPath != "/uploads/a.png" || gotType != "image/png" || !bytes.Equal(gotBody, []byte("data")) {
		t.Errorf("request = %q %q %q %q", gotAuth, gotPath, gotType, gotBody)
	}
	if obj.URL != "https://cdn.example.com/uploads/a.png" || obj.Filename != "a.png" {
		t.Errorf("Put() = %+v", obj)
	}
}

func TestRemote_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer srv.Close()

	if _, err := NewRemote(srv.URL, "bad").Put(context.Background(), "a.png", "image/png", []byte("x")); err == nil {
		t.Fatal("Put() succeeded on 403")
	}
	if NewStore(srv.URL, "").Backend() != "data_url" {
		t.Error("NewStore without token should fall back to data URLs")
	}
}

func TestRemote_BreakerOpensAfterFailures(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	store := NewRemote(srv.URL, "tok")
	for i := 0; i < 5; i++ {
		if _, err := store.Put(context.Background(), "a.png", "image/png", []byte("x")); err == nil || errors.Is(err, ErrUnavailable) {
			t.Fatalf("attempt %d: err = %v, want upstream error", i, err)
		}
	}
	_, err := store.Put(context.Background(), "a.png", "image/png", []byte("x"))
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
	if calls != 5 {
		t.Errorf("upstream calls = %d, want 5", calls)
	}
}

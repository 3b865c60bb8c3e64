package backup

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func TestUploadPutsObject(t *testing.T) {
	t.Parallel()

	var (
		mu     sync.Mutex
		method string
		path   string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		mu.Lock()
		method, path = r.Method, r.URL.Path
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	file := filepath.Join(t.TempDir(), "stats.json")
	if err := os.WriteFile(file, []byte(`{"players":{}}`), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	u, err := NewS3Uploader(context.Background(), S3Options{
		Endpoint:        srv.URL,
		Bucket:          "runs",
		AccessKeyID:     "key",
		SecretAccessKey: "secret",
	})
	if err != nil {
		t.Fatalf("NewS3Uploader() error = %v", err)
	}
	if err := u.Upload(context.Background(), "timer/stats.json", file); err != nil {
		t.Fatalf("Upload() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if method != http.MethodPut || path != "/runs/timer/stats.json" {
		t.Fatalf("request = %s %s, want PUT /runs/timer/stats.json", method, path)
	}
}

func TestUploadMissingFile(t *testing.T) {
	t.Parallel()

	u, err := NewS3Uploader(context.Background(), S3Options{Endpoint: "http://127.0.0.1:1", Bucket: "runs"})
	if err != nil {
		t.Fatalf("NewS3Uploader() error = %v", err)
	}
	if err := u.Upload(context.Background(), "k", filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("Upload of a missing file succeeded")
	}
}

func TestNewS3UploaderRequiresBucket(t *testing.T) {
	t.Parallel()

	if _, err := NewS3Uploader(context.Background(), S3Options{}); err == nil {
		t.Fatal("expected an error without a bucket")
	}
}

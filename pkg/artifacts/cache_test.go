package artifacts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
)

type fakeDownloader struct {
	calls    int32
	failures int32
	content  string
}

func (d *fakeDownloader) Download(ctx context.Context, filename string, w io.Writer) error {
	n := atomic.AddInt32(&d.calls, 1)
	if n <= d.failures {
		// Simulate a partial write before the failure
		io.WriteString(w, "garbage")
		return fmt.Errorf("connection reset")
	}
	_, err := io.WriteString(w, d.content)
	return err
}

func TestEnsureLocalDownloads(t *testing.T) {
	dir := t.TempDir()
	dl := &fakeDownloader{content: "artifact-bytes"}
	cache := New(dir, dl)

	path, err := cache.EnsureLocal(context.Background(), "render_00001.mp4")
	if err != nil {
		t.Fatalf("EnsureLocal failed: %v", err)
	}
	if path != filepath.Join(dir, "render_00001.mp4") {
		t.Errorf("Unexpected local path: %s", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "artifact-bytes" {
		t.Errorf("Unexpected content: %q", data)
	}
}

func TestEnsureLocalIdempotent(t *testing.T) {
	dir := t.TempDir()
	dl := &fakeDownloader{content: "artifact-bytes"}
	cache := New(dir, dl)

	if _, err := cache.EnsureLocal(context.Background(), "out.png"); err != nil {
		t.Fatal(err)
	}
	if _, err := cache.EnsureLocal(context.Background(), "out.png"); err != nil {
		t.Fatal(err)
	}

	// The second call must short-circuit on the existing file
	if dl.calls != 1 {
		t.Errorf("Expected exactly 1 download, got %d", dl.calls)
	}
}

func TestEnsureLocalRetries(t *testing.T) {
	dir := t.TempDir()
	dl := &fakeDownloader{content: "clean-bytes", failures: 2}
	cache := New(dir, dl)
	cache.retryCfg.InitialBackoff = 0

	path, err := cache.EnsureLocal(context.Background(), "flaky.mp4")
	if err != nil {
		t.Fatalf("EnsureLocal should succeed after retries: %v", err)
	}

	// Partial writes from failed attempts must not leak into the result
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "clean-bytes" {
		t.Errorf("Partial write leaked into artifact: %q", data)
	}
}

func TestEnsureLocalExhaustedRetries(t *testing.T) {
	dir := t.TempDir()
	dl := &fakeDownloader{content: "x", failures: 100}
	cache := New(dir, dl)
	cache.retryCfg.InitialBackoff = 0

	_, err := cache.EnsureLocal(context.Background(), "never.mp4")
	if err == nil {
		t.Fatal("Expected error after exhausted retries")
	}

	// No partial file may be left behind
	if _, statErr := os.Stat(filepath.Join(dir, "never.mp4")); !errors.Is(statErr, os.ErrNotExist) {
		t.Error("Failed download left a file in the cache")
	}
	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".download-") {
			t.Errorf("Temp file left behind: %s", e.Name())
		}
	}
}

func TestEnsureLocalStripsPath(t *testing.T) {
	dir := t.TempDir()
	dl := &fakeDownloader{content: "x"}
	cache := New(dir, dl)

	path, err := cache.EnsureLocal(context.Background(), "subfolder/evil/../out.png")
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Dir(path) != dir {
		t.Errorf("Artifact escaped the cache directory: %s", path)
	}
}

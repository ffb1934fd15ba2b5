package artifacts

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rhuidobro/renderq/pkg/retry"
)

// Downloader streams a remote artifact by filename. The engine client
// satisfies this.
type Downloader interface {
	Download(ctx context.Context, filename string, w io.Writer) error
}

// Cache materializes remote artifacts under a local output directory.
// EnsureLocal is idempotent: a file that already exists is never
// re-downloaded.
type Cache struct {
	dir        string
	downloader Downloader
	retryCfg   retry.Config
}

// New creates an artifact cache rooted at dir
func New(dir string, downloader Downloader) *Cache {
	return NewWithRetry(dir, downloader, retry.DefaultConfig())
}

// NewWithRetry creates an artifact cache with a custom retry policy
func NewWithRetry(dir string, downloader Downloader, cfg retry.Config) *Cache {
	return &Cache{
		dir:        dir,
		downloader: downloader,
		retryCfg:   cfg,
	}
}

// Dir returns the cache's output directory
func (c *Cache) Dir() string {
	return c.dir
}

// EnsureLocal returns the local path for a remote artifact, downloading it
// first if needed. The download streams to a temp file and renames into
// place so readers never observe a partial artifact.
func (c *Cache) EnsureLocal(ctx context.Context, filename string) (string, error) {
	localPath := filepath.Join(c.dir, filepath.Base(filename))

	if _, err := os.Stat(localPath); err == nil {
		return localPath, nil
	}

	if err := os.MkdirAll(c.dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	tmp, err := os.CreateTemp(c.dir, ".download-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	err = retry.Do(ctx, c.retryCfg, func() error {
		if _, err := tmp.Seek(0, io.SeekStart); err != nil {
			return err
		}
		if err := tmp.Truncate(0); err != nil {
			return err
		}
		return c.downloader.Download(ctx, filename, tmp)
	})
	if err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to download artifact %s: %w", filename, err)
	}

	if err := tmp.Close(); err != nil {
		return "", err
	}
	if err := os.Rename(tmpPath, localPath); err != nil {
		return "", fmt.Errorf("failed to move artifact into place: %w", err)
	}

	return localPath, nil
}

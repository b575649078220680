package dataset

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/ulikunitz/xz"
	"go.uber.org/zap"

	"github.com/canopy-network/celltowers/pkg/utils"
)

const (
	CompressedFileName = "cell_towers.csv.xz"
	CSVFileName        = "cell_towers.csv"
)

// Fetcher downloads the compressed dataset and unpacks it into a staging directory.
type Fetcher struct {
	Client *http.Client
	Logger *zap.Logger
}

// FetchResult describes the files a fetch left on disk.
type FetchResult struct {
	CompressedPath  string `json:"compressed_path"`
	CSVPath         string `json:"csv_path"`
	CompressedBytes int64  `json:"compressed_bytes"`
	CSVBytes        int64  `json:"csv_bytes"`
}

// NewFetcher returns a Fetcher. The HTTP client has no overall timeout because the dataset is
// several hundred megabytes; cancellation comes from the context.
func NewFetcher(logger *zap.Logger) *Fetcher {
	return &Fetcher{
		Client: &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				ResponseHeaderTimeout: time.Minute,
				TLSHandshakeTimeout:   30 * time.Second,
			},
		},
		Logger: logger,
	}
}

// CSVPath returns where a fetch into dir leaves the uncompressed CSV.
func CSVPath(dir string) string {
	return filepath.Join(dir, CSVFileName)
}

// Fetch downloads url into dir and decompresses it. Both files are streamed through a
// temporary name and renamed once complete, so a file with the final name is never partial.
func (f *Fetcher) Fetch(ctx context.Context, url, dir string) (*FetchResult, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create staging dir %s: %w", dir, err)
	}

	res := &FetchResult{
		CompressedPath: filepath.Join(dir, CompressedFileName),
		CSVPath:        CSVPath(dir),
	}

	start := time.Now()
	n, err := f.download(ctx, url, res.CompressedPath)
	if err != nil {
		return nil, err
	}
	res.CompressedBytes = n
	f.logger().Info("Dataset downloaded",
		zap.String("url", url),
		zap.String("path", res.CompressedPath),
		zap.Int64("bytes", n),
		zap.Duration("elapsed", time.Since(start)))

	start = time.Now()
	n, err = Decompress(res.CompressedPath, res.CSVPath)
	if err != nil {
		return nil, err
	}
	res.CSVBytes = n
	f.logger().Info("Dataset decompressed",
		zap.String("path", res.CSVPath),
		zap.Int64("bytes", n),
		zap.Duration("elapsed", time.Since(start)))

	return res, nil
}

func (f *Fetcher) logger() *zap.Logger {
	if f.Logger == nil {
		return zap.NewNop()
	}
	return f.Logger
}

func (f *Fetcher) download(ctx context.Context, url, dst string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: build request: %w", ErrFetch, err)
	}

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: GET %s: %w", ErrFetch, url, err)
	}
	defer func() { _ = utils.DrainAndClose(resp.Body) }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, fmt.Errorf("%w: GET %s: unexpected status %s", ErrFetch, url, resp.Status)
	}

	n, err := writeAtomic(dst, func(w io.Writer) (int64, error) {
		return io.Copy(w, resp.Body)
	})
	if err != nil {
		return n, fmt.Errorf("%w: write %s: %w", ErrFetch, dst, err)
	}
	return n, nil
}

// Decompress streams the xz file src into dst and returns the number of bytes written.
func Decompress(src, dst string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", src, err)
	}
	defer func() { _ = in.Close() }()

	var decodeErr bool
	n, err := writeAtomic(dst, func(w io.Writer) (int64, error) {
		xr, err := xz.NewReader(in)
		if err != nil {
			decodeErr = true
			return 0, err
		}
		n, err := io.Copy(w, xr)
		if err != nil {
			// io.Copy surfaces both read (decode) and write errors; only the write side
			// is an *os.PathError here.
			var pathErr *os.PathError
			if !errors.As(err, &pathErr) {
				decodeErr = true
			}
		}
		return n, err
	})
	if err != nil {
		if decodeErr {
			return n, fmt.Errorf("%w: %s: %w", ErrDecompress, src, err)
		}
		return n, fmt.Errorf("write %s: %w", dst, err)
	}
	return n, nil
}

// writeAtomic writes through a temp file in dst's directory and renames it over dst.
func writeAtomic(dst string, write func(io.Writer) (int64, error)) (int64, error) {
	tmp, err := os.CreateTemp(filepath.Dir(dst), filepath.Base(dst)+".*.tmp")
	if err != nil {
		return 0, err
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	n, err := write(tmp)
	if err != nil {
		_ = tmp.Close()
		return n, err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return n, err
	}
	if err := tmp.Close(); err != nil {
		return n, err
	}
	return n, os.Rename(tmpName, dst)
}

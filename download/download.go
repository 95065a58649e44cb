package download

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bitrise-io/go-utils/retry"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/pathutil"
	"github.com/docker/go-units"
)

const (
	minChunkSize     = 1024 * 1024
	defaultChunkSize = 32 * 1024 * 1024
	defaultWorkers   = 8
	numRangeRetries  = 3
)

// Params ...
type Params struct {
	URL             string
	DestinationPath string
	// ExpectedChecksum is a hex SHA-256 digest; empty skips verification.
	ExpectedChecksum string
}

// ChecksumError means the assembled file does not match the published digest.
type ChecksumError struct {
	Expected string
	Actual   string
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("checksum mismatch: expected %s, got %s", e.Expected, e.Actual)
}

// DownloaderConfig ...
type DownloaderConfig struct {
	// Workers is the number of ranges fetched concurrently.
	Workers int
	// ChunkSize is the nominal range size in bytes; small files get smaller
	// ranges so every worker has something to do.
	ChunkSize int64
}

// Downloader fetches a dump over HTTP in concurrent byte ranges, then
// assembles the ranges in offset order into the destination file. Servers
// without range support automatically fall back to a single stream.
type Downloader struct {
	client       *Client
	logger       log.Logger
	pathProvider pathutil.PathProvider
	workers      int
	chunkSize    int64
	retryWait    time.Duration
}

// NewDownloader ...
func NewDownloader(cfg DownloaderConfig, client *Client, pathProvider pathutil.PathProvider, logger log.Logger) *Downloader {
	workers := cfg.Workers
	if workers < 1 {
		workers = defaultWorkers
	}
	chunkSize := cfg.ChunkSize
	if chunkSize < 1 {
		chunkSize = defaultChunkSize
	}
	return &Downloader{
		client:       client,
		logger:       logger,
		pathProvider: pathProvider,
		workers:      workers,
		chunkSize:    chunkSize,
		retryWait:    2 * time.Second,
	}
}

// Download fetches params.URL into params.DestinationPath. On any failure,
// including a checksum mismatch, no partial destination file is left behind.
func (d *Downloader) Download(ctx context.Context, params Params) error {
	if params.URL == "" {
		return fmt.Errorf("download URL must not be empty")
	}
	if params.DestinationPath == "" {
		return fmt.Errorf("destination path must not be empty")
	}

	startTime := time.Now()
	probe, err := d.client.Probe(ctx, params.URL)
	if err != nil {
		return fmt.Errorf("probe %s: %w", params.URL, err)
	}

	if !probe.Rangeable || probe.Size <= 0 {
		d.logger.Infof("Server does not support range requests, downloading in a single stream...")
		return d.downloadSingle(ctx, params, startTime)
	}

	ranges := partition(probe.Size, effectiveChunkSize(d.chunkSize, probe.Size, d.workers))
	d.logger.Infof("Downloading %s (%s) in %d ranges across %d workers...",
		filepath.Base(params.DestinationPath), units.HumanSizeWithPrecision(float64(probe.Size), 3), len(ranges), d.workers)

	tempDir, err := d.pathProvider.CreateTempDir("dump-download")
	if err != nil {
		return fmt.Errorf("create temp dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(tempDir); err != nil {
			d.logger.Warnf("Failed to remove download temp dir: %s", err)
			os.RemoveAll(tempDir)
		}
	}()

	if err := d.fetchRanges(ctx, params.URL, ranges, tempDir); err != nil {
		return err
	}

	digest, err := d.assemble(params.DestinationPath, ranges, tempDir)
	if err != nil {
		d.removeQuietly(params.DestinationPath)
		return err
	}

	if params.ExpectedChecksum != "" {
		if !strings.EqualFold(digest, params.ExpectedChecksum) {
			d.removeQuietly(params.DestinationPath)
			return &ChecksumError{Expected: strings.ToLower(params.ExpectedChecksum), Actual: digest}
		}
		d.logger.Debugf("Checksum verified: %s", digest)
	}

	d.logger.Donef("Downloaded %s in %s",
		units.HumanSizeWithPrecision(float64(probe.Size), 3), time.Since(startTime).Round(time.Second))
	return nil
}

func (d *Downloader) downloadSingle(ctx context.Context, params Params, startTime time.Time) error {
	body, err := d.client.Get(ctx, params.URL)
	if err != nil {
		return err
	}
	defer body.Close()

	out, err := os.Create(params.DestinationPath)
	if err != nil {
		return fmt.Errorf("create destination: %w", err)
	}
	defer out.Close()

	hash := sha256.New()
	n, err := io.Copy(io.MultiWriter(out, hash), body)
	if err != nil {
		out.Close()
		d.removeQuietly(params.DestinationPath)
		return fmt.Errorf("download %s: %w", params.URL, err)
	}

	if params.ExpectedChecksum != "" {
		digest := hex.EncodeToString(hash.Sum(nil))
		if !strings.EqualFold(digest, params.ExpectedChecksum) {
			out.Close()
			d.removeQuietly(params.DestinationPath)
			return &ChecksumError{Expected: strings.ToLower(params.ExpectedChecksum), Actual: digest}
		}
	}

	d.logger.Donef("Downloaded %s in %s",
		units.HumanSizeWithPrecision(float64(n), 3), time.Since(startTime).Round(time.Second))
	return nil
}

type byteRange struct {
	index int
	start int64
	end   int64
}

// effectiveChunkSize shrinks the nominal chunk size on small files so that
// at least four ranges exist per worker, with a 1 MiB floor so tiny files do
// not explode into thousands of requests.
func effectiveChunkSize(nominal, total int64, workers int) int64 {
	perWorker := (total + int64(4*workers) - 1) / int64(4*workers)
	size := nominal
	if perWorker < size {
		size = perWorker
	}
	if size < minChunkSize {
		size = minChunkSize
	}
	return size
}

func partition(total, chunkSize int64) []byteRange {
	var ranges []byteRange
	for start := int64(0); start < total; start += chunkSize {
		end := start + chunkSize - 1
		if end > total-1 {
			end = total - 1
		}
		ranges = append(ranges, byteRange{index: len(ranges), start: start, end: end})
	}
	return ranges
}

// fetchRanges downloads all ranges into per-range temp files. The first
// failure cancels the shared context so sibling workers stop instead of
// finishing doomed work.
func (d *Downloader) fetchRanges(ctx context.Context, url string, ranges []byteRange, tempDir string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	semaphore := make(chan struct{}, d.workers)
	errC := make(chan error, len(ranges))

	for _, rng := range ranges {
		wg.Add(1)
		go func(rng byteRange) {
			defer wg.Done()
			select {
			case semaphore <- struct{}{}:
			case <-ctx.Done():
				return
			}
			defer func() { <-semaphore }()

			if err := d.fetchRangeWithRetry(ctx, url, rng, rangePath(tempDir, rng)); err != nil {
				errC <- fmt.Errorf("range %d-%d: %w", rng.start, rng.end, err)
				cancel()
			}
		}(rng)
	}
	wg.Wait()

	select {
	case err := <-errC:
		return err
	default:
		return nil
	}
}

func (d *Downloader) fetchRangeWithRetry(ctx context.Context, url string, rng byteRange, dest string) error {
	return retry.Times(numRangeRetries).Wait(d.retryWait).TryWithAbort(func(attempt uint) (error, bool) {
		if ctx.Err() != nil {
			return ctx.Err(), true
		}
		if attempt > 0 {
			d.logger.Debugf("Retrying range %d-%d (attempt %d)...", rng.start, rng.end, attempt+1)
		}
		if err := d.fetchRange(ctx, url, rng, dest); err != nil {
			d.logger.Debugf("Range %d-%d attempt %d failed: %s", rng.start, rng.end, attempt+1, err)
			return err, false
		}
		return nil, false
	})
}

func (d *Downloader) fetchRange(ctx context.Context, url string, rng byteRange, dest string) error {
	body, err := d.client.GetRange(ctx, url, rng.start, rng.end)
	if err != nil {
		return err
	}
	defer body.Close()

	// os.Create truncates leftovers from a failed earlier attempt.
	file, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create range file: %w", err)
	}
	defer file.Close()

	n, err := io.Copy(file, body)
	if err != nil {
		return fmt.Errorf("read range body: %w", err)
	}
	if want := rng.end - rng.start + 1; n != want {
		return fmt.Errorf("short range read: got %d bytes, want %d", n, want)
	}
	return nil
}

// assemble concatenates the range files in offset order into the destination,
// feeding the digest on the way so verification needs no second pass.
func (d *Downloader) assemble(dest string, ranges []byteRange, tempDir string) (string, error) {
	out, err := os.Create(dest)
	if err != nil {
		return "", fmt.Errorf("create destination: %w", err)
	}
	defer out.Close()

	hash := sha256.New()
	w := io.MultiWriter(out, hash)
	for _, rng := range ranges {
		if err := appendFile(w, rangePath(tempDir, rng)); err != nil {
			return "", fmt.Errorf("assemble range %d: %w", rng.index, err)
		}
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}

func appendFile(w io.Writer, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()
	_, err = io.Copy(w, file)
	return err
}

func rangePath(tempDir string, rng byteRange) string {
	return filepath.Join(tempDir, fmt.Sprintf("range-%06d", rng.index))
}

func (d *Downloader) removeQuietly(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		d.logger.Warnf("Failed to remove incomplete file %s: %s", path, err)
	}
}

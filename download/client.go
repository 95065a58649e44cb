package download

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/retryhttp"
	"github.com/hashicorp/go-retryablehttp"
)

// Client wraps an HTTP client that retries transient failures with
// exponential backoff. Permanent failures such as 404s come back immediately.
type Client struct {
	http   *retryablehttp.Client
	logger log.Logger
}

// NewClient ...
func NewClient(logger log.Logger) *Client {
	client := retryhttp.NewClient(logger)
	client.CheckRetry = createRetryLogFunction(logger)
	return &Client{http: client, logger: logger}
}

func createRetryLogFunction(logger log.Logger) retryablehttp.CheckRetry {
	return func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		shouldRetry, checkErr := retryablehttp.DefaultRetryPolicy(ctx, resp, err)
		if shouldRetry && resp != nil {
			logger.Debugf("Retrying request, response status: %s", resp.Status)
		}
		return shouldRetry, checkErr
	}
}

// Probe holds what a cheap request could learn about a remote file.
type Probe struct {
	Size      int64
	Rangeable bool
}

// Probe determines the file size and range-request support, first via HEAD
// and falling back to a one-byte range GET for servers that answer HEAD
// without a usable size.
func (c *Client) Probe(ctx context.Context, url string) (Probe, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return Probe{}, fmt.Errorf("create HEAD request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err == nil {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK && resp.ContentLength > 0 &&
			strings.EqualFold(resp.Header.Get("Accept-Ranges"), "bytes") {
			return Probe{Size: resp.ContentLength, Rangeable: true}, nil
		}
	}
	return c.probeRange(ctx, url)
}

func (c *Client) probeRange(ctx context.Context, url string) (Probe, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Probe{}, fmt.Errorf("create probe request: %w", err)
	}
	req.Header.Set("Range", "bytes=0-0")

	resp, err := c.http.Do(req)
	if err != nil {
		return Probe{}, fmt.Errorf("probe %s: %w", url, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusPartialContent:
		if total, ok := parseTotalSize(resp.Header.Get("Content-Range")); ok {
			return Probe{Size: total, Rangeable: true}, nil
		}
		return Probe{}, fmt.Errorf("unparsable Content-Range header %q", resp.Header.Get("Content-Range"))
	case resp.StatusCode == http.StatusOK:
		// Server ignored the range request and is sending the whole file.
		return Probe{Size: resp.ContentLength, Rangeable: false}, nil
	default:
		return Probe{}, unwrapError(resp)
	}
}

// parseTotalSize extracts the total size from a Content-Range header such as
// "bytes 0-0/1234". Unknown sizes ("bytes 0-0/*") report false.
func parseTotalSize(contentRange string) (int64, bool) {
	idx := strings.LastIndexByte(contentRange, '/')
	if idx < 0 {
		return 0, false
	}
	total, err := strconv.ParseInt(strings.TrimSpace(contentRange[idx+1:]), 10, 64)
	if err != nil || total <= 0 {
		return 0, false
	}
	return total, true
}

// GetRange fetches the inclusive byte range [start, end]. The caller owns the
// returned body.
func (c *Client) GetRange(ctx context.Context, url string, start, end int64) (io.ReadCloser, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create range request: %w", err)
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, end))

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get range %d-%d: %w", start, end, err)
	}
	if resp.StatusCode != http.StatusPartialContent {
		defer resp.Body.Close()
		return nil, unwrapError(resp)
	}
	if want := end - start + 1; resp.ContentLength >= 0 && resp.ContentLength != want {
		defer resp.Body.Close()
		return nil, fmt.Errorf("invalid content length %d for range %d-%d", resp.ContentLength, start, end)
	}
	return resp.Body, nil
}

// Get fetches the whole resource. The caller owns the returned body.
func (c *Client) Get(ctx context.Context, url string) (io.ReadCloser, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", url, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, unwrapError(resp)
	}
	return resp.Body, nil
}

func unwrapError(resp *http.Response) error {
	errorResponse, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("HTTP %d: failed to read response", resp.StatusCode)
	}
	return fmt.Errorf("HTTP %d: %s", resp.StatusCode, errorResponse)
}

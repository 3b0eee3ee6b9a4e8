// Package fetcher downloads report images and encodes them for the model API.
package fetcher

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"

	"labsight-go/pkg/cache"
	"labsight-go/pkg/llm"

	"github.com/gabriel-vasile/mimetype"
)

// DefaultMimeType is the type every image is tagged with unless detection is enabled.
const DefaultMimeType = "image/jpeg"

// DefaultMaxBytes caps a downloaded image, the same limit uploads use.
const DefaultMaxBytes int64 = 10 * 1024 * 1024

// FetchError reports an unreachable image or a non-2xx response.
type FetchError struct {
	URL        string
	StatusCode int
	// TooLarge is the byte limit the body exceeded, zero otherwise.
	TooLarge int64
	Err      error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch image %s: %v", e.URL, e.Err)
	}
	if e.TooLarge > 0 {
		return fmt.Sprintf("fetch image %s: larger than %d bytes", e.URL, e.TooLarge)
	}
	return fmt.Sprintf("fetch image %s: unexpected status %d", e.URL, e.StatusCode)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Fetcher retrieves image bytes over HTTP. It does not retry.
type Fetcher struct {
	client     *http.Client
	cache      *cache.Cache
	detectMime bool
	maxBytes   int64
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithCache serves repeated GETs from c.
func WithCache(c *cache.Cache) Option {
	return func(f *Fetcher) { f.cache = c }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) { f.client = c }
}

// WithMimeDetection tags images with their sniffed type instead of DefaultMimeType.
func WithMimeDetection(enabled bool) Option {
	return func(f *Fetcher) { f.detectMime = enabled }
}

// WithMaxBytes limits how much of a response body is read. n <= 0 keeps DefaultMaxBytes.
func WithMaxBytes(n int64) Option {
	return func(f *Fetcher) {
		if n > 0 {
			f.maxBytes = n
		}
	}
}

// New creates a Fetcher.
func New(opts ...Option) *Fetcher {
	f := &Fetcher{client: &http.Client{}, maxBytes: DefaultMaxBytes}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch downloads the image at url.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	key := cache.Key(http.MethodGet, url, nil)
	if data, ok := f.cache.Get(key); ok {
		return data, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &FetchError{URL: url, Err: err}
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &FetchError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &FetchError{URL: url, StatusCode: resp.StatusCode}
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, &FetchError{URL: url, StatusCode: resp.StatusCode, Err: err}
	}
	if int64(len(data)) > f.maxBytes {
		return nil, &FetchError{URL: url, StatusCode: resp.StatusCode, TooLarge: f.maxBytes}
	}

	f.cache.Set(key, data)
	return data, nil
}

// Encode base64-encodes data as an inline image part.
func (f *Fetcher) Encode(data []byte) llm.InlineImage {
	mimeType := DefaultMimeType
	if f.detectMime {
		if detected := mimetype.Detect(data); detected.Is("image/png") || detected.Is("image/jpeg") ||
			detected.Is("image/webp") || detected.Is("image/heic") || detected.Is("image/heif") {
			mimeType = detected.String()
		}
	}
	return llm.InlineImage{
		MimeType: mimeType,
		Data:     base64.StdEncoding.EncodeToString(data),
	}
}

// FetchEncoded fetches url and encodes the result.
func (f *Fetcher) FetchEncoded(ctx context.Context, url string) (llm.InlineImage, error) {
	data, err := f.Fetch(ctx, url)
	if err != nil {
		return llm.InlineImage{}, err
	}
	return f.Encode(data), nil
}

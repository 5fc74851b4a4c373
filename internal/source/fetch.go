// Package source downloads dataset files from remote URLs.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/sabarim/dsingest/internal/logger"
)

var (
	// ErrInvalidURL is returned for URLs that are not absolute http(s) URLs
	ErrInvalidURL = errors.New("invalid source url")
	// ErrTooLarge is returned when the remote file exceeds the size limit
	ErrTooLarge = errors.New("remote file is too large")
)

// File is a downloaded dataset file held in memory
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// Fetcher downloads files over HTTP(S)
type Fetcher struct {
	client  *resty.Client
	maxSize int64
	log     *logger.Entry
}

// NewFetcher creates a fetcher. maxSize <= 0 disables the size limit.
func NewFetcher(timeout time.Duration, maxSize int64, log *logger.Log) *Fetcher {
	client := resty.New()
	client.SetTimeout(timeout)
	client.SetHeader("Accept", "text/csv, application/json, */*")

	return &Fetcher{
		client:  client,
		maxSize: maxSize,
		log:     log.WithComponent("source"),
	}
}

// WithRetry retries failed downloads and 5xx responses up to count times,
// waiting delay between attempts.
func (f *Fetcher) WithRetry(count int, delay time.Duration) *Fetcher {
	if count <= 0 {
		return f
	}
	f.client.SetRetryCount(count)
	f.client.SetRetryWaitTime(delay)
	f.client.SetRetryMaxWaitTime(delay * 4)
	f.client.AddRetryCondition(func(r *resty.Response, err error) bool {
		retry := err != nil || r.StatusCode() >= http.StatusInternalServerError
		if retry && r != nil && r.RawResponse != nil {
			// unparsed bodies of discarded attempts are not closed by resty
			r.RawResponse.Body.Close()
		}
		return retry
	})
	return f
}

// Fetch downloads the file at rawURL. The name is taken from the
// Content-Disposition header when present, otherwise from the URL path.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*File, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w %q", ErrInvalidURL, rawURL)
	}

	f.log.WithField("url", rawURL).Info("downloading dataset file")

	// the body is streamed so the size limit applies before buffering
	resp, err := f.client.R().SetContext(ctx).SetDoNotParseResponse(true).Get(rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to download %s: %w", rawURL, err)
	}
	raw := resp.RawBody()
	defer raw.Close()

	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("failed to download %s, status code: %d", rawURL, resp.StatusCode())
	}
	if f.maxSize > 0 && resp.RawResponse.ContentLength > f.maxSize {
		return nil, fmt.Errorf("%w: file is %d bytes, limit is %d", ErrTooLarge, resp.RawResponse.ContentLength, f.maxSize)
	}

	var reader io.Reader = raw
	if f.maxSize > 0 {
		reader = io.LimitReader(raw, f.maxSize+1)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", rawURL, err)
	}
	if f.maxSize > 0 && int64(len(body)) > f.maxSize {
		return nil, fmt.Errorf("%w: limit is %d bytes", ErrTooLarge, f.maxSize)
	}

	name := path.Base(u.Path)
	if _, params, err := mime.ParseMediaType(resp.Header().Get("Content-Disposition")); err == nil && params["filename"] != "" {
		name = path.Base(params["filename"])
	}
	if name == "/" || name == "." {
		name = ""
	}

	f.log.WithFields(logger.Fields{"url": rawURL, "bytes": len(body), "name": name}).Info("downloaded dataset file")

	return &File{
		Name:        name,
		ContentType: resp.Header().Get("Content-Type"),
		Data:        body,
	}, nil
}

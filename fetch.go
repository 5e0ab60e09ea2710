package pyroxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"

	"golang.org/x/text/encoding/htmlindex"
)

// FetchErrorKind classifies upstream fetch failures.
type FetchErrorKind string

const (
	FetchTimeout           FetchErrorKind = "timeout"
	FetchConnectionRefused FetchErrorKind = "connection refused"
	FetchDNSFailure        FetchErrorKind = "dns failure"
	FetchInvalidResponse   FetchErrorKind = "invalid response"
	FetchCanceled          FetchErrorKind = "canceled"
)

// FetchError is returned by the fetcher when the outbound call fails.
type FetchError struct {
	Kind FetchErrorKind
	URL  string
	Err  error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// FetchResult is the outcome of a single upstream call.
type FetchResult struct {
	Body          []byte
	ContentType   string
	ContentLength int64
	StatusCode    int
	FinalURL      string
	ResponseTime  time.Duration
}

// Fetcher performs outbound HTTP requests over a shared transport so
// connections to the same upstream host are reused across requests.
//
// The fetcher places no restriction on the target address. Running the
// proxy on a network with internal-only services exposes those services
// to anyone who can reach the proxy (SSRF).
type Fetcher struct {
	client    *http.Client
	userAgent string
}

// NewFetcher creates a fetcher with its own connection pool.
// Redirects are followed transparently; the final URL is reported in
// the result.
func NewFetcher(timeout time.Duration, maxIdleConnsPerHost int, userAgent string) *Fetcher {
	if maxIdleConnsPerHost <= 0 {
		maxIdleConnsPerHost = 10
	}
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: maxIdleConnsPerHost,
		IdleConnTimeout:     90 * time.Second,
	}
	return &Fetcher{
		client: &http.Client{
			Transport: transport,
			Timeout:   timeout,
		},
		userAgent: userAgent,
	}
}

// Fetch performs the outbound request and buffers the whole response
// body. The call is bounded by the configured timeout and by ctx, so a
// disconnecting client frees its pool slot promptly.
func (f *Fetcher) Fetch(ctx context.Context, targetURL, method string, body io.Reader) (*FetchResult, error) {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, method, targetURL, body)
	if err != nil {
		return nil, &FetchError{Kind: FetchInvalidResponse, URL: targetURL, Err: err}
	}
	req.Header.Set("User-Agent", f.userAgent)
	res, err := f.client.Do(req)
	if err != nil {
		return nil, &FetchError{Kind: classifyFetchError(err), URL: targetURL, Err: err}
	}
	defer res.Body.Close()
	b, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, &FetchError{Kind: classifyFetchError(err), URL: targetURL, Err: err}
	}
	return &FetchResult{
		Body:          b,
		ContentType:   contentTypeOrDefault(res),
		ContentLength: int64(len(b)),
		StatusCode:    res.StatusCode,
		FinalURL:      res.Request.URL.String(),
		ResponseTime:  time.Since(start),
	}, nil
}

// Probe performs a HEAD request, reporting metadata without
// downloading the body. Content length comes from the response header
// and is -1 when the upstream does not report it.
func (f *Fetcher) Probe(ctx context.Context, targetURL string) (*FetchResult, error) {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, targetURL, nil)
	if err != nil {
		return nil, &FetchError{Kind: FetchInvalidResponse, URL: targetURL, Err: err}
	}
	req.Header.Set("User-Agent", f.userAgent)
	res, err := f.client.Do(req)
	if err != nil {
		return nil, &FetchError{Kind: classifyFetchError(err), URL: targetURL, Err: err}
	}
	defer res.Body.Close()
	io.Copy(io.Discard, res.Body)
	return &FetchResult{
		ContentType:   contentTypeOrDefault(res),
		ContentLength: res.ContentLength,
		StatusCode:    res.StatusCode,
		FinalURL:      res.Request.URL.String(),
		ResponseTime:  time.Since(start),
	}, nil
}

func contentTypeOrDefault(res *http.Response) string {
	if ct := res.Header.Get("Content-Type"); ct != "" {
		return ct
	}
	return "text/html"
}

func classifyFetchError(err error) FetchErrorKind {
	var dnsErr *net.DNSError
	switch {
	case errors.Is(err, context.Canceled):
		return FetchCanceled
	case isTimeout(err):
		return FetchTimeout
	case errors.As(err, &dnsErr):
		return FetchDNSFailure
	case errors.Is(err, syscall.ECONNREFUSED):
		return FetchConnectionRefused
	}
	return FetchInvalidResponse
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// decodeCharset converts body bytes from the named charset to a UTF-8
// string. Charset names are resolved the same way browsers resolve
// them (IANA names and their aliases).
func decodeCharset(b []byte, charset string) (string, error) {
	if charset == "" || strings.EqualFold(charset, "utf-8") || strings.EqualFold(charset, "utf8") {
		return string(b), nil
	}
	enc, err := htmlindex.Get(charset)
	if err != nil {
		return "", fmt.Errorf("unknown charset %q: %w", charset, err)
	}
	decoded, err := enc.NewDecoder().Bytes(b)
	if err != nil {
		return "", fmt.Errorf("decode as %s: %w", charset, err)
	}
	return string(decoded), nil
}

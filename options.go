package pyroxy

import (
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Format is the requested output representation.
type Format string

const (
	FormatRaw  Format = "raw"
	FormatJSON Format = "json"
	FormatInfo Format = "info"
)

// callback names may contain letters, digits, underscores and dots
var callbackRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.]*$`)

// RequestOptions holds the parsed query parameters of one inbound
// request. Parsed once, immutable thereafter.
type RequestOptions struct {
	// TargetURL is the normalized absolute URL to fetch.
	TargetURL string
	// Format of the response body.
	Format Format
	// Charset used to decode the upstream body for text output.
	Charset string
	// DisableCache bypasses both cache reads and writes.
	DisableCache bool
	// CacheMaxAge is the caller-requested TTL, or -1 when absent.
	CacheMaxAge time.Duration
	// Callback is the JSONP function name, empty for plain JSON.
	Callback string
	// Method is the inbound HTTP method, forwarded upstream.
	Method string
}

// parseFormat resolves a format name. The "get" alias resolves to
// json before rendering; it is not a distinct format.
func parseFormat(name string) (Format, bool) {
	switch name {
	case "raw":
		return FormatRaw, true
	case "json", "get":
		return FormatJSON, true
	case "info":
		return FormatInfo, true
	}
	return "", false
}

// parseOptions populates RequestOptions from the request query with
// strict parsing and defaults. endpointFormat is the format implied by
// the request path; the format parameter overrides it when present.
func parseOptions(r *http.Request, endpointFormat Format) (*RequestOptions, error) {
	query := r.URL.Query()

	rawURL := query.Get("url")
	if rawURL == "" {
		return nil, invalidURLError("No URL provided. Please add a url parameter.")
	}
	target, err := url.Parse(rawURL)
	if err != nil || !target.IsAbs() || target.Host == "" {
		return nil, invalidURLError(fmt.Sprintf("Invalid URL %q.", rawURL))
	}
	if target.Scheme != "http" && target.Scheme != "https" {
		return nil, invalidURLError(fmt.Sprintf("Unsupported URL scheme %q.", target.Scheme))
	}

	opts := &RequestOptions{
		TargetURL:   target.String(),
		Format:      endpointFormat,
		Charset:     "utf-8",
		CacheMaxAge: -1,
		Method:      r.Method,
	}

	if v := query.Get("format"); v != "" {
		format, ok := parseFormat(v)
		if !ok {
			return nil, invalidParamError("format", v)
		}
		opts.Format = format
	}
	// HEAD requests have no body to relay, so they always resolve to
	// the metadata-only format, whatever the endpoint says
	if r.Method == http.MethodHead {
		opts.Format = FormatInfo
	}
	if v := query.Get("charset"); v != "" {
		opts.Charset = v
	}
	if v := query.Get("disableCache"); v != "" {
		disable, err := strconv.ParseBool(v)
		if err != nil {
			return nil, invalidParamError("disableCache", v)
		}
		opts.DisableCache = disable
	}
	if v := query.Get("cacheMaxAge"); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil || seconds < 0 {
			return nil, invalidParamError("cacheMaxAge", v)
		}
		opts.CacheMaxAge = time.Duration(seconds) * time.Second
	}
	if v := query.Get("callback"); v != "" {
		if !callbackRe.MatchString(v) {
			return nil, &ProxyError{
				Kind:    ErrInvalidCallback,
				Message: fmt.Sprintf("Invalid callback name %q.", v),
			}
		}
		opts.Callback = v
	}

	return opts, nil
}

// cacheKey derives the cache key for the request. Only the normalized
// target URL and the charset enter the key; formatting parameters such
// as format and callback never do.
func cacheKey(opts *RequestOptions) string {
	return opts.TargetURL + "\t" + strings.ToLower(opts.Charset)
}

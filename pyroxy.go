package pyroxy

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/kiliczsh/pyroxy/cache"
)

// Version of the proxy, reported in the Via header and user agent.
const Version = "1.0.0"

// DefaultUserAgent is sent upstream when Config.UserAgent is empty.
const DefaultUserAgent = "Mozilla/5.0 (compatible; pyroxy/" + Version + "; +http://pyroxy.ai/)"

const (
	// DefaultCacheTime is the TTL used when the client does not ask
	// for one.
	DefaultCacheTime = 60 * time.Minute
	// MinCacheTime is the floor any client-requested TTL is clamped to.
	MinCacheTime = 5 * time.Minute
	// DefaultUpstreamTimeout bounds a single outbound call.
	DefaultUpstreamTimeout = 10 * time.Second
)

type Config struct {
	// Storage for cache entries. An in-memory cache is used if nil.
	Cache cache.Provider
	// DefaultTTL for entries stored without a cacheMaxAge parameter.
	DefaultTTL time.Duration
	// MinTTL clamps client-requested TTLs from below.
	MinTTL time.Duration
	// UpstreamTimeout bounds each outbound call.
	UpstreamTimeout time.Duration
	// MaxIdleConnsPerHost for the shared connection pool.
	MaxIdleConnsPerHost int
	// UserAgent sent on outbound requests.
	UserAgent string
	// Logger to use. The global zerolog logger is used if nil.
	Logger *zerolog.Logger
}

// Proxy is the request-forwarding and caching core. It owns the cache
// store and the upstream connection pool; both are shared by all
// concurrent request handlers and safe for concurrent use.
type Proxy struct {
	cache      cache.Provider
	fetcher    *Fetcher
	defaultTTL time.Duration
	minTTL     time.Duration
	log        zerolog.Logger
	group      singleflight.Group
}

// New initializes a proxy instance from the given config, filling in
// defaults for anything unset.
func New(config Config) *Proxy {
	var logger zerolog.Logger
	if config.Logger == nil {
		logger = zerolog.New(zerolog.NewConsoleWriter())
	} else {
		logger = *config.Logger
	}

	store := config.Cache
	if store == nil {
		store = cache.NewMemCache()
	}
	if config.DefaultTTL == 0 {
		config.DefaultTTL = DefaultCacheTime
	}
	if config.MinTTL == 0 {
		config.MinTTL = MinCacheTime
	}
	if config.UpstreamTimeout == 0 {
		config.UpstreamTimeout = DefaultUpstreamTimeout
	}
	if config.UserAgent == "" {
		config.UserAgent = DefaultUserAgent
	}

	return &Proxy{
		cache:      store,
		fetcher:    NewFetcher(config.UpstreamTimeout, config.MaxIdleConnsPerHost, config.UserAgent),
		defaultTTL: config.DefaultTTL,
		minTTL:     config.MinTTL,
		log:        logger,
	}
}

// Handler returns the HTTP surface of the proxy: /raw, /json, /info
// and /get (an alias of /json), all method-agnostic. Every response,
// errors included, carries permissive CORS headers.
func (p *Proxy) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(corsMiddleware)
	r.HandleFunc("/raw", p.formatHandler(FormatRaw))
	r.HandleFunc("/json", p.formatHandler(FormatJSON))
	r.HandleFunc("/get", p.formatHandler(FormatJSON))
	r.HandleFunc("/info", p.formatHandler(FormatInfo))
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSONError(w, http.StatusBadRequest, "Invalid format. Use one of: get, raw, json, info")
	})
	return r
}

func (p *Proxy) formatHandler(format Format) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p.handle(w, r, format)
	}
}

func (p *Proxy) handle(w http.ResponseWriter, r *http.Request, endpointFormat Format) {
	start := time.Now()

	// preflight: CORS headers are already set by the middleware
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	opts, err := parseOptions(r, endpointFormat)
	if err != nil {
		p.sendError(w, r, opts, endpointFormat, err)
		return
	}

	entry, hit, err := p.lookupOrFetch(r, opts)
	if err != nil {
		p.sendError(w, r, opts, endpointFormat, err)
		return
	}

	responseTime := entry.ResponseTime()
	if responseTime == 0 {
		responseTime = time.Since(start)
	}
	out, err := render(opts, entry.Entry, responseTime)
	if err != nil {
		p.sendError(w, r, opts, endpointFormat, err)
		return
	}

	p.setCacheHeaders(w, opts)
	w.Header().Set("Content-Type", out.contentType)
	w.WriteHeader(out.statusCode)
	if _, err := w.Write(out.body); err != nil {
		p.log.Error().Err(err).Msg("Could not write response body to client")
	}
	p.logRequest(r, opts, hit, time.Since(start))
}

// handled wraps a cache entry with the duration of the upstream call
// that produced it. Cache hits have no upstream call.
type handled struct {
	cache.Entry
	fetchTime time.Duration
}

func (h handled) ResponseTime() time.Duration { return h.fetchTime }

// lookupOrFetch implements the cache-then-fetch algorithm. Only GET
// and HEAD requests participate in the cache; concurrent misses for
// the same key are collapsed into a single upstream fetch.
func (p *Proxy) lookupOrFetch(r *http.Request, opts *RequestOptions) (handled, bool, error) {
	cacheable := !opts.DisableCache &&
		(opts.Method == http.MethodGet || opts.Method == http.MethodHead)
	key := cacheKey(opts)

	if cacheable {
		if entry, ok := p.cache.Get(key); ok {
			p.log.Trace().Str("key", key).Msg("Serving cached entry")
			return handled{Entry: entry}, true, nil
		}
	}

	if !cacheable {
		entry, err := p.fetch(r, opts)
		return entry, false, err
	}

	// probes produce body-less results, so they must never be
	// collapsed into the same flight as full fetches
	flightKey := key
	if probeRequest(opts) {
		flightKey += "\x00probe"
	}
	v, err, _ := p.group.Do(flightKey, func() (interface{}, error) {
		entry, err := p.fetch(r, opts)
		if err != nil {
			return handled{}, err
		}
		// metadata-only probes have no body and are never stored,
		// so they cannot shadow full entries under the same key
		if !probeRequest(opts) {
			p.cache.Put(key, entry.Entry)
		}
		return entry, nil
	})
	if err != nil {
		return handled{}, false, err
	}
	return v.(handled), false, nil
}

// probeRequest reports whether the request is satisfied by a
// metadata-only HEAD probe instead of a full body download.
func probeRequest(opts *RequestOptions) bool {
	return opts.Format == FormatInfo || opts.Method == http.MethodHead
}

func (p *Proxy) fetch(r *http.Request, opts *RequestOptions) (handled, error) {
	var result *FetchResult
	var err error
	if probeRequest(opts) {
		result, err = p.fetcher.Probe(r.Context(), opts.TargetURL)
	} else {
		var body io.Reader
		if opts.Method != http.MethodGet {
			body = r.Body
		}
		result, err = p.fetcher.Fetch(r.Context(), opts.TargetURL, opts.Method, body)
	}
	if err != nil {
		var fetchErr *FetchError
		if errors.As(err, &fetchErr) {
			return handled{}, upstreamError(hostOf(opts.TargetURL), fetchErr)
		}
		return handled{}, err
	}
	return handled{
		Entry: cache.Entry{
			Body:          result.Body,
			ContentType:   result.ContentType,
			ContentLength: result.ContentLength,
			StatusCode:    result.StatusCode,
			FinalURL:      result.FinalURL,
			FetchedAt:     time.Now(),
			TTL:           p.effectiveTTL(opts),
		},
		fetchTime: result.ResponseTime,
	}, nil
}

// effectiveTTL resolves the TTL for a new entry: the configured
// default when the client did not ask, otherwise the requested value
// clamped up to the configured minimum.
func (p *Proxy) effectiveTTL(opts *RequestOptions) time.Duration {
	if opts.CacheMaxAge < 0 {
		return p.defaultTTL
	}
	if opts.CacheMaxAge < p.minTTL {
		return p.minTTL
	}
	return opts.CacheMaxAge
}

func (p *Proxy) setCacheHeaders(w http.ResponseWriter, opts *RequestOptions) {
	if opts.Method != http.MethodGet && opts.Method != http.MethodHead {
		return
	}
	maxAge := time.Duration(0)
	if !opts.DisableCache {
		maxAge = p.effectiveTTL(opts)
	}
	w.Header().Set("Cache-Control",
		fmt.Sprintf("public, max-age=%d, stale-if-error=600", int(maxAge.Seconds())))
}

// sendError turns any handling failure into a well-formed response in
// the requested format. opts may be nil when parsing itself failed; the
// endpoint-implied format still decides the error shape then.
func (p *Proxy) sendError(w http.ResponseWriter, r *http.Request, opts *RequestOptions, format Format, err error) {
	if opts != nil {
		format = opts.Format
	}
	status := http.StatusInternalServerError
	var proxyErr *ProxyError
	if errors.As(err, &proxyErr) {
		status = proxyErr.StatusCode()
	}

	p.log.Warn().
		Str("method", r.Method).
		Str("url", r.URL.String()).
		Err(err).
		Msg("Request failed")

	if format == FormatRaw {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(status)
		fmt.Fprintln(w, err.Error())
		return
	}
	if opts != nil && opts.Callback != "" && (proxyErr == nil || proxyErr.Kind != ErrInvalidCallback) {
		body, _ := renderJSON(map[string]string{"error": err.Error()}, opts.Callback, opts.Charset)
		w.Header().Set("Content-Type", body.contentType)
		w.WriteHeader(status)
		w.Write(body.body)
		return
	}
	writeJSONError(w, status, err.Error())
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprintf(w, "{\"error\":%q}\n", message)
}

func (p *Proxy) logRequest(r *http.Request, opts *RequestOptions, hit bool, elapsed time.Duration) {
	isHit := 0
	if hit {
		isHit = 1
	}
	p.log.Debug().
		Str("method", r.Method).
		Str("url", opts.TargetURL).
		Str("format", string(opts.Format)).
		Str("from", originHost(r)).
		Int("hit", isHit).
		Dur("elapsed", elapsed).
		Msg("Sending response to client")
}

// originHost extracts the hostname of the requesting page, for logging
// who is proxying to where.
func originHost(r *http.Request) string {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return "browser"
	}
	if u, err := url.Parse(origin); err == nil && u.Hostname() != "" {
		return u.Hostname()
	}
	return origin
}

func hostOf(target string) string {
	if u, err := url.Parse(target); err == nil {
		return u.Host
	}
	return target
}

// corsMiddleware attaches permissive CORS headers to every response,
// error responses included. Bypassing these restrictions is the whole
// point of the proxy.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", origin)
		h.Set("Access-Control-Allow-Credentials", "true")
		h.Set("Access-Control-Allow-Headers", "Origin, X-Requested-With, Content-Type, Content-Encoding, Accept")
		h.Set("Access-Control-Allow-Methods", "OPTIONS, GET, POST, PATCH, PUT, DELETE")
		h.Set("Via", "pyroxy "+Version)
		next.ServeHTTP(w, r)
	})
}

// Package interceptor implements the edge proxy that sits in front of the
// origin site. Annotated pages get structured metadata injected on the way
// out; unannotated pages pass through untouched and are queued for analysis.
package interceptor

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/discoverly/edgeschema/internal/metrics"
	"github.com/discoverly/edgeschema/internal/schema"
)

// Config carries the interceptor's tunables.
type Config struct {
	OriginURL     string
	OriginTimeout time.Duration
	SubmitTimeout time.Duration
	MaxBodyBytes  int64
}

// Interceptor proxies requests to the origin and decorates eligible HTML
// responses with cached JSON-LD. A miss never delays the response: analysis
// is submitted on a detached goroutine after the body has been served.
type Interceptor struct {
	origin    *url.URL
	client    *http.Client
	cache     schema.MetadataCache
	submitter schema.Submitter
	cfg       Config
	logger    *zap.Logger

	wg sync.WaitGroup
}

// New constructs an Interceptor. The submitter may be nil, in which case
// misses are served without queueing analysis.
func New(cache schema.MetadataCache, submitter schema.Submitter, cfg Config, logger *zap.Logger) (*Interceptor, error) {
	origin, err := url.Parse(cfg.OriginURL)
	if err != nil {
		return nil, fmt.Errorf("parse origin url: %w", err)
	}
	if origin.Scheme == "" || origin.Host == "" {
		return nil, fmt.Errorf("origin url %q must be absolute", cfg.OriginURL)
	}
	if cfg.OriginTimeout <= 0 {
		cfg.OriginTimeout = 30 * time.Second
	}
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	return &Interceptor{
		origin:    origin,
		client:    &http.Client{Timeout: cfg.OriginTimeout},
		cache:     cache,
		submitter: submitter,
		cfg:       cfg,
		logger:    logger,
	}, nil
}

// Wait blocks until all in-flight background submissions have finished.
func (i *Interceptor) Wait() {
	i.wg.Wait()
}

func (i *Interceptor) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet || !EligiblePath(r.URL.Path) {
		i.passthrough(w, r)
		metrics.ObserveEdgeRequest("skipped")
		return
	}

	key := pageURL(r)
	doc, hit, err := i.cache.Get(r.Context(), key)
	if err != nil {
		i.logger.Warn("metadata cache lookup failed", zap.String("url", key), zap.Error(err))
		hit = false
		metrics.ObserveCacheLookup("error")
	} else if hit {
		metrics.ObserveCacheLookup("hit")
	} else {
		metrics.ObserveCacheLookup("miss")
	}

	resp, body, err := i.fetchOrigin(r)
	if err != nil {
		i.logger.Error("origin fetch failed", zap.String("url", key), zap.Error(err))
		http.Error(w, "bad gateway", http.StatusBadGateway)
		metrics.ObserveEdgeRequest("origin_error")
		return
	}

	if !isHTML(resp) {
		i.serve(w, resp, body)
		metrics.ObserveEdgeRequest("passthrough")
		return
	}

	if hit {
		injected, ierr := InjectJSONLD(body, doc)
		if ierr == nil {
			i.serve(w, resp, injected)
			metrics.ObserveInjection("ok")
			metrics.ObserveEdgeRequest("injected")
			return
		}
		i.logger.Warn("metadata injection failed, serving original", zap.String("url", key), zap.Error(ierr))
		metrics.ObserveInjection("error")
	}

	i.serve(w, resp, body)
	metrics.ObserveEdgeRequest("passthrough")

	if !hit && i.submitter != nil && resp.StatusCode == http.StatusOK {
		i.submit(key, body)
	}
}

// submit hands the page to the analysis backend on a detached goroutine so
// the response path never waits on it. Oversized bodies are truncated; the
// analyzer only reads the leading portion of a page anyway.
func (i *Interceptor) submit(pageURL string, body []byte) {
	if i.cfg.MaxBodyBytes > 0 && int64(len(body)) > i.cfg.MaxBodyBytes {
		body = body[:i.cfg.MaxBodyBytes]
	}
	html := string(body)
	i.wg.Add(1)
	go func() {
		defer i.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), i.cfg.SubmitTimeout)
		defer cancel()
		site := metrics.SanitizeSite(pageURL)
		if err := i.submitter.SubmitPage(ctx, pageURL, html); err != nil {
			i.logger.Warn("analysis submission failed", zap.String("url", pageURL), zap.Error(err))
			metrics.ObserveSubmission("error", site)
			return
		}
		metrics.ObserveSubmission("ok", site)
	}()
}

// passthrough proxies ineligible requests without reading the full body.
func (i *Interceptor) passthrough(w http.ResponseWriter, r *http.Request) {
	out, err := i.buildOriginRequest(r)
	if err != nil {
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}
	resp, err := i.client.Do(out)
	if err != nil {
		i.logger.Error("origin fetch failed", zap.String("path", r.URL.Path), zap.Error(err))
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()
	copyHeader(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		i.logger.Debug("copy origin body failed", zap.Error(err))
	}
}

// fetchOrigin proxies an eligible request and buffers the full body so it
// can be inspected, injected, or submitted for analysis.
func (i *Interceptor) fetchOrigin(r *http.Request) (*http.Response, []byte, error) {
	out, err := i.buildOriginRequest(r)
	if err != nil {
		return nil, nil, err
	}
	resp, err := i.client.Do(out)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("read origin body: %w", err)
	}
	return resp, body, nil
}

func (i *Interceptor) buildOriginRequest(r *http.Request) (*http.Request, error) {
	target := *i.origin
	target.Path = r.URL.Path
	target.RawQuery = r.URL.RawQuery
	out, err := http.NewRequestWithContext(r.Context(), r.Method, target.String(), r.Body)
	if err != nil {
		return nil, err
	}
	copyHeader(out.Header, r.Header)
	out.Header.Set("X-Forwarded-Host", r.Host)
	out.Host = i.origin.Host
	return out, nil
}

func (i *Interceptor) serve(w http.ResponseWriter, resp *http.Response, body []byte) {
	copyHeader(w.Header(), resp.Header)
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(resp.StatusCode)
	if _, err := w.Write(body); err != nil {
		i.logger.Debug("write response body failed", zap.Error(err))
	}
}

// pageURL reconstructs the full URL the client requested. It doubles as the
// metadata cache key, so it must be stable across hits and submissions.
func pageURL(r *http.Request) string {
	scheme := "http"
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	} else if r.TLS != nil {
		scheme = "https"
	}
	u := url.URL{
		Scheme:   scheme,
		Host:     r.Host,
		Path:     r.URL.Path,
		RawQuery: r.URL.RawQuery,
	}
	return u.String()
}

func isHTML(resp *http.Response) bool {
	return strings.Contains(resp.Header.Get("Content-Type"), "text/html")
}

func copyHeader(dst, src http.Header) {
	for k, vals := range src {
		if k == "Content-Length" {
			continue
		}
		for _, v := range vals {
			dst.Add(k, v)
		}
	}
}

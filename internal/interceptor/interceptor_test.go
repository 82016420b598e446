package interceptor

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/discoverly/edgeschema/internal/cache"
	"github.com/discoverly/edgeschema/internal/schema"
)

type recordingSubmitter struct {
	mu    sync.Mutex
	pages []string
	html  []string
}

func (r *recordingSubmitter) SubmitPage(_ context.Context, pageURL, htmlContent string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pages = append(r.pages, pageURL)
	r.html = append(r.html, htmlContent)
	return nil
}

func (r *recordingSubmitter) submissions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.pages...)
}

const samplePage = `<!DOCTYPE html>
<html>
<head>
<title>Widgets</title>
</head>
<body><p>Widgets for sale.</p></body>
</html>`

func newTestInterceptor(t *testing.T, origin *httptest.Server, c schema.MetadataCache, sub schema.Submitter) *Interceptor {
	t.Helper()
	i, err := New(c, sub, Config{
		OriginURL:     origin.URL,
		OriginTimeout: 5 * time.Second,
		SubmitTimeout: 5 * time.Second,
	}, nil)
	require.NoError(t, err)
	return i
}

func TestEligiblePath(t *testing.T) {
	t.Parallel()

	eligible := []string{"/", "/products/widget", "/blog/post?page=2", "/apidocs"}
	for _, p := range eligible {
		require.True(t, EligiblePath(p), p)
	}
	skipped := []string{
		"/styles/main.css",
		"/img/logo.PNG",
		"/fonts/a.woff2",
		"/api/v1/users",
		"/admin/login",
		"/wp-admin/options.php",
		"/wp-content/uploads/a.html",
	}
	for _, p := range skipped {
		require.False(t, EligiblePath(p), p)
	}
}

func TestInjectJSONLDPreservesSurroundingBytes(t *testing.T) {
	t.Parallel()

	doc := schema.JSONLD{"@context": "https://schema.org", "@type": "WebPage"}
	out, err := InjectJSONLD([]byte(samplePage), doc)
	require.NoError(t, err)

	got := string(out)
	require.Equal(t, 1, strings.Count(got, `<script type="application/ld+json">`))

	start := strings.Index(got, `<script type="application/ld+json">`)
	end := strings.Index(got, `</script>`) + len(`</script>`)
	stripped := got[:start] + got[end:]
	require.Equal(t, samplePage, stripped)

	// The element sits immediately before the closing head tag.
	require.True(t, strings.HasPrefix(got[end:], "</head>"))
}

func TestInjectJSONLDMultibyteContent(t *testing.T) {
	t.Parallel()

	// İ (U+0130) and K (U+212A) lowercase to fewer bytes; offsets into the
	// original document must not shift because of them.
	page := "<!DOCTYPE html>\n<html>\n<head>\n" +
		"<title>İstanbul İzmir İçel at 300K</title>\n" +
		"</head>\n<body><p>Travel guide.</p></body>\n</html>"

	doc := schema.JSONLD{"@context": "https://schema.org", "@type": "TravelGuide"}
	out, err := InjectJSONLD([]byte(page), doc)
	require.NoError(t, err)

	got := string(out)
	require.Equal(t, 1, strings.Count(got, `<script type="application/ld+json">`))

	start := strings.Index(got, `<script type="application/ld+json">`)
	end := strings.Index(got, `</script>`) + len(`</script>`)
	stripped := got[:start] + got[end:]
	require.Equal(t, page, stripped)
	require.True(t, strings.HasPrefix(got[end:], "</head>"))
	require.Contains(t, got[:start], "İstanbul İzmir İçel at 300K</title>")
}

func TestInjectJSONLDUppercaseHeadTag(t *testing.T) {
	t.Parallel()

	page := `<HTML><HEAD><TITLE>Shout</TITLE></HEAD><BODY></BODY></HTML>`
	doc := schema.JSONLD{"@context": "https://schema.org", "@type": "WebPage"}
	out, err := InjectJSONLD([]byte(page), doc)
	require.NoError(t, err)

	got := string(out)
	end := strings.Index(got, `</script>`) + len(`</script>`)
	require.True(t, strings.HasPrefix(got[end:], "</HEAD>"), "original tag casing is preserved")
}

func TestInjectJSONLDNoHead(t *testing.T) {
	t.Parallel()

	doc := schema.JSONLD{"@context": "https://schema.org", "@type": "WebPage"}
	_, err := InjectJSONLD([]byte(`{"not":"html"}`), doc)
	require.Error(t, err)
}

func TestCacheHitInjectsMetadata(t *testing.T) {
	t.Parallel()

	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(samplePage))
	}))
	defer origin.Close()

	c := cache.NewMemory()
	sub := &recordingSubmitter{}
	i := newTestInterceptor(t, origin, c, sub)

	doc := schema.JSONLD{"@context": "https://schema.org", "@type": "Product", "name": "Widget"}
	srv := httptest.NewServer(i)
	defer srv.Close()

	require.NoError(t, c.Put(context.Background(), srv.URL+"/products/widget", doc))

	resp, err := http.Get(srv.URL + "/products/widget")
	require.NoError(t, err)
	body := readAll(t, resp)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, body, `<script type="application/ld+json">`)
	require.Contains(t, body, `"@type":"Product"`)

	i.Wait()
	require.Empty(t, sub.submissions(), "hits must not resubmit")
}

func TestCacheMissServesOriginalAndSubmits(t *testing.T) {
	t.Parallel()

	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(samplePage))
	}))
	defer origin.Close()

	sub := &recordingSubmitter{}
	i := newTestInterceptor(t, origin, cache.NewMemory(), sub)
	srv := httptest.NewServer(i)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/about")
	require.NoError(t, err)
	body := readAll(t, resp)

	require.Equal(t, samplePage, body, "miss must serve the origin bytes unchanged")

	i.Wait()
	subs := sub.submissions()
	require.Len(t, subs, 1)
	require.True(t, strings.HasSuffix(subs[0], "/about"))
	require.Equal(t, samplePage, sub.html[0])
}

func TestIneligiblePathsPassThrough(t *testing.T) {
	t.Parallel()

	const css = "body { color: red }"
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/css")
		_, _ = w.Write([]byte(css))
	}))
	defer origin.Close()

	sub := &recordingSubmitter{}
	i := newTestInterceptor(t, origin, cache.NewMemory(), sub)
	srv := httptest.NewServer(i)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/styles/main.css")
	require.NoError(t, err)
	require.Equal(t, css, readAll(t, resp))

	i.Wait()
	require.Empty(t, sub.submissions())
}

func TestNonGETPassesThrough(t *testing.T) {
	t.Parallel()

	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(samplePage))
	}))
	defer origin.Close()

	sub := &recordingSubmitter{}
	i := newTestInterceptor(t, origin, cache.NewMemory(), sub)
	srv := httptest.NewServer(i)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/contact", "application/x-www-form-urlencoded", strings.NewReader("a=1"))
	require.NoError(t, err)
	require.Equal(t, samplePage, readAll(t, resp))

	i.Wait()
	require.Empty(t, sub.submissions())
}

type failingCache struct{}

func (failingCache) Get(context.Context, string) (schema.JSONLD, bool, error) {
	return nil, false, context.DeadlineExceeded
}

func (failingCache) Put(context.Context, string, schema.JSONLD) error {
	return context.DeadlineExceeded
}

func TestCacheFailureDegradesToPassthrough(t *testing.T) {
	t.Parallel()

	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(samplePage))
	}))
	defer origin.Close()

	i := newTestInterceptor(t, origin, failingCache{}, nil)
	srv := httptest.NewServer(i)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, samplePage, readAll(t, resp))
}

func TestNonHTMLResponseNotInjected(t *testing.T) {
	t.Parallel()

	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer origin.Close()

	sub := &recordingSubmitter{}
	i := newTestInterceptor(t, origin, cache.NewMemory(), sub)
	srv := httptest.NewServer(i)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/data")
	require.NoError(t, err)
	require.Equal(t, `{"ok":true}`, readAll(t, resp))

	i.Wait()
	require.Empty(t, sub.submissions(), "non-HTML responses are not analyzed")
}

func TestBackendSubmitter(t *testing.T) {
	t.Parallel()

	var gotKey, gotBody string
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-API-Key")
		var req submitRequest
		require.NoError(t, decodeJSON(r, &req))
		gotBody = req.HTMLContent
		w.WriteHeader(http.StatusAccepted)
	}))
	defer backend.Close()

	s := NewBackendSubmitter(backend.URL, "secret", time.Second)
	err := s.SubmitPage(context.Background(), "https://example.com/", samplePage)
	require.NoError(t, err)
	require.Equal(t, "secret", gotKey)
	require.Equal(t, samplePage, gotBody)
}

func TestBackendSubmitterRejectsNonAccepted(t *testing.T) {
	t.Parallel()

	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadRequest)
	}))
	defer backend.Close()

	s := NewBackendSubmitter(backend.URL, "", time.Second)
	err := s.SubmitPage(context.Background(), "https://example.com/", samplePage)
	require.Error(t, err)
	require.Contains(t, err.Error(), "400")
}

func readAll(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

package server

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"threatfeed/internal/analysis"
	"threatfeed/internal/config"
	"threatfeed/internal/database"
	"threatfeed/internal/feed"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	store, err := database.NewSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	log := logrus.New()
	log.SetOutput(io.Discard)
	entry := logrus.NewEntry(log)

	cfg := &config.Config{
		FeedTitle:       "Threatfeed",
		FeedDescription: "Aggregated cybersecurity news",
		FeedLink:        "http://localhost:8080",
	}

	analyzer := analysis.New(analysis.DefaultConfig())
	processor := feed.NewProcessor(store, analyzer, entry)
	fetcher := feed.NewFetcher(store, processor, "threatfeed-test/1.0", 5*time.Second, entry)
	service := feed.NewService(store, fetcher, 3, 0, entry)

	srv := httptest.NewServer(New(store, service, cfg, entry).Router())
	t.Cleanup(srv.Close)
	return srv
}

func newMultipart(t *testing.T, buf *bytes.Buffer, field, content string) string {
	t.Helper()
	w := multipart.NewWriter(buf)
	part, err := w.CreateFormFile(field, "subscriptions.opml")
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return w.FormDataContentType()
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t)
	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCreateAndListSources(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Post(srv.URL+"/api/sources", "application/json",
		bytes.NewBufferString(`{"name":"Krebs on Security","feed_url":"https://krebsonsecurity.com/feed/"}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, "ok", body["status"])
	assert.NotZero(t, body["id"])

	resp, err = http.Get(srv.URL + "/api/sources")
	require.NoError(t, err)
	body = decodeBody(t, resp)
	assert.Equal(t, "ok", body["status"])
	sources := body["sources"].([]any)
	require.Len(t, sources, 1)
	source := sources[0].(map[string]any)
	assert.Equal(t, "Krebs on Security", source["name"])
}

func TestCreateSourceValidation(t *testing.T) {
	srv := newTestServer(t)

	cases := []struct {
		name string
		body string
	}{
		{"missing name", `{"feed_url":"https://example.com/feed"}`},
		{"missing url", `{"name":"Example"}`},
		{"relative url", `{"name":"Example","feed_url":"feed.xml"}`},
		{"not json", `]`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, err := http.Post(srv.URL+"/api/sources", "application/json", strings.NewReader(tc.body))
			require.NoError(t, err)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			body := decodeBody(t, resp)
			assert.Equal(t, "error", body["status"])
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestArticlesEmptyEnvelope(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/articles")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, "ok", body["status"])
	assert.Empty(t, body["articles"])

	pagination := body["pagination"].(map[string]any)
	assert.EqualValues(t, 0, pagination["total"])
	assert.EqualValues(t, 20, pagination["limit"])
	assert.Equal(t, false, pagination["has_next_page"])
}

func TestArticlesRejectsBadQueryParams(t *testing.T) {
	srv := newTestServer(t)

	for _, query := range []string{
		"limit=abc",
		"source_ids=1,x",
		"breaking=perhaps",
		"from=not-a-date",
	} {
		resp, err := http.Get(srv.URL + "/api/articles?" + query)
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, query)
		body := decodeBody(t, resp)
		assert.Equal(t, "error", body["status"])
	}
}

func TestSyncWithoutSources(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Post(srv.URL+"/api/sync", "application/json", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, "ok", body["status"])
	assert.Empty(t, body["results"])
}

func TestStatsEnvelope(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/stats")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, "ok", body["status"])
	stats := body["stats"].(map[string]any)
	assert.EqualValues(t, 0, stats["total_articles"])
}

func TestRSSOutput(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/rss.xml")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "rss")

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "<rss")
	assert.Contains(t, string(raw), "Threatfeed")
}

func TestExportOPML(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Post(srv.URL+"/api/sources", "application/json",
		bytes.NewBufferString(`{"name":"Example","feed_url":"https://example.com/feed"}`))
	require.NoError(t, err)
	resp.Body.Close()

	resp, err = http.Get(srv.URL + "/api/export-opml")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "xml")

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `xmlUrl="https://example.com/feed"`)
}

func TestImportOPML(t *testing.T) {
	srv := newTestServer(t)

	var buf bytes.Buffer
	mw := newMultipart(t, &buf, "opml", `<?xml version="1.0"?><opml version="2.0"><body><outline type="rss" text="Example" xmlUrl="https://example.com/feed"/></body></opml>`)

	resp, err := http.Post(srv.URL+"/api/import-opml", mw, &buf)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, "ok", body["status"])
	assert.EqualValues(t, 1, body["imported"])
	assert.EqualValues(t, 1, body["total"])
}

package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ami-tgbot-go/internal/config"
	"github.com/ami-tgbot-go/internal/services/cache"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const articleHTML = `<html><head><title>Марс, четвёртая планета</title>
<script>var planet = "скрипт не должен попасть в текст";</script></head>
<body>
<nav><p>Навигационное меню сайта с большим количеством ссылок на все разделы</p></nav>
<div class="sidebar"><p>Боковая колонка с рекламой которая не должна попасть в итоговый текст</p></div>
<article class="post-content">
<h1>Марс</h1>
<p>Марс является четвёртой по удалённости от Солнца планетой Солнечной системы.</p>
<p>Мы используем cookie для улучшения работы сайта и вашего удобства на нём.</p>
<li>12345 67890 12345 67890 12345 67890 12345 67890 12345</li>
<p>Планету назвали в честь Марса, древнеримского бога войны, пишите info@mars.example</p>
</article>
</body></html>`

type fakeGoogle struct {
	server   *httptest.Server
	apiHits  atomic.Int32
	scrapes  atomic.Int32
	pages    atomic.Int32
	apiLinks []string
	images   []string
	apiFail  bool
}

func newFakeGoogle(t *testing.T) *fakeGoogle {
	t.Helper()
	f := &fakeGoogle{}
	mux := http.NewServeMux()

	mux.HandleFunc("/api", func(w http.ResponseWriter, r *http.Request) {
		f.apiHits.Add(1)
		if f.apiFail {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		links := f.apiLinks
		if r.URL.Query().Get("searchType") == "image" {
			links = f.images
		}
		items := make([]map[string]string, 0, len(links))
		for _, l := range links {
			items = append(items, map[string]string{"link": l})
		}
		json.NewEncoder(w).Encode(map[string]any{"items": items})
	})
	mux.HandleFunc("/scrape", func(w http.ResponseWriter, r *http.Request) {
		f.scrapes.Add(1)
		assert.Equal(t, "ru", r.URL.Query().Get("hl"))
		assert.NotEmpty(t, r.Header.Get("User-Agent"))
		fmt.Fprintf(w, `<html><body>
<div class="g"><div class="yuRUbf"><a href="https://news.example.ru/a">ru</a></div></div>
<div class="g"><div class="yuRUbf"><a href="%[1]s/article">article</a></div></div>
<div class="g"><div class="yuRUbf"><a href="%[1]s/empty">empty</a></div></div>
</body></html>`, f.server.URL)
	})
	mux.HandleFunc("/article", func(w http.ResponseWriter, r *http.Request) {
		f.pages.Add(1)
		io.WriteString(w, articleHTML)
	})
	mux.HandleFunc("/empty", func(w http.ResponseWriter, r *http.Request) {
		f.pages.Add(1)
		io.WriteString(w, `<html><body><p>коротко</p></body></html>`)
	})

	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeGoogle) client(withAPI bool) *GoogleClient {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	cfg := &config.SearchConfig{
		APIBaseURL:      f.server.URL + "/api",
		ScrapeURL:       f.server.URL + "/scrape",
		Timeout:         2 * time.Second,
		FilteredDomains: []string{".ru"},
		ImageCount:      5,
	}
	if withAPI {
		cfg.APIKey = "key"
		cfg.CX = "cx"
	}
	c := cache.NewCache(&config.CacheConfig{Enabled: true, TTL: time.Minute, MaxSize: 10}, logger)
	return NewGoogleClient(cfg, c, logger)
}

func TestSearchAndExtractViaAPI(t *testing.T) {
	f := newFakeGoogle(t)
	f.apiLinks = []string{"https://blocked.example.ru/x", f.server.URL + "/empty", f.server.URL + "/article"}

	got, err := f.client(true).SearchAndExtract(context.Background(), "что такое марс")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(got, "\n=== Марс, четвёртая планета ===\nSource: "+strings.TrimPrefix(f.server.URL, "http://")+"\n"))
	assert.Contains(t, got, "Марс является четвёртой по удалённости от Солнца")
	assert.Contains(t, got, "древнеримского бога войны, пишите")
	assert.NotContains(t, got, "info@mars.example")
	assert.NotContains(t, got, "cookie")
	assert.NotContains(t, got, "Навигационное")
	assert.NotContains(t, got, "Боковая")
	assert.NotContains(t, got, "скрипт")
	assert.NotContains(t, got, "12345")
	assert.Zero(t, f.scrapes.Load())
	assert.EqualValues(t, 2, f.pages.Load(), "the empty page is tried first")
}

func TestSearchAndExtractFallsBackToScraping(t *testing.T) {
	f := newFakeGoogle(t)

	got, err := f.client(false).SearchAndExtract(context.Background(), "марс")
	require.NoError(t, err)

	assert.Contains(t, got, "Марс является четвёртой")
	assert.Zero(t, f.apiHits.Load())
	assert.EqualValues(t, 1, f.scrapes.Load())
}

func TestSearchAndExtractAPIFailureFallsBack(t *testing.T) {
	f := newFakeGoogle(t)
	f.apiFail = true

	_, err := f.client(true).SearchAndExtract(context.Background(), "марс")
	require.NoError(t, err)
	assert.EqualValues(t, 1, f.scrapes.Load())
}

func TestSearchAndExtractNoResults(t *testing.T) {
	f := newFakeGoogle(t)
	f.apiLinks = []string{f.server.URL + "/empty", f.server.URL + "/empty"}

	_, err := f.client(true).SearchAndExtract(context.Background(), "пусто")
	assert.ErrorIs(t, err, ErrNoResults)
}

func TestSearchAndExtractIsCached(t *testing.T) {
	f := newFakeGoogle(t)
	f.apiLinks = []string{f.server.URL + "/article"}
	client := f.client(true)
	ctx := context.Background()

	first, err := client.SearchAndExtract(ctx, "марс")
	require.NoError(t, err)
	second, err := client.SearchAndExtract(ctx, "марс")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.EqualValues(t, 1, f.apiHits.Load())
	assert.EqualValues(t, 1, f.pages.Load())
}

func TestSearchImages(t *testing.T) {
	f := newFakeGoogle(t)
	f.images = []string{"https://img.example/1.jpg", "https://img.example/2.jpg", "https://img.example/3.jpg"}

	images, err := f.client(true).SearchImages(context.Background(), "годжо", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://img.example/1.jpg", "https://img.example/2.jpg"}, images)
}

func TestSearchImagesWithoutAPI(t *testing.T) {
	f := newFakeGoogle(t)

	images, err := f.client(false).SearchImages(context.Background(), "годжо", 2)
	require.NoError(t, err)
	assert.Empty(t, images)
	assert.Zero(t, f.apiHits.Load())
}

func TestSearchImagesFailure(t *testing.T) {
	f := newFakeGoogle(t)
	f.apiFail = true

	_, err := f.client(true).SearchImages(context.Background(), "годжо", 2)
	assert.Error(t, err)
}

func TestCleanText(t *testing.T) {
	assert.Equal(t, "hello world", cleanText("  <b>hello</b>\n\t world  "))
	assert.Equal(t, "write to or see", cleanText("write to me@example.com or see https://example.com/x"))
}

func TestIsValidContent(t *testing.T) {
	assert.False(t, isValidContent("слишком коротко"))
	assert.False(t, isValidContent(strings.Repeat("1234 ", 20)))
	assert.False(t, isValidContent("Все права защищены, и этот текст достаточно длинный для проверки"))
	assert.True(t, isValidContent("Это обычный абзац текста, который достаточно длинный для проверки"))
}

func TestIsFilteredDomain(t *testing.T) {
	g := &GoogleClient{cfg: &config.SearchConfig{FilteredDomains: []string{".ru"}}}

	assert.True(t, g.isFilteredDomain("https://lenta.ru/news"))
	assert.False(t, g.isFilteredDomain("https://example.com/ru"))
	assert.False(t, g.isFilteredDomain("https://russia.example.org"))
}

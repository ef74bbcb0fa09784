// Package search finds web pages and images for a query and extracts
// readable text from the pages.
package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ami-tgbot-go/internal/config"
	"github.com/ami-tgbot-go/internal/services/cache"
	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"
)

// ErrNoResults means nothing usable was found for the query
var ErrNoResults = errors.New("no search results")

// Searcher is the search collaborator used by the response pipeline
type Searcher interface {
	SearchAndExtract(ctx context.Context, query string) (string, error)
	SearchImages(ctx context.Context, query string, count int) ([]string, error)
}

const (
	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"

	maxLinks     = 2
	apiResultNum = 10

	kindExtract = "extract"
	kindImages  = "images"
)

// GoogleClient uses the Custom Search JSON API and falls back to scraping
// the result page when the API is not configured or returns nothing.
type GoogleClient struct {
	cfg        *config.SearchConfig
	httpClient *http.Client
	cache      cache.Service
	logger     *logrus.Logger
}

// NewGoogleClient creates a search client. cache may be nil.
func NewGoogleClient(cfg *config.SearchConfig, c cache.Service, logger *logrus.Logger) *GoogleClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &GoogleClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		cache:      c,
		logger:     logger,
	}
}

type apiResponse struct {
	Items []struct {
		Link  string `json:"link"`
		Title string `json:"title"`
	} `json:"items"`
}

// SearchAndExtract returns the text of the first of the top two result
// pages that yields enough readable content.
func (g *GoogleClient) SearchAndExtract(ctx context.Context, query string) (string, error) {
	if cached, ok := g.cacheGet(ctx, query, kindExtract); ok {
		return cached, nil
	}

	links := g.firstLinks(ctx, query)
	if len(links) == 0 {
		return "", fmt.Errorf("no valid links for %q: %w", query, ErrNoResults)
	}

	for _, link := range links {
		p, err := g.extract(ctx, link)
		if err != nil {
			g.logger.WithError(err).WithField("url", link).Debug("Content extraction failed")
			continue
		}

		result := p.String()
		g.cacheSet(ctx, query, kindExtract, result)
		return result, nil
	}

	return "", fmt.Errorf("failed to extract content for %q: %w", query, ErrNoResults)
}

// SearchImages returns up to count image URLs. An unconfigured API yields
// no images rather than an error.
func (g *GoogleClient) SearchImages(ctx context.Context, query string, count int) ([]string, error) {
	if count <= 0 {
		count = g.cfg.ImageCount
	}
	cacheKey := query + "#" + strconv.Itoa(count)
	if cached, ok := g.cacheGet(ctx, cacheKey, kindImages); ok {
		if cached == "" {
			return []string{}, nil
		}
		return strings.Split(cached, "\n"), nil
	}

	if !g.apiConfigured() {
		return []string{}, nil
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("searchType", "image")
	params.Set("num", strconv.Itoa(count))

	resp, err := g.queryAPI(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("image search: %w", err)
	}

	images := make([]string, 0, len(resp.Items))
	for _, item := range resp.Items {
		if item.Link != "" {
			images = append(images, item.Link)
		}
	}
	if len(images) > count {
		images = images[:count]
	}

	g.cacheSet(ctx, cacheKey, kindImages, strings.Join(images, "\n"))
	return images, nil
}

func (g *GoogleClient) apiConfigured() bool {
	return g.cfg.APIKey != "" && g.cfg.CX != ""
}

func (g *GoogleClient) firstLinks(ctx context.Context, query string) []string {
	links, err := g.searchAPI(ctx, query)
	if err != nil {
		g.logger.WithError(err).Warn("Search API request failed, falling back to scraping")
	}
	if len(links) == 0 {
		links, err = g.searchScrape(ctx, query)
		if err != nil {
			g.logger.WithError(err).Warn("Search scraping failed")
		}
	}
	if len(links) > maxLinks {
		links = links[:maxLinks]
	}
	return links
}

func (g *GoogleClient) searchAPI(ctx context.Context, query string) ([]string, error) {
	if !g.apiConfigured() {
		return nil, nil
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("num", strconv.Itoa(apiResultNum))

	resp, err := g.queryAPI(ctx, params)
	if err != nil {
		return nil, err
	}

	var links []string
	for _, item := range resp.Items {
		if item.Link != "" && !g.isFilteredDomain(item.Link) {
			links = append(links, item.Link)
		}
	}
	return links, nil
}

func (g *GoogleClient) queryAPI(ctx context.Context, params url.Values) (*apiResponse, error) {
	params.Set("key", g.cfg.APIKey)
	params.Set("cx", g.cfg.CX)

	body, err := g.get(ctx, g.cfg.APIBaseURL+"?"+params.Encode(), false)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var result apiResponse
	if err := json.NewDecoder(body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to parse search response: %w", err)
	}
	return &result, nil
}

func (g *GoogleClient) searchScrape(ctx context.Context, query string) ([]string, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("hl", "ru")
	params.Set("num", strconv.Itoa(apiResultNum))

	body, err := g.get(ctx, g.cfg.ScrapeURL+"?"+params.Encode(), true)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse result page: %w", err)
	}

	var links []string
	doc.Find(".yuRUbf a").Each(func(_ int, s *goquery.Selection) {
		if href, ok := s.Attr("href"); ok && href != "" && !g.isFilteredDomain(href) {
			links = append(links, href)
		}
	})
	return links, nil
}

func newBrowserRequest(ctx context.Context, rawURL string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	return req, nil
}

func (g *GoogleClient) get(ctx context.Context, rawURL string, browser bool) (io.ReadCloser, error) {
	req, err := newBrowserRequest(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	if !browser {
		req.Header.Del("User-Agent")
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("request failed with status %d", resp.StatusCode)
	}
	return resp.Body, nil
}

func (g *GoogleClient) isFilteredDomain(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := u.Hostname()
	for _, domain := range g.cfg.FilteredDomains {
		if domain != "" && strings.HasSuffix(host, domain) {
			return true
		}
	}
	return false
}

func (g *GoogleClient) cacheGet(ctx context.Context, query, kind string) (string, bool) {
	if g.cache == nil {
		return "", false
	}
	return g.cache.Get(ctx, query, kind)
}

func (g *GoogleClient) cacheSet(ctx context.Context, query, kind, value string) {
	if g.cache == nil {
		return
	}
	if err := g.cache.Set(ctx, query, kind, value); err != nil {
		g.logger.WithError(err).Debug("Failed to cache search result")
	}
}

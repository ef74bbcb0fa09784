package search

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
)

const minContentLength = 50

var (
	tagPattern        = regexp.MustCompile(`<[^>]+>`)
	controlPattern    = regexp.MustCompile(`[\n\r\t]+`)
	spacePattern      = regexp.MustCompile(`\s+`)
	emailPattern      = regexp.MustCompile(`\S+@\S+`)
	linkPattern       = regexp.MustCompile(`http\S+`)
	mainClassPattern  = regexp.MustCompile(`(?i)content|article|post|text|entry`)
	noiseSelector     = "script, style, footer, header, nav, aside, .cookie-notice, .advertisement"
	mainSelector      = "article, main, section, div"
	paragraphSelector = "p, h1, h2, h3, li"

	stopWords = []string{"cookie", "права", "reserved", "copyright", "политика", "конфиденциальности"}
)

type page struct {
	URL     string
	Title   string
	Domain  string
	Content string
}

func (p page) String() string {
	return fmt.Sprintf("\n=== %s ===\nSource: %s\n%s", p.Title, p.Domain, p.Content)
}

func (g *GoogleClient) extract(ctx context.Context, link string) (page, error) {
	if g.isFilteredDomain(link) {
		return page{}, fmt.Errorf("blocked domain")
	}

	req, err := newBrowserRequest(ctx, link)
	if err != nil {
		return page{}, err
	}
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return page{}, fmt.Errorf("failed to fetch page: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return page{}, fmt.Errorf("page request failed with status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return page{}, fmt.Errorf("failed to parse page: %w", err)
	}

	final := resp.Request.URL
	content := extractContent(doc)
	if utf8.RuneCountInString(content) < minContentLength {
		return page{}, fmt.Errorf("insufficient content")
	}

	return page{
		URL:     final.String(),
		Title:   cleanText(doc.Find("title").First().Text()),
		Domain:  final.Host,
		Content: content,
	}, nil
}

// extractContent drops page chrome, picks the first container that looks
// like the main content and joins its valid paragraphs.
func extractContent(doc *goquery.Document) string {
	doc.Find(noiseSelector).Remove()

	main := doc.Find(mainSelector).FilterFunction(func(_ int, s *goquery.Selection) bool {
		class, _ := s.Attr("class")
		return class != "" && mainClassPattern.MatchString(class)
	}).First()
	if main.Length() == 0 {
		main = doc.Selection
	}

	var parts []string
	main.Find(paragraphSelector).Each(func(_ int, s *goquery.Selection) {
		text := s.Text()
		if isValidContent(text) {
			parts = append(parts, cleanText(text))
		}
	})
	return strings.Join(parts, " ")
}

func cleanText(text string) string {
	text = tagPattern.ReplaceAllString(text, " ")
	text = emailPattern.ReplaceAllString(text, "")
	text = linkPattern.ReplaceAllString(text, "")
	text = controlPattern.ReplaceAllString(text, " ")
	text = spacePattern.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// isValidContent accepts text of at least 50 characters without boilerplate
// words where more than half of the characters are Latin or Cyrillic letters.
func isValidContent(text string) bool {
	length := utf8.RuneCountInString(text)
	if length < minContentLength {
		return false
	}

	lowered := strings.ToLower(text)
	for _, word := range stopWords {
		if strings.Contains(lowered, word) {
			return false
		}
	}

	letters := 0
	for _, r := range text {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= 'а' && r <= 'я') || (r >= 'А' && r <= 'Я') {
			letters++
		}
	}
	return float64(letters)/float64(length) > 0.5
}

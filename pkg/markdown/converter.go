package markdown

import (
	"regexp"
	"strings"

	"github.com/russross/blackfriday/v2"
)

var (
	paragraphPattern = regexp.MustCompile(`(?s)<p>(.*?)</p>`)
	headingPattern   = regexp.MustCompile(`(?s)<h[1-6][^>]*>(.*?)</h[1-6]>`)
	codeBlockPattern = regexp.MustCompile(`(?s)<pre><code(?: class="[^"]*")?>(.*?)</code></pre>`)
	breakPattern     = regexp.MustCompile(`<br\s*/?>`)
	tagPattern       = regexp.MustCompile(`</?([a-zA-Z0-9]+)(?:\s[^>]*)?>`)
	newlinesPattern  = regexp.MustCompile(`\n{3,}`)
)

// Tags Telegram accepts in HTML parse mode
var supportedTags = map[string]struct{}{
	"b": {}, "i": {}, "u": {}, "s": {}, "code": {}, "pre": {}, "a": {},
}

var replacer = strings.NewReplacer(
	"<strong>", "<b>", "</strong>", "</b>",
	"<em>", "<i>", "</em>", "</i>",
	"<del>", "<s>", "</del>", "</s>",
	"<ul>", "", "</ul>", "",
	"<ol>", "", "</ol>", "",
	"<li>", "• ", "</li>", "",
	"<hr />", "", "<hr>", "",
)

// ToTelegramHTML converts markdown to Telegram-compatible HTML
func ToTelegramHTML(markdown string) string {
	if strings.TrimSpace(markdown) == "" {
		return ""
	}

	html := string(blackfriday.Run([]byte(markdown), blackfriday.WithExtensions(blackfriday.CommonExtensions)))
	return cleanHTMLForTelegram(html)
}

// cleanHTMLForTelegram cleans HTML to be compatible with Telegram
func cleanHTMLForTelegram(html string) string {
	html = codeBlockPattern.ReplaceAllString(html, "<pre>$1</pre>")
	html = headingPattern.ReplaceAllString(html, "<b>$1</b>\n")
	html = paragraphPattern.ReplaceAllString(html, "$1\n")
	html = breakPattern.ReplaceAllString(html, "\n")
	html = replacer.Replace(html)

	html = tagPattern.ReplaceAllStringFunc(html, func(match string) string {
		name := strings.ToLower(tagPattern.FindStringSubmatch(match)[1])
		if _, ok := supportedTags[name]; ok {
			return match
		}
		return ""
	})

	html = newlinesPattern.ReplaceAllString(html, "\n\n")
	return strings.TrimSpace(html)
}

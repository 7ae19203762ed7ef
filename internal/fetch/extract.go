package fetch

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/antchfx/htmlquery"
	readability "github.com/go-shiori/go-readability"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
)

var (
	mdConverter = converter.NewConverter(
		converter.WithPlugins(
			base.NewBasePlugin(),
			commonmark.NewCommonmarkPlugin(),
			table.NewTablePlugin(),
		),
	)
	sanitizer = bluemonday.UGCPolicy()
)

// Extract turns an HTML document into comparable text.
//
// selector is an XPath expression restricting extraction to the first
// matching node; empty means the body. mode is one of the Extract* values.
func Extract(document, pageURL, mode, selector string) (string, error) {
	doc, err := htmlquery.Parse(strings.NewReader(document))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}

	if mode == ExtractReadability && selector == "" {
		if text := readableText(document, pageURL); text != "" {
			return text, nil
		}
		mode = ExtractText
	}

	node, err := selectNode(doc, selector)
	if err != nil {
		return "", err
	}

	switch mode {
	case ExtractMarkdown:
		clean := sanitizer.Sanitize(htmlquery.OutputHTML(node, true))
		md, err := mdConverter.ConvertString(clean, converter.WithDomain(pageURL))
		if err != nil {
			return "", fmt.Errorf("convert markdown: %w", err)
		}
		return strings.TrimSpace(md), nil
	default:
		return InnerText(node), nil
	}
}

func selectNode(doc *html.Node, selector string) (*html.Node, error) {
	if selector == "" {
		if body := htmlquery.FindOne(doc, "//body"); body != nil {
			return body, nil
		}
		return doc, nil
	}
	node, err := htmlquery.Query(doc, selector)
	if err != nil {
		return nil, fmt.Errorf("invalid selector %q: %w", selector, err)
	}
	if node == nil {
		return nil, fmt.Errorf("%w: %s", ErrSelectorNotFound, selector)
	}
	return node, nil
}

func readableText(document, pageURL string) string {
	u, err := url.Parse(pageURL)
	if err != nil {
		return ""
	}
	article, err := readability.FromReader(strings.NewReader(document), u)
	if err != nil {
		return ""
	}
	return compactLines(article.TextContent)
}

var skipped = map[string]bool{
	"script": true, "style": true, "noscript": true, "template": true,
	"head": true, "svg": true, "iframe": true,
}

var blocks = map[string]bool{
	"address": true, "article": true, "aside": true, "blockquote": true,
	"dd": true, "div": true, "dl": true, "dt": true, "fieldset": true,
	"figcaption": true, "figure": true, "footer": true, "form": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"header": true, "hr": true, "li": true, "main": true, "nav": true,
	"ol": true, "p": true, "pre": true, "section": true, "table": true,
	"tr": true, "ul": true, "body": true,
}

// InnerText approximates the browser's innerText: script and style content
// is dropped, block elements start new lines, runs of spaces collapse.
func InnerText(n *html.Node) string {
	if n == nil {
		return ""
	}
	var b strings.Builder
	collectText(n, &b)
	return compactLines(b.String())
}

func collectText(n *html.Node, b *strings.Builder) {
	switch n.Type {
	case html.TextNode:
		b.WriteString(n.Data)
		return
	case html.CommentNode:
		return
	case html.ElementNode:
		if skipped[n.Data] {
			return
		}
		if n.Data == "br" {
			b.WriteByte('\n')
			return
		}
	}

	block := n.Type == html.ElementNode && blocks[n.Data]
	if block {
		b.WriteByte('\n')
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, b)
		if c.Type == html.ElementNode && (c.Data == "td" || c.Data == "th") && c.NextSibling != nil {
			b.WriteByte('\t')
		}
	}
	if block {
		b.WriteByte('\n')
	}
}

// compactLines collapses whitespace inside each line and drops empty lines.
func compactLines(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, l := range lines {
		if l = strings.Join(strings.Fields(l), " "); l != "" {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n")
}

// Package text turns feed summaries, which may carry markup, into plain display text.
package text

import (
	"strings"

	"github.com/go-shiori/go-readability"
	"github.com/mattn/go-runewidth"
	"golang.org/x/net/html"
)

// PlainText strips markup and collapses whitespace.
func PlainText(src string) string {
	article, err := readability.FromReader(strings.NewReader(src), nil)
	if err == nil {
		if text := collapse(article.TextContent); text != "" {
			return text
		}
	}

	// readability gives up on fragments it cannot score; keep the text nodes instead.
	return collapse(textNodes(src))
}

// Excerpt is PlainText truncated to the given display width.
func Excerpt(src string, width int) string {
	return runewidth.Truncate(PlainText(src), width, "…")
}

func textNodes(src string) string {
	z := html.NewTokenizer(strings.NewReader(src))

	var b strings.Builder

	for {
		switch z.Next() {
		case html.ErrorToken:
			return b.String()
		case html.TextToken:
			b.Write(z.Text())
			b.WriteByte(' ')
		}
	}
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// ABOUTME: Markdown-to-HTML rendering for email notification bodies
// ABOUTME: Plain text stays canonical; HTML is the optional alternative part

package notify

import (
	"bytes"

	"github.com/yuin/goldmark"
)

var markdown = goldmark.New()

// renderHTML converts a markdown notification body into the HTML email
// alternative. Rendering failures fall back to plain text only.
func renderHTML(body string) string {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(body), &buf); err != nil {
		return ""
	}
	return buf.String()
}

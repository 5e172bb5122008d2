package automation

import (
	"regexp"
	"strings"

	"github.com/replyloop/backend/internal/models"
)

var templateVarRe = regexp.MustCompile(`\{[a-zA-Z0-9_]+\}`)

// Render substitutes every case-insensitive {name} occurrence in the template
// with vars[name]. Names not present in vars render as the empty string so
// literal braces never leak into an outgoing message.
func Render(template string, vars map[string]string) string {
	if template == "" {
		return ""
	}
	lowered := make(map[string]string, len(vars))
	for k, v := range vars {
		lowered[strings.ToLower(k)] = v
	}
	return templateVarRe.ReplaceAllStringFunc(template, func(m string) string {
		name := strings.ToLower(m[1 : len(m)-1])
		return lowered[name]
	})
}

// RenderLinks formats link call-outs as a delimited text block appended to a
// message body when the buttons rendering path is not used.
func RenderLinks(links []models.Link) string {
	var b strings.Builder
	for _, l := range links {
		u := strings.TrimSpace(l.URL)
		if u == "" {
			continue
		}
		if b.Len() == 0 {
			b.WriteString("\n----------\n")
		}
		label := strings.TrimSpace(l.Label)
		if label != "" {
			b.WriteString(label)
			b.WriteString(": ")
		}
		b.WriteString(u)
		b.WriteString("\n")
	}
	if b.Len() == 0 {
		return ""
	}
	b.WriteString("----------")
	return b.String()
}

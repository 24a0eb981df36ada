package voice

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	markupURL        = regexp.MustCompile(`https?://\S+`)
	markupFencedCode = regexp.MustCompile("(?s)```.*?```")
	markupInlineCode = regexp.MustCompile("`[^`]*`")
	markupLink       = regexp.MustCompile(`\[(.*?)\]\((.*?)\)`)

	markupSymbols = strings.NewReplacer(
		"*", " ", "_", " ", "\\", " ", "/", " ", "|", " ",
		"#", " ", "~", " ", "<", " ", ">", " ",
	)
)

// SpeakableText strips markdown, links, code and symbol glyphs so engines do
// not read them out, and collapses whitespace.
func SpeakableText(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	raw = markupFencedCode.ReplaceAllString(raw, " ")
	raw = markupInlineCode.ReplaceAllString(raw, " ")
	raw = markupLink.ReplaceAllString(raw, "$1")
	raw = markupURL.ReplaceAllString(raw, " ")
	raw = markupSymbols.Replace(raw)

	var b strings.Builder
	b.Grow(len(raw))
	space := true
	emitSpace := func() {
		if !space {
			b.WriteByte(' ')
			space = true
		}
	}
	for _, r := range raw {
		switch {
		case r == '\u200d' || r == '\ufe0f' || r == '\u20e3':
			// joiners and keycap marks
		case unicode.IsSpace(r):
			emitSpace()
		case unicode.IsControl(r), unicode.In(r, unicode.So, unicode.Sm, unicode.Sk):
			// emoji and math/currency glyphs
		case strings.ContainsRune(".,!?:;'\"-()", r):
			b.WriteRune(r)
			space = false
		case unicode.IsPunct(r):
			emitSpace()
		default:
			b.WriteRune(r)
			space = false
		}
	}
	return strings.TrimSpace(b.String())
}

package telegram

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// MaxMessageLength is the Bot API limit for one text message.
const MaxMessageLength = 4096

// allowedTags are the HTML tags Telegram accepts with parse_mode=HTML.
var allowedTags = map[string]bool{
	"b": true, "strong": true,
	"i": true, "em": true,
	"u": true, "ins": true,
	"s": true, "strike": true, "del": true,
	"a": true, "code": true, "pre": true,
}

var (
	tagPattern     = regexp.MustCompile(`</?[a-zA-Z0-9]+[^>]*>`)
	tagNamePattern = regexp.MustCompile(`^</?([a-zA-Z0-9]+)`)
)

var angleEscaper = strings.NewReplacer("<", "&lt;", ">", "&gt;")

// EscapeHTML escapes '<' and '>' so the text is valid for parse_mode=HTML,
// leaving tags Telegram supports untouched.
func EscapeHTML(text string) string {
	if text == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(text))

	last := 0
	for _, loc := range tagPattern.FindAllStringIndex(text, -1) {
		b.WriteString(angleEscaper.Replace(text[last:loc[0]]))

		tag := text[loc[0]:loc[1]]
		if m := tagNamePattern.FindStringSubmatch(tag); m != nil && allowedTags[strings.ToLower(m[1])] {
			b.WriteString(tag)
		} else {
			b.WriteString(angleEscaper.Replace(tag))
		}
		last = loc[1]
	}
	b.WriteString(angleEscaper.Replace(text[last:]))
	return b.String()
}

// ChunkMessage splits text into parts of at most maxLen characters. It
// prefers to cut at the last newline, then at the last space, and cuts
// hard only when a single word exceeds the limit. Parts are trimmed and
// empty parts dropped.
func ChunkMessage(text string, maxLen int) []string {
	if maxLen <= 0 {
		maxLen = MaxMessageLength
	}
	if text == "" {
		return nil
	}
	if utf8.RuneCountInString(text) <= maxLen {
		return []string{text}
	}

	var chunks []string
	rest := []rune(text)
	for len(rest) > maxLen {
		window := rest[:maxLen]
		split := lastIndexRune(window, '\n')
		if split <= 0 {
			split = lastIndexRune(window, ' ')
		}
		if split <= 0 {
			split = maxLen
		}

		if chunk := strings.TrimSpace(string(rest[:split])); chunk != "" {
			chunks = append(chunks, chunk)
		}
		rest = []rune(strings.TrimSpace(string(rest[split:])))
	}
	if len(rest) > 0 {
		chunks = append(chunks, string(rest))
	}
	return chunks
}

func lastIndexRune(rs []rune, r rune) int {
	for i := len(rs) - 1; i >= 0; i-- {
		if rs[i] == r {
			return i
		}
	}
	return -1
}

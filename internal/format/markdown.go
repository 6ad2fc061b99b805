package format

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf16"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// ParseResult contains plain text and message entities
type ParseResult struct {
	Text     string
	Entities []tgbotapi.MessageEntity
}

type marker struct {
	token string
	kind  string
}

// Longer tokens first so ** is not read as two italics.
var markers = []marker{
	{"**", "bold"},
	{"__", "bold"},
	{"`", "code"},
	{"*", "italic"},
	{"_", "italic"},
}

var headerRe = regexp.MustCompile(`(?m)^#{1,6}[ \t]+(.+?)[ \t]*$`)

// UTF16Len calculates the UTF-16 length of a string.
// Telegram uses UTF-16 code units for entity offsets and lengths.
func UTF16Len(s string) int {
	n := 0
	for _, r := range s {
		n += runeLen(r)
	}
	return n
}

func runeLen(r rune) int {
	if n := utf16.RuneLen(r); n > 0 {
		return n
	}
	return 1
}

// ParseMarkdown strips a small markdown subset and returns the matching
// Telegram entities:
//   - **bold** or __bold__
//   - *italic* or _italic_
//   - `code`
//   - # Header, rendered bold
//
// Spans do not nest and never cross a line. An underscore inside a word,
// as in snake_case, is left alone.
func ParseMarkdown(text string) ParseResult {
	text = headerRe.ReplaceAllString(text, "**$1**")

	var (
		out      strings.Builder
		entities []tgbotapi.MessageEntity
		offset   int
	)
	for i := 0; i < len(text); {
		if m, inner, ok := matchSpan(text, i); ok {
			n := UTF16Len(inner)
			entities = append(entities, tgbotapi.MessageEntity{Type: m.kind, Offset: offset, Length: n})
			out.WriteString(inner)
			offset += n
			i += 2*len(m.token) + len(inner)
			continue
		}
		r, size := utf8.DecodeRuneInString(text[i:])
		out.WriteString(text[i : i+size])
		offset += runeLen(r)
		i += size
	}

	return ParseResult{
		Text:     strings.TrimRight(out.String(), " \n"),
		Entities: entities,
	}
}

// matchSpan reports the formatted span opening at text[i], if any.
func matchSpan(text string, i int) (marker, string, bool) {
	for _, m := range markers {
		if !strings.HasPrefix(text[i:], m.token) {
			continue
		}
		if m.token[0] == '_' && i > 0 && isWordByte(text[i-1]) {
			return marker{}, "", false
		}
		rest := text[i+len(m.token):]
		j := strings.Index(rest, m.token)
		if j <= 0 {
			continue
		}
		inner := rest[:j]
		if strings.ContainsRune(inner, '\n') || strings.TrimSpace(inner) != inner {
			continue
		}
		end := i + len(m.token) + j + len(m.token)
		if m.token[0] == '_' && end < len(text) && isWordByte(text[end]) {
			continue
		}
		return m, inner, true
	}
	return marker{}, "", false
}

func isWordByte(b byte) bool {
	return b >= utf8.RuneSelf || unicode.IsLetter(rune(b)) || unicode.IsDigit(rune(b))
}

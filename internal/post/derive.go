// internal/post/derive.go
//
// Fields derived from a post's title and body.
//   - Slugify       URL slug; keeps Hebrew letters and ASCII digits.
//   - StripMarkdown plain text for previews and descriptions.
//   - Describe      custom description or a truncated body excerpt.

package post

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Slugify lower-cases ASCII letters, keeps ASCII digits and the Hebrew block
// as they are, turns runs of spaces and punctuation into one hyphen and drops
// everything else. Leading and trailing hyphens are trimmed.
// Slugify(Slugify(s)) == Slugify(s).
func Slugify(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	pendingHyphen := false
	for _, r := range s {
		switch {
		case r >= 'A' && r <= 'Z':
			r += 'a' - 'A'
			fallthrough
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', isHebrew(r):
			if pendingHyphen && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingHyphen = false
			b.WriteRune(r)
		case unicode.IsSpace(r), unicode.IsPunct(r), unicode.IsSymbol(r) && r < utf8.RuneSelf:
			pendingHyphen = true
		}
	}
	return b.String()
}

func isHebrew(r rune) bool { return r >= 0x0590 && r <= 0x05FF }

var (
	reFence      = regexp.MustCompile("(?m)^\\s*```.*$")
	reInlineCode = regexp.MustCompile("`([^`]*)`")
	reImage      = regexp.MustCompile(`!\[([^\]]*)\]\([^)]*\)`)
	reLink       = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
	reHeading    = regexp.MustCompile(`(?m)^\s{0,3}#{1,6}\s*`)
	reQuote      = regexp.MustCompile(`(?m)^\s*>\s?`)
	reListMarker = regexp.MustCompile(`(?m)^\s*(?:[-*+]|\d+\.)\s+`)
	reRule       = regexp.MustCompile(`(?m)^\s*(?:[-*_]\s*){3,}$`)
	reHTML       = regexp.MustCompile(`<[^>]+>`)
	reBold       = regexp.MustCompile(`(\*\*|__)(.+?)(\*\*|__)`)
	reStar       = regexp.MustCompile(`\*([^*\n]+)\*`)
	reUnderscore = regexp.MustCompile(`(^|[^\w])_([^_\n]+)_([^\w]|$)`)
	reStrike     = regexp.MustCompile(`~~(.+?)~~`)
	reSpace      = regexp.MustCompile(`\s+`)
)

// StripMarkdown removes heading, emphasis, code, link and list syntax from
// markdown and collapses whitespace to single spaces.
func StripMarkdown(md string) string {
	s := reFence.ReplaceAllString(md, "")
	s = reInlineCode.ReplaceAllString(s, "$1")
	s = reImage.ReplaceAllString(s, "$1")
	s = reLink.ReplaceAllString(s, "$1")
	s = reRule.ReplaceAllString(s, "")
	s = reHeading.ReplaceAllString(s, "")
	s = reQuote.ReplaceAllString(s, "")
	s = reListMarker.ReplaceAllString(s, "")
	s = reHTML.ReplaceAllString(s, "")
	s = reBold.ReplaceAllString(s, "$2")
	s = reStar.ReplaceAllString(s, "$1")
	s = reUnderscore.ReplaceAllString(s, "$1$2$3")
	s = reStrike.ReplaceAllString(s, "$1")
	return strings.TrimSpace(reSpace.ReplaceAllString(s, " "))
}

// Describe returns custom (trimmed) when it is not blank, otherwise a plain
// text excerpt of content. The result is at most 160 characters; "..." is
// appended only when the text was cut.
func Describe(custom, content string) string {
	if c := strings.TrimSpace(custom); c != "" {
		return truncate(c, MaxDescriptionLen)
	}
	return truncate(StripMarkdown(content), MaxDescriptionLen)
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return strings.TrimRightFunc(string(runes[:max-3]), unicode.IsSpace) + "..."
}

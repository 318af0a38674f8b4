package ssml

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Tags the synthesis service accepts. Anything else is stripped before
// chunking, keeping its inner text.
var supportedTags = map[string]struct{}{
	"speak": {}, "break": {}, "say-as": {}, "sub": {}, "emphasis": {},
	"prosody": {}, "p": {}, "s": {}, "phoneme": {}, "mark": {},
	"par": {}, "seq": {}, "media": {}, "audio": {},
}

var (
	openTagRe    = regexp.MustCompile(`<([a-zA-Z][a-zA-Z0-9_-]*)(?:\s[^>]*)?/?>`)
	closeTagRe   = regexp.MustCompile(`</([a-zA-Z][a-zA-Z0-9_-]*)\s*>`)
	entityRe     = regexp.MustCompile(`&(?:amp|lt|gt|apos|quot|#[0-9]+|#x[0-9a-fA-F]+);`)
	controlRe    = regexp.MustCompile("[\x00-\x08\x0b\x0c\x0e-\x1f]")
	anyTagRe     = regexp.MustCompile(`<[^>]+>`)
	whitespaceRe = regexp.MustCompile(`\s+`)
	commentRe    = regexp.MustCompile(`(?s)^\s*<!--.*?-->`)
	speakOpenRe  = regexp.MustCompile(`(?i)^\s*<speak[^>]*>\s*`)
	speakCloseRe = regexp.MustCompile(`(?i)\s*</speak>\s*$`)
)

// IsSSML reports whether text is a markup document, detected by a <speak>
// root after skipping a leading XML comment.
func IsSSML(text string) bool {
	stripped := strings.TrimSpace(text)
	stripped = strings.TrimSpace(commentRe.ReplaceAllString(stripped, ""))
	return strings.HasPrefix(stripped, "<speak")
}

// Sanitize prepares a whole markup document for chunking: unsupported tags
// are stripped keeping their text, bare ampersands become entities, and
// XML-illegal control characters are removed. Sanitizing already-sanitized
// content is a no-op.
func Sanitize(markup string) string {
	result := openTagRe.ReplaceAllStringFunc(markup, stripUnsupported)
	result = closeTagRe.ReplaceAllStringFunc(result, stripUnsupported)
	result = escapeBareAmp(result)
	result = controlRe.ReplaceAllString(result, "")
	return result
}

func stripUnsupported(tag string) string {
	var name string
	if m := openTagRe.FindStringSubmatch(tag); m != nil {
		name = m[1]
	} else if m := closeTagRe.FindStringSubmatch(tag); m != nil {
		name = m[1]
	}
	if _, ok := supportedTags[strings.ToLower(name)]; ok {
		return tag
	}
	return ""
}

// escapeBareAmp rewrites & characters that do not begin a named or numeric
// entity. Implemented with an explicit scan because RE2 has no lookahead.
func escapeBareAmp(s string) string {
	if !strings.ContainsRune(s, '&') {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 16)
	for i := 0; i < len(s); {
		c := s[i]
		if c != '&' {
			b.WriteByte(c)
			i++
			continue
		}
		if loc := entityRe.FindStringIndex(s[i:]); loc != nil && loc[0] == 0 {
			b.WriteString(s[i : i+loc[1]])
			i += loc[1]
			continue
		}
		b.WriteString("&amp;")
		i++
	}
	return b.String()
}

// StripTags removes all markup, collapsing runs of whitespace.
func StripTags(markup string) string {
	text := anyTagRe.ReplaceAllString(markup, " ")
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(text, " "))
}

// BillableChars counts the characters the synthesis provider bills for:
// text content only, markup excluded.
func BillableChars(markup string) int {
	return utf8.RuneCountInString(StripTags(markup))
}

// stripOuter removes a leading XML comment and the outer <speak> wrapper,
// returning the inner document content.
func stripOuter(markup string) string {
	s := strings.TrimSpace(markup)
	s = strings.TrimSpace(commentRe.ReplaceAllString(s, ""))
	s = speakOpenRe.ReplaceAllString(s, "")
	s = speakCloseRe.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

package chunk

import (
	"unicode/utf8"
)

// Plan splits content into ordered, adjacent windows of at most maxChars
// characters each, cutting at the best structural boundary FindBreak can
// locate between minChars and maxChars. Windows never overlap and their
// spans cover the content exactly; continuity across windows is a prompt
// concern, not a text-duplication concern.
//
// Sizes are measured in characters, matching the transform service's
// prompt budget. A remainder shorter than minChars is absorbed into the
// preceding window when the merge stays within maxChars.
func Plan(content string, maxChars, minChars int) ([]Window, error) {
	if content == "" {
		return nil, nil
	}
	if utf8.RuneCountInString(content) <= maxChars {
		return []Window{{
			Index:        0,
			Start:        0,
			End:          len(content),
			Text:         content,
			SectionStart: IsSectionStart(content),
		}}, nil
	}

	var windows []Window
	start := 0
	for start < len(content) {
		limit := advanceRunes(content, start, maxChars)
		if limit >= len(content) {
			windows = appendWindow(windows, content, start, len(content))
			break
		}

		searchFrom := advanceRunes(content, start, minChars)
		cut := FindBreak(content, searchFrom, limit, DefaultPatterns)
		if cut < 0 {
			cut = forceWordCut(content, searchFrom, limit)
		}
		if cut <= start {
			return nil, &BoundaryError{Offset: start}
		}

		// Avoid a sub-minimum tail: absorb it into this window when the
		// merge fits the budget, otherwise pull the cut back far enough
		// that the tail reaches minChars on its own.
		remaining := utf8.RuneCountInString(content[cut:])
		if remaining > 0 && remaining < minChars {
			if utf8.RuneCountInString(content[start:]) <= maxChars {
				windows = appendWindow(windows, content, start, len(content))
				break
			}
			tailLimit := retreatRunes(content, minChars)
			if tailLimit > searchFrom {
				earlier := FindBreak(content, searchFrom, tailLimit, DefaultPatterns)
				if earlier < 0 {
					earlier = forceWordCut(content, searchFrom, tailLimit)
				}
				if earlier > start {
					cut = earlier
				}
			}
		}

		windows = appendWindow(windows, content, start, cut)
		start = cut
	}
	return windows, nil
}

func appendWindow(windows []Window, content string, start, end int) []Window {
	return append(windows, Window{
		Index:        len(windows),
		Start:        start,
		End:          end,
		Text:         content[start:end],
		SectionStart: IsSectionStart(content[start:end]),
	})
}

// advanceRunes returns the byte offset n characters past from, clamped to
// the end of the string.
func advanceRunes(s string, from, n int) int {
	i := from
	for n > 0 && i < len(s) {
		_, size := utf8.DecodeRuneInString(s[i:])
		i += size
		n--
	}
	return i
}

// retreatRunes returns the byte offset n characters before the end of s.
func retreatRunes(s string, n int) int {
	i := len(s)
	for n > 0 && i > 0 {
		_, size := utf8.DecodeLastRuneInString(s[:i])
		i -= size
		n--
	}
	return i
}

// forceWordCut is the last-resort split: the rightmost whitespace run in
// [from, limit), or the limit itself when a single word spans the whole
// region.
func forceWordCut(content string, from, limit int) int {
	for i := limit - 1; i > from; i-- {
		if content[i] == ' ' || content[i] == '\n' || content[i] == '\t' {
			return i + 1
		}
	}
	return limit
}

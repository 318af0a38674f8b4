package chunk

import "regexp"

// Pattern is one structural boundary class. Patterns are tried in descending
// priority order; among the matches of the winning pattern the rightmost one
// is chosen, maximizing window size while respecting the boundary. If the
// expression contains a capture group, the cut is placed at the group start
// so separators stay with the window they terminate; otherwise the cut is
// the match start.
type Pattern struct {
	Name string
	Re   *regexp.Regexp
}

// DefaultPatterns orders boundary classes from strongest structure to
// weakest: markdown headings, numbered sections, all-caps section titles,
// numbered or lettered subsections, paragraph breaks, then sentence ends.
var DefaultPatterns = []Pattern{
	{Name: "heading", Re: regexp.MustCompile(`\n\n(#{1,6}\s)`)},
	{Name: "numbered-section", Re: regexp.MustCompile(`\n\n(\d+\.?\s+[A-Z])`)},
	{Name: "caps-title", Re: regexp.MustCompile(`\n\n([A-Z][A-Z\s]{3,}:?\n)`)},
	{Name: "subsection", Re: regexp.MustCompile(`\n\n(\d+\.\d+\.?\s|[a-z]\)\s)`)},
	{Name: "paragraph", Re: regexp.MustCompile(`\n\n(\S)`)},
	{Name: "sentence", Re: regexp.MustCompile(`\.[\s\n]+([A-Z][a-z])`)},
}

// FindBreak scans content[from:to) for the best legal split point. The first
// pattern with at least one match wins and the rightmost match of that
// pattern decides the cut, returned as an absolute byte offset. Returns -1
// when no pattern matches inside the region.
func FindBreak(content string, from, to int, patterns []Pattern) int {
	if from < 0 {
		from = 0
	}
	if to > len(content) {
		to = len(content)
	}
	if from >= to {
		return -1
	}
	region := content[from:to]
	for _, p := range patterns {
		matches := p.Re.FindAllStringSubmatchIndex(region, -1)
		if len(matches) == 0 {
			continue
		}
		last := matches[len(matches)-1]
		cut := last[0]
		if len(last) >= 4 && last[2] >= 0 {
			cut = last[2]
		}
		return from + cut
	}
	return -1
}

package chunk

import (
	"fmt"
	"regexp"
	"strings"
)

// Window is one bounded unit of the source document scheduled for a single
// external-service call. Start and End are byte offsets into the source;
// laying all windows end to end by span reconstructs the document exactly.
type Window struct {
	Index        int
	Start        int
	End          int
	Text         string
	SectionStart bool
}

// BoundaryError reports that no legal split point could be found while
// planning. It aborts planning; per-window service failures do not.
type BoundaryError struct {
	Offset int
	Reason string
}

func (e *BoundaryError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("planning failed at offset %d: %s", e.Offset, e.Reason)
	}
	return fmt.Sprintf("no valid boundary found at or after offset %d", e.Offset)
}

var sectionStartRe = regexp.MustCompile(`(?i)^(#{1,6}\s|Abstract\b|New section:|Introduction\b|Background\b|Methods\b|Results\b|Discussion\b|Conclusion)`)

// IsSectionStart reports whether text opens with a section heading, used to
// flag windows that should become chapter boundaries downstream.
func IsSectionStart(text string) bool {
	firstLine := strings.TrimSpace(text)
	if i := strings.IndexByte(firstLine, '\n'); i >= 0 {
		firstLine = firstLine[:i]
	}
	return sectionStartRe.MatchString(strings.TrimSpace(firstLine))
}

// SectionTitle extracts a chapter title from a section-start window: the
// first line, without markdown heading markers or a trailing period.
func SectionTitle(text string) string {
	firstLine := strings.TrimSpace(text)
	if i := strings.IndexByte(firstLine, '\n'); i >= 0 {
		firstLine = firstLine[:i]
	}
	firstLine = strings.TrimLeft(firstLine, "# ")
	return strings.TrimSuffix(strings.TrimSpace(firstLine), ".")
}

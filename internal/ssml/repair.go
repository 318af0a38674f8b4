package ssml

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
)

var (
	strayLtRe      = regexp.MustCompile(`<($|[^a-zA-Z/!])`)
	emptyInlineRe  = regexp.MustCompile(`<(emphasis|prosody|say-as)[^>]*/>`)
	prosodyBlockRe = regexp.MustCompile(`(?s)<prosody[^>]*>(.*?)</prosody>`)
)

// WellFormed reports whether markup parses as strict XML.
func WellFormed(markup string) bool {
	dec := xml.NewDecoder(strings.NewReader(markup))
	for {
		_, err := dec.Token()
		if err != nil {
			return errors.Is(err, io.EOF)
		}
	}
}

// ValidateAndRepair checks one synthesis window right before the call, since
// sub-splitting can produce subtly invalid fragments. It attempts bounded
// repairs; when they fail it strips all markup and re-wraps the bare text in
// a minimal valid root. The second return is true for that fallback, which
// discards prosody control and must be surfaced by the caller, never
// swallowed. The function itself never fails.
func ValidateAndRepair(window string) (string, bool) {
	if WellFormed(window) {
		return window, false
	}

	repaired := escapeBareAmp(window)
	repaired = strayLtRe.ReplaceAllString(repaired, "&lt;$1")
	repaired = emptyInlineRe.ReplaceAllString(repaired, "")
	if WellFormed(repaired) {
		return repaired, false
	}

	return fmt.Sprintf("<speak><p><s>%s</s></p></speak>", StripTags(window)), true
}

// SectionTitle pulls a chapter title out of a section-start window: the
// text of its first prosody block.
func SectionTitle(window string) string {
	if m := prosodyBlockRe.FindStringSubmatch(window); m != nil {
		if title := StripTags(m[1]); title != "" {
			return title
		}
	}
	return ""
}

// IsSectionStart reports whether a markup region carries a section header,
// marked upstream as a prosody block.
func IsSectionStart(region string) bool {
	return strings.Contains(region, "<prosody")
}

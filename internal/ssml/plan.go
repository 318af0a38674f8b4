package ssml

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/lectorlabs/lector-core/internal/chunk"
)

const (
	wrapOpen  = "<speak>\n"
	wrapClose = "\n</speak>"
	// wrapOverhead is the byte cost of re-wrapping a window's inner
	// markup in its own speak root.
	wrapOverhead = len(wrapOpen) + len(wrapClose)
)

var (
	paraCloseRe = regexp.MustCompile(`</p>`)
	sentUnitRe  = regexp.MustCompile(`(?s)<s>.*?</s>`)
	sentTextRe  = regexp.MustCompile(`[^.!?]*[.!?]+\s*`)
)

// Plan splits a markup document into synthesis windows, each a valid
// standalone document within maxBytes of UTF-8. Paragraph elements are the
// primary split unit; a paragraph that alone exceeds the budget is broken at
// sentence elements, and a single oversized sentence is stripped to text and
// word-split. Spans index into the sanitized inner markup so callers can map
// windows back to document regions.
func Plan(markup string, maxBytes, minBytes int) ([]chunk.Window, error) {
	if maxBytes <= wrapOverhead {
		return nil, &chunk.BoundaryError{Offset: 0, Reason: "window budget smaller than markup overhead"}
	}
	inner := stripOuter(Sanitize(markup))
	inner = strings.TrimSpace(inner)
	if inner == "" {
		return nil, nil
	}
	limit := maxBytes - wrapOverhead

	if len(inner) <= limit {
		return []chunk.Window{wrapWindow(0, inner, 0, len(inner))}, nil
	}

	blocks := splitBlocks(inner)

	var (
		windows []chunk.Window
		buf     strings.Builder
		bufFrom = -1
		bufTo   = 0
	)
	flush := func() {
		if buf.Len() == 0 {
			return
		}
		windows = append(windows, wrapWindow(len(windows), buf.String(), bufFrom, bufTo))
		buf.Reset()
		bufFrom = -1
	}

	for _, b := range blocks {
		text := strings.TrimSpace(inner[b.from:b.to])
		if text == "" {
			continue
		}
		if len(text) > limit {
			flush()
			subs, err := splitOversized(text, b.from, limit)
			if err != nil {
				return nil, err
			}
			for _, s := range subs {
				windows = append(windows, wrapWindow(len(windows), s.text, s.from, s.to))
			}
			continue
		}
		if buf.Len() > 0 && buf.Len()+1+len(text) > limit {
			flush()
		}
		if buf.Len() == 0 {
			bufFrom = b.from
		} else {
			buf.WriteByte('\n')
		}
		buf.WriteString(text)
		bufTo = b.to
	}
	flush()

	// A trailing sliver below minBytes joins its predecessor when the
	// merged window still fits.
	if n := len(windows); n >= 2 && minBytes > 0 {
		last, prev := windows[n-1], windows[n-2]
		if len(last.Text) < minBytes+wrapOverhead {
			merged := innerOf(prev.Text) + "\n" + innerOf(last.Text)
			if len(merged) <= limit {
				windows[n-2] = wrapWindow(prev.Index, merged, prev.Start, last.End)
				windows = windows[:n-1]
			}
		}
	}
	return windows, nil
}

type span struct {
	from, to int
}

type subPiece struct {
	text     string
	from, to int
}

// splitBlocks tiles the inner markup into contiguous paragraph-terminated
// spans. Material after the last paragraph close, or a document with no
// paragraph elements at all, falls back to sentence-element spans.
func splitBlocks(inner string) []span {
	var blocks []span
	prev := 0
	for _, m := range paraCloseRe.FindAllStringIndex(inner, -1) {
		blocks = append(blocks, span{prev, m[1]})
		prev = m[1]
	}
	if prev < len(inner) {
		tail := inner[prev:]
		if strings.TrimSpace(tail) != "" {
			if len(blocks) == 0 {
				return sentenceSpans(inner, 0)
			}
			blocks = append(blocks, span{prev, len(inner)})
		}
	}
	return blocks
}

func sentenceSpans(region string, base int) []span {
	matches := sentUnitRe.FindAllStringIndex(region, -1)
	if matches == nil {
		// Plain prose without sentence elements splits on terminal
		// punctuation instead.
		matches = sentTextRe.FindAllStringIndex(region, -1)
	}
	if matches == nil {
		return []span{{base, base + len(region)}}
	}
	var spans []span
	prev := 0
	for _, m := range matches {
		spans = append(spans, span{base + prev, base + m[1]})
		prev = m[1]
	}
	if prev < len(region) && strings.TrimSpace(region[prev:]) != "" {
		spans = append(spans, span{base + prev, base + len(region)})
	}
	return spans
}

// splitOversized breaks one paragraph block that exceeds the budget into
// sentence-unit pieces, each re-wrapped as its own paragraph. Markup before
// the first sentence element, typically a section header, rides with the
// first piece only.
func splitOversized(block string, base, limit int) ([]subPiece, error) {
	inner := block
	prefix := ""
	if open := strings.Index(inner, "<p>"); open >= 0 {
		prefix = strings.TrimSpace(inner[:open])
		inner = inner[open+len("<p>"):]
		base += open + len("<p>")
	}
	if lead := len(inner) - len(strings.TrimLeft(inner, " \t\n\r")); lead > 0 {
		inner = inner[lead:]
		base += lead
	}
	inner = strings.TrimSuffix(strings.TrimRight(inner, " \t\n\r"), "</p>")

	units := sentenceSpans(inner, 0)
	var (
		pieces []subPiece
		buf    strings.Builder
		from   = -1
		to     = 0
		first  = true
	)
	// attach prepends the pending prefix exactly once, to whichever piece
	// is emitted first, so a section header cannot land mid-paragraph or
	// vanish when the opening sentence word-splits.
	attach := func(body string) string {
		if first && prefix != "" {
			body = prefix + "\n" + body
		}
		first = false
		return body
	}
	flush := func() {
		if buf.Len() == 0 {
			return
		}
		body := attach("<p>" + strings.TrimSpace(buf.String()) + "</p>")
		pieces = append(pieces, subPiece{body, base + from, base + to})
		buf.Reset()
		from = -1
	}
	overhead := len("<p></p>")
	if prefix != "" {
		overhead += len(prefix) + 1
	}

	for _, u := range units {
		text := strings.TrimSpace(inner[u.from:u.to])
		if text == "" {
			continue
		}
		if len(text)+overhead > limit {
			flush()
			wordLimit := limit - len("<p><s></s></p>")
			if first && prefix != "" {
				wordLimit -= len(prefix) + 1
			}
			words, err := splitSentence(text, wordLimit)
			if err != nil {
				return nil, &chunk.BoundaryError{Offset: base + u.from, Reason: err.Error()}
			}
			for i, w := range words {
				p := subPiece{attach("<p><s>" + w + "</s></p>"), base + u.from, base + u.from}
				if i == 0 {
					p.to = base + u.to
				}
				pieces = append(pieces, p)
			}
			overhead = len("<p></p>")
			continue
		}
		if buf.Len() > 0 && buf.Len()+1+len(text)+overhead > limit {
			flush()
			overhead = len("<p></p>")
		}
		if buf.Len() == 0 {
			from = u.from
		} else {
			buf.WriteByte(' ')
		}
		buf.WriteString(text)
		to = u.to
	}
	flush()
	return pieces, nil
}

// splitSentence strips markup from a sentence that cannot fit even alone and
// cuts its text at word boundaries.
func splitSentence(sentence string, limit int) ([]string, error) {
	text := strings.TrimSpace(StripTags(sentence))
	if limit <= 0 {
		return nil, fmt.Errorf("no room for sentence text within window budget")
	}
	var parts []string
	for len(text) > limit {
		cut := strings.LastIndexAny(text[:limit], " \n\t")
		if cut <= 0 {
			cut = limit
		}
		parts = append(parts, strings.TrimSpace(text[:cut]))
		text = strings.TrimSpace(text[cut:])
	}
	if text != "" {
		parts = append(parts, text)
	}
	return parts, nil
}

func wrapWindow(index int, body string, from, to int) chunk.Window {
	return chunk.Window{
		Index:        index,
		Start:        from,
		End:          to,
		Text:         wrapOpen + strings.TrimSpace(body) + wrapClose,
		SectionStart: IsSectionStart(body),
	}
}

func innerOf(window string) string {
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(window, wrapOpen), wrapClose))
}

// MergeSpeak joins per-window markup results back into one document, with a
// pause between windows. Per-part speak wrappers are dropped so the merged
// document has a single root.
func MergeSpeak(parts []string) string {
	var b strings.Builder
	b.WriteString("<speak>\n")
	wrote := false
	for _, p := range parts {
		inner := strings.TrimSpace(stripOuter(p))
		if inner == "" {
			continue
		}
		if wrote {
			b.WriteString("\n<break time=\"500ms\"/>\n")
		}
		b.WriteString(inner)
		wrote = true
	}
	b.WriteString("\n</speak>")
	return b.String()
}

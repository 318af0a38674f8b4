// Package audio turns per-window synthesis clips back into one continuous
// track, in window order, with chapter markers where sections begin.
package audio

import (
	"fmt"
	"sort"
	"time"

	"github.com/lectorlabs/lector-core/internal/synth"
)

// Piece is one synthesized window queued for assembly.
type Piece struct {
	Index        int
	Clip         synth.Clip
	SectionStart bool
	Title        string
}

// Chapter marks where a section begins in the assembled track.
type Chapter struct {
	Title string
	Start time.Duration
}

// Assembly is the concatenated track.
type Assembly struct {
	Samples    []int
	SampleRate int
	Channels   int
	Chapters   []Chapter
}

func (a *Assembly) Duration() time.Duration {
	if a.SampleRate <= 0 || a.Channels <= 0 {
		return 0
	}
	frames := len(a.Samples) / a.Channels
	return time.Duration(float64(frames) / float64(a.SampleRate) * float64(time.Second))
}

// Assemble concatenates pieces in window order. Every piece must share one
// sample rate and channel count; a chapter opens at the running offset of
// each section-start piece, so chapter starts are strictly increasing.
func Assemble(pieces []Piece) (*Assembly, error) {
	if len(pieces) == 0 {
		return nil, fmt.Errorf("nothing to assemble")
	}
	ordered := make([]Piece, len(pieces))
	copy(ordered, pieces)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Index < ordered[j].Index })

	first := ordered[0].Clip
	if first.SampleRate <= 0 || first.Channels <= 0 {
		return nil, fmt.Errorf("piece %d has no audio format", ordered[0].Index)
	}

	total := 0
	for _, p := range ordered {
		total += len(p.Clip.Samples)
	}
	asm := &Assembly{
		Samples:    make([]int, 0, total),
		SampleRate: first.SampleRate,
		Channels:   first.Channels,
	}

	for _, p := range ordered {
		if p.Clip.SampleRate != asm.SampleRate || p.Clip.Channels != asm.Channels {
			return nil, fmt.Errorf("piece %d format %dHz/%dch does not match track %dHz/%dch",
				p.Index, p.Clip.SampleRate, p.Clip.Channels, asm.SampleRate, asm.Channels)
		}
		if p.SectionStart {
			title := p.Title
			if title == "" {
				title = fmt.Sprintf("Section %d", len(asm.Chapters)+1)
			}
			asm.Chapters = append(asm.Chapters, Chapter{Title: title, Start: asm.Duration()})
		}
		asm.Samples = append(asm.Samples, p.Clip.Samples...)
	}
	return asm, nil
}

// EnsureOpeningChapter inserts a chapter at zero when the track does not
// start with one, so players always show where playback begins.
func (a *Assembly) EnsureOpeningChapter(title string) {
	if len(a.Chapters) > 0 && a.Chapters[0].Start == 0 {
		return
	}
	if title == "" {
		title = "Opening"
	}
	a.Chapters = append([]Chapter{{Title: title, Start: 0}}, a.Chapters...)
}

package audio

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	gaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/lectorlabs/lector-core/internal/synth"
)

const bitDepth = 16

// Metadata is stamped into the output file's INFO list.
type Metadata struct {
	Title    string
	Artist   string
	Genre    string
	Software string
	Created  time.Time
}

// FinalizeWarning reports a non-fatal problem while writing the output
// file: the audio itself is intact, only metadata or chapter info was
// degraded.
type FinalizeWarning struct {
	Err error
}

func (w *FinalizeWarning) Error() string {
	return fmt.Sprintf("output finalized with degraded metadata: %v", w.Err)
}

func (w *FinalizeWarning) Unwrap() error { return w.Err }

// DecodeWAV reads a whole file into a clip.
func DecodeWAV(r io.ReadSeeker) (synth.Clip, error) {
	dec := wav.NewDecoder(r)
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return synth.Clip{}, fmt.Errorf("decode wav: %w", err)
	}
	if buf.Format == nil {
		return synth.Clip{}, fmt.Errorf("decode wav: missing format")
	}
	return synth.Clip{
		Samples:    buf.Data,
		SampleRate: buf.Format.SampleRate,
		Channels:   buf.Format.NumChannels,
	}, nil
}

// maxCommentBytes bounds the chapter table carried in the INFO comment;
// players truncate or reject absurdly long INFO entries.
const maxCommentBytes = 8 * 1024

// WriteWAV encodes the assembled track. Chapter markers are rendered as a
// readable table in the comment field. A non-nil *FinalizeWarning return
// means the file is complete but the chapter table was truncated.
func WriteWAV(ws io.WriteSeeker, asm *Assembly, meta Metadata) error {
	enc := wav.NewEncoder(ws, asm.SampleRate, bitDepth, asm.Channels, 1)
	enc.Metadata = buildInfo(asm, meta)

	var warn error
	if len(enc.Metadata.Comments) > maxCommentBytes {
		enc.Metadata.Comments = truncateComment(enc.Metadata.Comments)
		warn = &FinalizeWarning{Err: fmt.Errorf("chapter table exceeded %d bytes, truncated", maxCommentBytes)}
	}

	buf := &gaudio.IntBuffer{
		Format:         &gaudio.Format{NumChannels: asm.Channels, SampleRate: asm.SampleRate},
		Data:           asm.Samples,
		SourceBitDepth: bitDepth,
	}
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("write audio: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("finalize audio: %w", err)
	}
	return warn
}

// WriteFile writes atomically: encode to a sibling temp file, rename over
// the target.
func WriteFile(path string, asm *Assembly, meta Metadata) error {
	tmp, err := os.CreateTemp(dirOf(path), ".lector-*.wav")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	warn := WriteWAV(tmp, asm, meta)
	if closeErr := tmp.Close(); closeErr != nil {
		os.Remove(tmpName)
		return closeErr
	}
	var fw *FinalizeWarning
	if warn != nil && !errors.As(warn, &fw) {
		os.Remove(tmpName)
		return warn
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return warn
}

func buildInfo(asm *Assembly, meta Metadata) *wav.Metadata {
	created := meta.Created
	if created.IsZero() {
		created = time.Now()
	}
	software := meta.Software
	if software == "" {
		software = "lector"
	}
	genre := meta.Genre
	if genre == "" {
		genre = "Podcast"
	}
	return &wav.Metadata{
		Title:        meta.Title,
		Artist:       meta.Artist,
		Genre:        genre,
		Software:     software,
		CreationDate: created.Format("2006-01-02"),
		Comments:     renderChapters(asm.Chapters),
	}
}

// renderChapters formats the chapter table the way podcast show notes do,
// one "HH:MM:SS Title" line per chapter.
func renderChapters(chapters []Chapter) string {
	if len(chapters) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Chapters:\n")
	for _, c := range chapters {
		b.WriteString(FormatTimestamp(c.Start))
		b.WriteByte(' ')
		b.WriteString(c.Title)
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

func truncateComment(s string) string {
	cut := maxCommentBytes
	if i := strings.LastIndexByte(s[:cut], '\n'); i > 0 {
		cut = i
	}
	return s[:cut]
}

func dirOf(path string) string {
	if i := strings.LastIndexByte(path, os.PathSeparator); i >= 0 {
		return path[:i]
	}
	return "."
}

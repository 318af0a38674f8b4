package synth

import (
	"context"
	"math"

	"github.com/lectorlabs/lector-core/internal/ssml"
)

type mockSynth struct {
	sampleRate int
	channels   int
	maxPayload int
}

// NewMock produces a quiet sine tone whose length tracks the billable text,
// about one second per 60 characters. Runs against it exercise assembly,
// chapter placement, and duration accounting end to end.
func NewMock(sampleRate, channels, maxPayload int) Synthesizer {
	if sampleRate <= 0 {
		sampleRate = 22050
	}
	if channels <= 0 {
		channels = 1
	}
	if maxPayload <= 0 {
		maxPayload = DefaultMaxPayloadBytes
	}
	return &mockSynth{sampleRate: sampleRate, channels: channels, maxPayload: maxPayload}
}

func (m *mockSynth) Synthesize(ctx context.Context, req Request) (Clip, error) {
	if err := ctx.Err(); err != nil {
		return Clip{}, err
	}
	if err := checkPayload(req, m.maxPayload); err != nil {
		return Clip{}, err
	}

	chars := ssml.BillableChars(req.Markup)
	seconds := float64(chars) / 60.0
	if seconds < 0.1 {
		seconds = 0.1
	}
	rate := req.SpeakingRate
	if rate > 0 {
		seconds /= rate
	}

	frames := int(seconds * float64(m.sampleRate))
	samples := make([]int, 0, frames*m.channels)
	const freq = 220.0
	for i := 0; i < frames; i++ {
		v := int(6000 * math.Sin(2*math.Pi*freq*float64(i)/float64(m.sampleRate)))
		for c := 0; c < m.channels; c++ {
			samples = append(samples, v)
		}
	}
	return Clip{Samples: samples, SampleRate: m.sampleRate, Channels: m.channels}, nil
}

package synth

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os/exec"
	"sync"

	"github.com/mattn/go-shellwords"
)

type execSynth struct {
	cmd        []string
	sampleRate int
	channels   int
	maxPayload int
	mu         sync.Mutex
}

type execRequest struct {
	Markup       string  `json:"markup"`
	Voice        string  `json:"voice"`
	SpeakingRate float64 `json:"speaking_rate,omitempty"`
	SampleRate   int     `json:"sample_rate"`
	Channels     int     `json:"channels"`
}

type execResponse struct {
	PCMBase64 string `json:"pcm_base64"`
}

// NewExec wraps an external synthesis command: markup request as JSON on
// stdin, base64 little-endian 16-bit PCM back on stdout. Provider CLIs and
// cloud SDK shims both fit this shape.
func NewExec(command string, sampleRate, channels, maxPayload int) (Synthesizer, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse synth command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("synth command empty")
	}
	if maxPayload <= 0 {
		maxPayload = DefaultMaxPayloadBytes
	}
	return &execSynth{cmd: args, sampleRate: sampleRate, channels: channels, maxPayload: maxPayload}, nil
}

func (e *execSynth) Synthesize(ctx context.Context, req Request) (Clip, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := checkPayload(req, e.maxPayload); err != nil {
		return Clip{}, err
	}

	input, err := json.Marshal(execRequest{
		Markup:       req.Markup,
		Voice:        req.Voice,
		SpeakingRate: req.SpeakingRate,
		SampleRate:   e.sampleRate,
		Channels:     e.channels,
	})
	if err != nil {
		return Clip{}, err
	}

	cmd := exec.CommandContext(ctx, e.cmd[0], e.cmd[1:]...)
	cmd.Stdin = bytes.NewReader(input)
	output, err := cmd.Output()
	if err != nil {
		return Clip{}, &ServiceError{Window: req.WindowIndex, Err: fmt.Errorf("synth command failed: %w", err)}
	}

	var resp execResponse
	if err := json.Unmarshal(bytes.TrimSpace(output), &resp); err != nil {
		return Clip{}, &ServiceError{Window: req.WindowIndex, Err: fmt.Errorf("decode synth response: %w", err)}
	}
	pcm, err := base64.StdEncoding.DecodeString(resp.PCMBase64)
	if err != nil {
		return Clip{}, &ServiceError{Window: req.WindowIndex, Err: fmt.Errorf("decode synth pcm: %w", err)}
	}
	if len(pcm) == 0 {
		return Clip{}, &ServiceError{Window: req.WindowIndex, Err: fmt.Errorf("synth command returned no audio")}
	}
	if len(pcm)%2 != 0 {
		pcm = pcm[:len(pcm)-1]
	}

	samples := make([]int, len(pcm)/2)
	for i := range samples {
		samples[i] = int(int16(binary.LittleEndian.Uint16(pcm[2*i:])))
	}
	return Clip{Samples: samples, SampleRate: e.sampleRate, Channels: e.channels}, nil
}

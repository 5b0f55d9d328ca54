// Package audioframe decodes inbound client audio packets into raw PCM
// frames for the STT Bridge.
//
// Client audio is little-endian 16-bit PCM mono at 48 kHz by default, with
// an alternate Opus-in-WebM/Ogg container encoding (§6). The STT bridge
// selects the decoder from the MIME type advertised on the stream; PCM
// passes through unchanged, Opus is decoded via gopus exactly as the
// teacher's Discord voice path does, adapted from stereo to the mono
// stream this gateway receives.
package audioframe

import (
	"fmt"
	"strings"

	"github.com/nilstrand/voicegate/pkg/types"
)

// Encoding identifies the wire encoding of an inbound audio frame.
type Encoding int

const (
	// PCM16 is little-endian 16-bit PCM, the default client encoding.
	PCM16 Encoding = iota

	// Opus is Opus audio carried in a WebM or Ogg container.
	Opus
)

// DetectEncoding maps a stream's advertised MIME type to an [Encoding].
// An empty or unrecognized MIME type defaults to [PCM16].
func DetectEncoding(mimeType string) Encoding {
	lower := strings.ToLower(mimeType)
	switch {
	case strings.Contains(lower, "opus"), strings.Contains(lower, "webm"), strings.Contains(lower, "ogg"):
		return Opus
	default:
		return PCM16
	}
}

// Decoder converts one inbound audio packet into a [types.AudioFrame] of
// linear PCM16 samples.
//
// Implementations are stateful (an Opus decoder carries inter-frame
// prediction state) and must not be shared across concurrent streams; one
// Decoder is created per STT bridge session.
type Decoder interface {
	// Decode converts a single packet into a PCM frame.
	Decode(payload []byte) (types.AudioFrame, error)

	// Close releases any resources held by the decoder.
	Close() error
}

// NewDecoder returns a [Decoder] for enc, producing frames at sampleRate
// (mono). For [PCM16] this is a zero-cost passthrough; for [Opus] it builds
// a stateful gopus decoder.
func NewDecoder(enc Encoding, sampleRate int) (Decoder, error) {
	switch enc {
	case PCM16:
		return &pcmDecoder{sampleRate: sampleRate}, nil
	case Opus:
		return newOpusDecoder(sampleRate)
	default:
		return nil, fmt.Errorf("audioframe: unknown encoding %d", enc)
	}
}

// pcmDecoder passes already-linear PCM16 bytes through unchanged.
type pcmDecoder struct {
	sampleRate int
}

func (d *pcmDecoder) Decode(payload []byte) (types.AudioFrame, error) {
	return types.AudioFrame{
		Data:       payload,
		SampleRate: d.sampleRate,
		Channels:   1,
	}, nil
}

func (d *pcmDecoder) Close() error { return nil }

// Compile-time interface assertions.
var (
	_ Decoder = (*pcmDecoder)(nil)
	_ Decoder = (*opusDecoder)(nil)
)

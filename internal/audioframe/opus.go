package audioframe

import (
	"encoding/binary"
	"fmt"

	"layeh.com/gopus"

	"github.com/nilstrand/voicegate/pkg/types"
)

const (
	// opusChannels is fixed at mono: the gateway's inbound audio is a single
	// speaker's microphone capture, unlike the teacher's stereo Discord
	// voice channel.
	opusChannels = 1

	// opusFrameSizeMs is the Opus frame duration this decoder expects.
	// Clients that encode at a different frame size will decode with
	// truncated or padded output; §6 fixes the client encoder to 20ms.
	opusFrameSizeMs = 20
)

// opusDecoder decodes Opus packets into PCM16 frames using gopus, the same
// binding the teacher's Discord voice receiver uses, reconfigured for a
// single-channel stream at the gateway's chosen sample rate.
type opusDecoder struct {
	dec        *gopus.Decoder
	sampleRate int
	frameSize  int
}

func newOpusDecoder(sampleRate int) (*opusDecoder, error) {
	dec, err := gopus.NewDecoder(sampleRate, opusChannels)
	if err != nil {
		return nil, fmt.Errorf("audioframe: create opus decoder: %w", err)
	}
	return &opusDecoder{
		dec:        dec,
		sampleRate: sampleRate,
		frameSize:  sampleRate * opusFrameSizeMs / 1000,
	}, nil
}

func (d *opusDecoder) Decode(payload []byte) (types.AudioFrame, error) {
	pcm, err := d.dec.Decode(payload, d.frameSize, false)
	if err != nil {
		return types.AudioFrame{}, fmt.Errorf("audioframe: opus decode: %w", err)
	}
	return types.AudioFrame{
		Data:       int16sToBytes(pcm),
		SampleRate: d.sampleRate,
		Channels:   opusChannels,
	}, nil
}

func (d *opusDecoder) Close() error { return nil }

// int16sToBytes packs little-endian PCM16 samples, matching the framing the
// STT providers expect on the wire.
func int16sToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

package wire

import (
	"encoding/base64"
	"fmt"

	"github.com/buger/jsonparser"
)

// ExtractAudioFrame pulls the base64 "audio" field straight out of a raw
// "stt_audio" frame and decodes it, without unmarshalling the rest of the
// envelope into an [Envelope]/[STTAudio] pair. This is the hot path: a
// Streaming-state connection may forward hundreds of these frames per
// second, and the only thing downstream ever needs is the decoded bytes.
func ExtractAudioFrame(raw []byte) ([]byte, error) {
	b64, err := jsonparser.GetString(raw, "data", "audio")
	if err != nil {
		return nil, fmt.Errorf("wire: stt_audio frame missing data.audio: %w", err)
	}
	frame, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("wire: stt_audio audio field is not valid base64: %w", err)
	}
	return frame, nil
}

// Package wire implements the framed {type, data} message envelope used
// between the gateway and a connected client.
//
// Every frame is a JSON object carrying a type discriminator and a nested
// data object. On the hot inbound path (one frame per audio packet) the
// discriminator is peeked with gjson before the full envelope is ever
// unmarshalled, so a connection flooded with stt_audio frames never pays for
// a full struct decode of message kinds it isn't expecting.
package wire

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
)

// Kind identifies a message type carried in an Envelope's "type" field.
type Kind string

// Inbound (client → server) message kinds. See spec §6.
const (
	KindAuth         Kind = "auth"
	KindGetDocuments Kind = "get_documents"
	KindStartStream  Kind = "start_stream"
	KindSTTAudio     Kind = "stt_audio"
	KindEndSpeech    Kind = "end_speech"
	KindBargeIn      Kind = "barge_in"
)

// Outbound (server → client) message kinds.
const (
	KindConnected        Kind = "connected"
	KindStreamStarted    Kind = "stream_started"
	KindDocumentsList    Kind = "documents_list"
	KindAudioChunk       Kind = "audio_chunk"
	KindConversationPair Kind = "conversation_pair"
	KindStreamComplete   Kind = "stream_complete"
	KindError            Kind = "error"
)

// Envelope is the wire-level {type, data} frame shared by every message in
// both directions. Data is kept raw so that [PeekKind] and [Decode] can
// choose how much of the payload to actually parse.
type Envelope struct {
	Type Kind            `json:"type"`
	Data json.RawMessage `json:"data"`
}

// PeekKind extracts the "type" discriminator from a raw frame without
// unmarshalling the (potentially large) "data" payload. Used by the
// Connection FSM to route a frame to the right handler before committing to
// a full decode.
func PeekKind(raw []byte) (Kind, error) {
	result := gjson.GetBytes(raw, "type")
	if !result.Exists() || result.Type != gjson.String {
		return "", fmt.Errorf("wire: frame has no string \"type\" field")
	}
	return Kind(result.String()), nil
}

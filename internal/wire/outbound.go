package wire

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/tidwall/sjson"
)

// Connected is the data payload of a "connected" frame.
type Connected struct {
	Status    string `json:"status"`
	SessionID string `json:"session_id"`
}

// StreamStarted is the data payload of a "stream_started" frame.
type StreamStarted struct {
	SessionID string `json:"session_id"`
}

// DocumentsList is the data payload of a "documents_list" frame.
type DocumentsList struct {
	Documents []string `json:"documents"`
}

// WordTiming is one SSML-mark-derived word timing within a synthesized
// sentence, as carried on the wire inside an "audio_chunk" frame.
type WordTiming struct {
	Word        string  `json:"word"`
	TimeSeconds float64 `json:"time_seconds"`
}

// ConversationPair is the data payload of a "conversation_pair" frame.
type ConversationPair struct {
	UserQuery   string `json:"user_query"`
	LLMResponse string `json:"llm_response"`
}

// StreamComplete is the data payload of a "stream_complete" frame.
type StreamComplete struct {
	Status string `json:"status"`
}

// ErrorFrame is the data payload of an "error" frame.
type ErrorFrame struct {
	Message string `json:"message"`
}

func encodeEnvelope(kind Kind, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("wire: encode %s payload: %w", kind, err)
	}
	out, err := json.Marshal(Envelope{Type: kind, Data: data})
	if err != nil {
		return nil, fmt.Errorf("wire: encode %s envelope: %w", kind, err)
	}
	return out, nil
}

// EncodeConnected builds a "connected" frame.
func EncodeConnected(sessionID string) ([]byte, error) {
	return encodeEnvelope(KindConnected, Connected{Status: "ok", SessionID: sessionID})
}

// EncodeStreamStarted builds a "stream_started" frame.
func EncodeStreamStarted(sessionID string) ([]byte, error) {
	return encodeEnvelope(KindStreamStarted, StreamStarted{SessionID: sessionID})
}

// EncodeDocumentsList builds a "documents_list" frame.
func EncodeDocumentsList(documents []string) ([]byte, error) {
	return encodeEnvelope(KindDocumentsList, DocumentsList{Documents: documents})
}

// EncodeConversationPair builds a "conversation_pair" frame.
func EncodeConversationPair(userQuery, llmResponse string) ([]byte, error) {
	return encodeEnvelope(KindConversationPair, ConversationPair{UserQuery: userQuery, LLMResponse: llmResponse})
}

// EncodeStreamComplete builds a "stream_complete" frame.
func EncodeStreamComplete(status string) ([]byte, error) {
	return encodeEnvelope(KindStreamComplete, StreamComplete{Status: status})
}

// EncodeError builds an "error" frame.
func EncodeError(message string) ([]byte, error) {
	return encodeEnvelope(KindError, ErrorFrame{Message: message})
}

// EncodeAudioChunk builds an "audio_chunk" frame, the highest-volume outbound
// message kind (one per synthesized sentence, each carrying a full MP3
// payload plus a per-word timing array). Rather than populate an
// intermediate struct and marshal it whole, the frame is assembled
// incrementally with sjson so the per-word timing marks are appended
// directly into the growing byte buffer.
func EncodeAudioChunk(text string, audio []byte, words []WordTiming) ([]byte, error) {
	buf := []byte(`{"type":"audio_chunk","data":{}}`)

	var err error
	buf, err = sjson.SetBytes(buf, "data.text", text)
	if err != nil {
		return nil, fmt.Errorf("wire: encode audio_chunk text: %w", err)
	}
	buf, err = sjson.SetBytes(buf, "data.audio", base64.StdEncoding.EncodeToString(audio))
	if err != nil {
		return nil, fmt.Errorf("wire: encode audio_chunk audio: %w", err)
	}
	buf, err = sjson.SetBytes(buf, "data.words", []any{})
	if err != nil {
		return nil, fmt.Errorf("wire: encode audio_chunk words: %w", err)
	}
	for i, w := range words {
		buf, err = sjson.SetBytes(buf, fmt.Sprintf("data.words.%d.word", i), w.Word)
		if err != nil {
			return nil, fmt.Errorf("wire: encode audio_chunk word %d: %w", i, err)
		}
		buf, err = sjson.SetBytes(buf, fmt.Sprintf("data.words.%d.time_seconds", i), w.TimeSeconds)
		if err != nil {
			return nil, fmt.Errorf("wire: encode audio_chunk word %d timing: %w", i, err)
		}
	}
	return buf, nil
}

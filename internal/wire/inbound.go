package wire

import (
	"encoding/json"
	"fmt"
)

// Auth is the data payload of an "auth" frame.
type Auth struct {
	APIKey    string `json:"api_key"`
	SessionID string `json:"session_id"`
}

// StartStream is the data payload of a "start_stream" frame.
type StartStream struct {
	Voice            string `json:"voice"`
	Mode             string `json:"mode"`
	SelectedDocument string `json:"selected_document"`
}

// STTAudio is the data payload of an "stt_audio" frame. Audio carries the
// raw decoded frame bytes — base64 decoding has already happened by the time
// a caller sees this type; see [ExtractAudioFrame] for the fast path that
// skips building this struct entirely.
type STTAudio struct {
	Audio []byte `json:"audio"`
}

// EndSpeech is the data payload of an "end_speech" frame. RequestID is
// optional and empty when the client does not track it.
type EndSpeech struct {
	RequestID string `json:"request_id"`
}

// Decode parses a raw inbound frame and returns its [Kind] together with a
// typed payload value. The concrete type of payload depends on kind:
//
//	KindAuth         -> *Auth
//	KindGetDocuments -> nil (no payload fields)
//	KindStartStream  -> *StartStream
//	KindSTTAudio     -> *STTAudio
//	KindEndSpeech    -> *EndSpeech
//	KindBargeIn      -> nil (no payload fields)
//
// Unknown kinds return a non-nil error; callers should reply with an error
// frame and keep the connection open per the protocol-error policy.
func Decode(raw []byte) (Kind, any, error) {
	kind, err := PeekKind(raw)
	if err != nil {
		return "", nil, err
	}

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", nil, fmt.Errorf("wire: malformed frame: %w", err)
	}

	switch kind {
	case KindAuth:
		var a Auth
		if err := unmarshalData(env.Data, &a); err != nil {
			return kind, nil, err
		}
		return kind, &a, nil
	case KindGetDocuments:
		return kind, nil, nil
	case KindStartStream:
		var s StartStream
		if err := unmarshalData(env.Data, &s); err != nil {
			return kind, nil, err
		}
		return kind, &s, nil
	case KindSTTAudio:
		var s STTAudio
		if err := unmarshalData(env.Data, &s); err != nil {
			return kind, nil, err
		}
		return kind, &s, nil
	case KindEndSpeech:
		var e EndSpeech
		if err := unmarshalData(env.Data, &e); err != nil {
			return kind, nil, err
		}
		return kind, &e, nil
	case KindBargeIn:
		return kind, nil, nil
	default:
		return kind, nil, fmt.Errorf("wire: unknown message type %q", kind)
	}
}

func unmarshalData(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("wire: malformed data payload: %w", err)
	}
	return nil
}

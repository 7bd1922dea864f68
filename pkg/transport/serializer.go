package transport

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/voxflow/voxflow/pkg/frame"
)

// ErrUnsupportedFrame is returned by [Encode] for frame kinds that have no
// wire representation, and by [Decode] for unknown message types.
var ErrUnsupportedFrame = errors.New("transport: unsupported frame")

// Wire message type names.
const (
	typeInputAudio       = "input_audio"
	typeSynthesizedAudio = "synthesized_audio"
	typeTranscript       = "transcript"
	typeSynthesisStarted = "synthesis_started"
	typeSynthesisStopped = "synthesis_stopped"
	typeError            = "error"
	typeEnd              = "end"
)

// envelope is the JSON wire format shared by all voxflow transports. Only
// the fields relevant to a given Type are populated.
type envelope struct {
	Type string `json:"type"`

	// Audio payloads (input_audio, synthesized_audio).
	PCM        string `json:"pcm,omitempty"` // base64 of 16-bit LE PCM
	SampleRate int    `json:"sample_rate,omitempty"`
	Channels   int    `json:"channels,omitempty"`

	// Transcript payload.
	Text      string    `json:"text,omitempty"`
	SpeakerID string    `json:"speaker_id,omitempty"`
	Timestamp time.Time `json:"timestamp,omitzero"`
	Language  string    `json:"language,omitempty"`

	// Error payload.
	Message string `json:"message,omitempty"`
	Fatal   bool   `json:"fatal,omitempty"`
}

// Encode serialises a boundary frame into its wire representation. Frame
// kinds that never cross the wire return [ErrUnsupportedFrame].
func Encode(f frame.Frame) ([]byte, error) {
	var env envelope
	switch f := f.(type) {
	case *frame.InputAudio:
		env = envelope{
			Type:       typeInputAudio,
			PCM:        base64.StdEncoding.EncodeToString(f.PCM),
			SampleRate: f.SampleRate,
			Channels:   f.Channels,
		}
	case *frame.SynthesizedAudio:
		env = envelope{
			Type:       typeSynthesizedAudio,
			PCM:        base64.StdEncoding.EncodeToString(f.PCM),
			SampleRate: f.SampleRate,
			Channels:   f.Channels,
		}
	case *frame.Transcript:
		env = envelope{
			Type:      typeTranscript,
			Text:      f.Text,
			SpeakerID: f.SpeakerID,
			Timestamp: f.Timestamp,
			Language:  f.Language,
		}
	case *frame.SynthesisStarted:
		env = envelope{Type: typeSynthesisStarted}
	case *frame.SynthesisStopped:
		env = envelope{Type: typeSynthesisStopped}
	case *frame.Error:
		env = envelope{Type: typeError, Message: f.Message, Fatal: f.Fatal}
	case *frame.End:
		env = envelope{Type: typeEnd}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFrame, f.Name())
	}
	return json.Marshal(env)
}

// Decode parses a wire message into the corresponding frame.
func Decode(data []byte) (frame.Frame, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("transport: decode envelope: %w", err)
	}

	switch env.Type {
	case typeInputAudio, typeSynthesizedAudio:
		pcm, err := base64.StdEncoding.DecodeString(env.PCM)
		if err != nil {
			return nil, fmt.Errorf("transport: decode pcm: %w", err)
		}
		if env.Type == typeInputAudio {
			return frame.NewInputAudio(pcm, env.SampleRate, env.Channels), nil
		}
		return frame.NewSynthesizedAudio(pcm, env.SampleRate, env.Channels), nil
	case typeTranscript:
		return frame.NewTranscript(env.Text, env.SpeakerID, env.Timestamp, env.Language), nil
	case typeSynthesisStarted:
		return frame.NewSynthesisStarted(), nil
	case typeSynthesisStopped:
		return frame.NewSynthesisStopped(), nil
	case typeError:
		return frame.NewError(env.Message, env.Fatal), nil
	case typeEnd:
		return frame.NewEnd(), nil
	default:
		return nil, fmt.Errorf("%w: type %q", ErrUnsupportedFrame, env.Type)
	}
}

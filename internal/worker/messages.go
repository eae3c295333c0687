package worker

import (
	"github.com/book-expert/events"
	"github.com/book-expert/indextts-service/internal/emotion"
	"github.com/book-expert/indextts-service/internal/model"
	"github.com/book-expert/indextts-service/internal/synthesis"
	"github.com/book-expert/indextts-service/internal/voice"
)

// SynthesisJob is the request on the synthesize subject.
type SynthesisJob struct {
	Header      events.EventHeader `json:"header"`
	Text        string             `json:"text"`
	VoiceID     string             `json:"voice_id,omitempty"`
	Emotion     string             `json:"emotion,omitempty"`
	Intensity   *float64           `json:"intensity,omitempty"`
	AutoEmotion bool               `json:"auto_emotion,omitempty"`
	// OutputName is a file name inside the output directory. A random name
	// is used when empty.
	OutputName string `json:"output_name,omitempty"`
}

// SynthesisCompleted is the reply to a SynthesisJob.
type SynthesisCompleted struct {
	Header      events.EventHeader `json:"header"`
	Result      synthesis.Result   `json:"result"`
	AudioKey    string             `json:"audio_key,omitempty"`
	UploadError string             `json:"upload_error,omitempty"`
}

// PreloadReply is the reply on the preload subject.
type PreloadReply struct {
	Success bool         `json:"success"`
	Message string       `json:"message"`
	Status  model.Status `json:"status"`
}

// VoicesReply lists the voice catalog.
type VoicesReply struct {
	Voices []voice.Descriptor `json:"voices"`
}

// EmotionsReply lists the selectable emotions.
type EmotionsReply struct {
	Emotions []emotion.Option `json:"emotions"`
}

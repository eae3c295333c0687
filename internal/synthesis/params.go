package synthesis

import (
	"github.com/book-expert/indextts-service/internal/core"
	"github.com/book-expert/indextts-service/internal/emotion"
)

// BuildParams assembles the engine invocation. Exactly one emotion mode
// applies: auto inference when requested, else a known preset vector with
// random sampling off, else none. The returned label is echoed in the result.
func BuildParams(speakerPath, text, outputPath string, req Request, intensity float64) (core.InferParams, string) {
	params := core.InferParams{
		SpeakerAudioPath: speakerPath,
		Text:             text,
		OutputPath:       outputPath,
		Verbose:          false,
	}

	if req.AutoEmotion {
		alpha := intensity
		params.UseEmotionText = true
		params.EmotionAlpha = &alpha

		return params, emotion.Auto
	}

	if vector, ok := emotion.VectorFor(req.Emotion); ok {
		useRandom := false
		params.EmotionVector = vector.Slice()
		params.UseRandom = &useRandom
	}

	return params, req.Emotion
}

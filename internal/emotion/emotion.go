// Package emotion maps named emotions to the control vectors consumed by the model.
package emotion

// Dimensions is the length of every emotion vector.
const Dimensions = 8

// Selection labels that are not presets.
const (
	Disabled = "disabled"
	Auto     = "auto"
)

// Vector is an emotion control vector. Each position weights one emotion.
type Vector [Dimensions]float64

// Slice returns the vector as a freshly allocated slice.
func (v Vector) Slice() []float64 {
	out := make([]float64, Dimensions)
	copy(out, v[:])

	return out
}

// names is ordered by vector position.
var names = [Dimensions]string{
	"happy",
	"angry",
	"sad",
	"afraid",
	"disgusted",
	"melancholic",
	"surprised",
	"calm",
}

// Names returns the preset names in vector order.
func Names() []string {
	out := make([]string, Dimensions)
	copy(out, names[:])

	return out
}

// Index returns the vector position of a preset.
func Index(name string) (int, bool) {
	for i, n := range names {
		if n == name {
			return i, true
		}
	}

	return 0, false
}

// VectorFor returns the one-hot vector of a preset. Unknown names, including
// Disabled and Auto, report false.
func VectorFor(name string) (Vector, bool) {
	idx, ok := Index(name)
	if !ok {
		return Vector{}, false
	}

	var v Vector
	v[idx] = 1.0

	return v, true
}

// Option describes one selectable emotion.
type Option struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

var options = []Option{
	{ID: Disabled, Name: "Disabled", Description: "No emotion control"},
	{ID: Auto, Name: "Auto", Description: "Infer the emotion from the text"},
	{ID: "happy", Name: "Happy", Description: "Cheerful, upbeat tone"},
	{ID: "sad", Name: "Sad", Description: "Low, sorrowful tone"},
	{ID: "angry", Name: "Angry", Description: "Agitated, angry tone"},
	{ID: "afraid", Name: "Afraid", Description: "Tense, fearful tone"},
	{ID: "calm", Name: "Calm", Description: "Even, soothing tone"},
	{ID: "surprised", Name: "Surprised", Description: "Startled, surprised tone"},
	{ID: "melancholic", Name: "Melancholic", Description: "Wistful, brooding tone"},
	{ID: "disgusted", Name: "Disgusted", Description: "Annoyed, repelled tone"},
}

// Options lists every selectable emotion, the two modes first.
func Options() []Option {
	return append([]Option(nil), options...)
}

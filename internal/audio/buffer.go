package audio

import goaudio "github.com/go-audio/audio"

func newIntBuffer(sampleRate, frames int) *goaudio.IntBuffer {
	return &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           make([]int, frames),
		SourceBitDepth: 16,
	}
}

// Package voice provides the catalog of reference voices used for cloning.
package voice

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/book-expert/logger"
)

// Descriptor is one catalog entry.
type Descriptor struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	Gender       string   `json:"gender"`
	Tags         []string `json:"tags"`
	AudioFile    string   `json:"audio_file"`
	AudioPath    string   `json:"audio_path"`
	Exists       bool     `json:"exists"`
	SampleWAVURL string   `json:"sample_wav_url"`
}

type metaEntry struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Gender      string   `json:"gender"`
	Tags        []string `json:"tags"`
	AudioFile   string   `json:"audio_file"`
	AudioPath   string   `json:"audio_path,omitempty"`
}

type metaDocument struct {
	Voices []metaEntry `json:"voices"`
}

// Catalog loads voice descriptors from a metadata document once and serves
// them from memory afterwards. Build a new Catalog to pick up changes.
type Catalog struct {
	metaPath        string
	voicesDir       string
	sampleURLPrefix string
	log             *logger.Logger

	mu     sync.Mutex
	loaded bool
	voices []Descriptor
}

// NewCatalog creates a catalog reading metaPath and resolving audio files
// relative to voicesDir.
func NewCatalog(metaPath, voicesDir, sampleURLPrefix string, log *logger.Logger) *Catalog {
	return &Catalog{
		metaPath:        metaPath,
		voicesDir:       voicesDir,
		sampleURLPrefix: sampleURLPrefix,
		log:             log,
	}
}

// Load returns the catalog in document order. The first call reads the
// metadata document; later calls return the cached result. An absent,
// unreadable or malformed document yields an empty catalog.
func (c *Catalog) Load() []Descriptor {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.loaded {
		voices, err := c.read()
		if err != nil {
			c.log.Error("Failed to load voice metadata from '%s': %v", c.metaPath, err)
		}

		c.voices = voices
		c.loaded = true
	}

	return append([]Descriptor(nil), c.voices...)
}

// Available returns the descriptors whose reference audio exists.
func (c *Catalog) Available() []Descriptor {
	var out []Descriptor

	for _, v := range c.Load() {
		if v.Exists {
			out = append(out, v)
		}
	}

	return out
}

// Resolve returns the reference audio path of a voice. If the recorded path
// is gone, audio_file is looked up again relative to the voices directory.
func (c *Catalog) Resolve(voiceID string) (string, bool) {
	for _, v := range c.Load() {
		if v.ID != voiceID {
			continue
		}

		if fileExists(v.AudioPath) {
			return v.AudioPath, true
		}

		if v.AudioFile != "" {
			direct := filepath.Join(c.voicesDir, v.AudioFile)
			if fileExists(direct) {
				return direct, true
			}
		}
	}

	return "", false
}

func (c *Catalog) read() ([]Descriptor, error) {
	data, err := os.ReadFile(c.metaPath)
	if err != nil {
		if os.IsNotExist(err) {
			return []Descriptor{}, nil
		}

		return []Descriptor{}, fmt.Errorf("failed to read voice metadata: %w", err)
	}

	var doc metaDocument

	err = json.Unmarshal(data, &doc)
	if err != nil {
		return []Descriptor{}, fmt.Errorf("failed to unmarshal voice metadata: %w", err)
	}

	voices := make([]Descriptor, 0, len(doc.Voices))
	seen := make(map[string]struct{}, len(doc.Voices))

	for _, entry := range doc.Voices {
		if _, dup := seen[entry.ID]; dup {
			c.log.Warn("Skipping duplicate voice id '%s' in '%s'", entry.ID, c.metaPath)

			continue
		}

		seen[entry.ID] = struct{}{}
		voices = append(voices, c.describe(entry))
	}

	return voices, nil
}

func (c *Catalog) describe(entry metaEntry) Descriptor {
	audioPath := filepath.Join(c.voicesDir, entry.AudioFile)
	if entry.AudioPath != "" {
		audioPath = entry.AudioPath
		if !filepath.IsAbs(audioPath) {
			audioPath = filepath.Join(filepath.Dir(c.metaPath), audioPath)
		}
	}

	tags := entry.Tags
	if tags == nil {
		tags = []string{}
	}

	return Descriptor{
		ID:           entry.ID,
		Name:         entry.Name,
		Description:  entry.Description,
		Gender:       entry.Gender,
		Tags:         tags,
		AudioFile:    entry.AudioFile,
		AudioPath:    audioPath,
		Exists:       fileExists(audioPath),
		SampleWAVURL: c.sampleURLPrefix + entry.AudioFile,
	}
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}

	info, err := os.Stat(path)

	return err == nil && !info.IsDir()
}

package voice

import (
	"path/filepath"
)

// RequiredFiles are the reference recordings every installation ships with.
var RequiredFiles = []string{
	"male_youth.wav",
	"male_mature.wav",
	"female_sweet.wav",
	"female_elegant.wav",
	"female_lively.wav",
	"child.wav",
}

// MissingRequired returns the entries of RequiredFiles absent from dir.
func MissingRequired(dir string) []string {
	var missing []string

	for _, name := range RequiredFiles {
		if !fileExists(filepath.Join(dir, name)) {
			missing = append(missing, name)
		}
	}

	return missing
}

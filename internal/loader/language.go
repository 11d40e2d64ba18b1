package loader

import (
	"strings"
	"sync"

	"github.com/pemistahl/lingua-go"
)

// languageSampleRunes bounds how much text is handed to the detector.
const languageSampleRunes = 2000

// languageDetector builds its lingua models on first use; loading them is
// slow and most runs only need them once documents are actually read.
type languageDetector struct {
	once     sync.Once
	detector lingua.LanguageDetector
}

func newLanguageDetector() *languageDetector {
	return &languageDetector{}
}

// Detect returns the lowercase ISO 639-1 code of text, or "" when unsure.
func (d *languageDetector) Detect(text string) string {
	d.once.Do(func() {
		d.detector = lingua.NewLanguageDetectorBuilder().
			FromLanguages(lingua.Spanish, lingua.English, lingua.Portuguese, lingua.French).
			Build()
	})

	sample := []rune(text)
	if len(sample) > languageSampleRunes {
		sample = sample[:languageSampleRunes]
	}
	lang, ok := d.detector.DetectLanguageOf(string(sample))
	if !ok {
		return ""
	}
	return strings.ToLower(lang.IsoCode639_1().String())
}

// Package orchestrator drives a recording through transcription, parallel
// translation and pooled speech synthesis.
package orchestrator

// Orchestrator configuration constants
const (
	// Language every transcript is assumed to be in.
	DefaultSourceLanguage = "en"

	// Synthesis pool size, matching the speech provider's concurrency ceiling.
	DefaultSynthesisConcurrency = 5

	// Zero means one translation task per language with no ceiling.
	DefaultTranslationConcurrency = 0

	// Artifact name prefix; the language code is appended.
	OutputPrefix = "translated_audio_"

	// Event store configuration
	EventHistorySize = 200
	EventBufferSize  = 100
)

// OutputName returns the artifact name for a language.
func OutputName(lang string) string {
	return OutputPrefix + lang
}

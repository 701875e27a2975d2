// Package config handles pipeline configuration
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"

	apperrors "github.com/GriffinCanCode/polyglot/internal/errors"
)

// Config keys. Environment variables use the upper-cased key with a POLYGLOT_ prefix
// (e.g. POLYGLOT_SYNTHESIS_CONCURRENCY); provider credentials also accept their
// conventional names (OPENAI_API_KEY, ELEVENLABS_API_KEY).
const (
	KeyHTTPAddr               = "http_addr"
	KeySampleRate             = "sample_rate"
	KeyFramesPerBuffer        = "frames_per_buffer"
	KeyStopTimeout            = "stop_timeout"
	KeySourceLanguage         = "source_language"
	KeyTargetLanguages        = "target_languages"
	KeyTranslationConcurrency = "translation_concurrency"
	KeySynthesisConcurrency   = "synthesis_concurrency"
	KeyOutputDir              = "output_dir"
	KeyOpenAIAPIKey           = "openai_api_key"
	KeyOpenAIBaseURL          = "openai_base_url"
	KeyWhisperModel           = "whisper_model"
	KeyLibreTranslateURL      = "libretranslate_url"
	KeyLibreTranslateAPIKey   = "libretranslate_api_key"
	KeyElevenLabsAPIKey       = "elevenlabs_api_key"
	KeyElevenLabsVoiceID      = "elevenlabs_voice_id"
	KeyElevenLabsModel        = "elevenlabs_model"
	KeyProviderTimeout        = "provider_timeout"
)

type Config struct {
	HTTPAddr               string
	SampleRate             int
	FramesPerBuffer        int
	StopTimeout            time.Duration
	SourceLanguage         string
	TargetLanguages        []string
	TranslationConcurrency int // 0 = one goroutine per language
	SynthesisConcurrency   int
	OutputDir              string
	OpenAIAPIKey           string
	OpenAIBaseURL          string
	WhisperModel           string
	LibreTranslateURL      string
	LibreTranslateAPIKey   string
	ElevenLabsAPIKey       string
	ElevenLabsVoiceID      string
	ElevenLabsModel        string
	ProviderTimeout        time.Duration
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyHTTPAddr, ":8000")
	v.SetDefault(KeySampleRate, 16000)
	v.SetDefault(KeyFramesPerBuffer, 1024)
	v.SetDefault(KeyStopTimeout, 2*time.Second)
	v.SetDefault(KeySourceLanguage, "en")
	v.SetDefault(KeyTargetLanguages, []string{"es", "fr", "de"})
	v.SetDefault(KeyTranslationConcurrency, 0)
	v.SetDefault(KeySynthesisConcurrency, 5)
	v.SetDefault(KeyOutputDir, "output")
	v.SetDefault(KeyOpenAIBaseURL, "")
	v.SetDefault(KeyWhisperModel, "whisper-1")
	v.SetDefault(KeyLibreTranslateURL, "http://localhost:5001")
	v.SetDefault(KeyLibreTranslateAPIKey, "")
	v.SetDefault(KeyElevenLabsVoiceID, "CXJAacovzWn9Fp4Rcjcs")
	v.SetDefault(KeyElevenLabsModel, "eleven_multilingual_v2")
	v.SetDefault(KeyProviderTimeout, 60*time.Second)
}

// New returns a viper instance wired for env lookup with defaults applied.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix("polyglot")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv(KeyOpenAIAPIKey, "POLYGLOT_OPENAI_API_KEY", "OPENAI_API_KEY")
	_ = v.BindEnv(KeyElevenLabsAPIKey, "POLYGLOT_ELEVENLABS_API_KEY", "ELEVENLABS_API_KEY")
	return v
}

// Load reads configuration from the environment only.
func Load() *Config {
	return FromViper(New())
}

// LoadFile reads configuration from an optional YAML file layered under the environment.
func LoadFile(path string) (*Config, error) {
	v := New()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, apperrors.Wrapf(err, apperrors.ConfigInvalid, "read config %s", path)
		}
	}
	return FromViper(v), nil
}

// FromViper decodes a Config from v.
func FromViper(v *viper.Viper) *Config {
	return &Config{
		HTTPAddr:               v.GetString(KeyHTTPAddr),
		SampleRate:             v.GetInt(KeySampleRate),
		FramesPerBuffer:        v.GetInt(KeyFramesPerBuffer),
		StopTimeout:            v.GetDuration(KeyStopTimeout),
		SourceLanguage:         v.GetString(KeySourceLanguage),
		TargetLanguages:        splitList(v.GetStringSlice(KeyTargetLanguages)),
		TranslationConcurrency: v.GetInt(KeyTranslationConcurrency),
		SynthesisConcurrency:   v.GetInt(KeySynthesisConcurrency),
		OutputDir:              v.GetString(KeyOutputDir),
		OpenAIAPIKey:           v.GetString(KeyOpenAIAPIKey),
		OpenAIBaseURL:          v.GetString(KeyOpenAIBaseURL),
		WhisperModel:           v.GetString(KeyWhisperModel),
		LibreTranslateURL:      strings.TrimRight(v.GetString(KeyLibreTranslateURL), "/"),
		LibreTranslateAPIKey:   v.GetString(KeyLibreTranslateAPIKey),
		ElevenLabsAPIKey:       v.GetString(KeyElevenLabsAPIKey),
		ElevenLabsVoiceID:      v.GetString(KeyElevenLabsVoiceID),
		ElevenLabsModel:        v.GetString(KeyElevenLabsModel),
		ProviderTimeout:        v.GetDuration(KeyProviderTimeout),
	}
}

// Validate checks structural settings. Provider credentials are checked by
// RequireProviders since some commands never reach a provider.
func (c *Config) Validate() error {
	if c.SampleRate != 16000 {
		return apperrors.Newf(apperrors.ConfigInvalid, "sample_rate must be 16000, got %d", c.SampleRate)
	}
	if c.FramesPerBuffer <= 0 {
		return apperrors.Newf(apperrors.ConfigInvalid, "frames_per_buffer must be positive, got %d", c.FramesPerBuffer)
	}
	if c.SynthesisConcurrency <= 0 {
		return apperrors.Newf(apperrors.ConfigInvalid, "synthesis_concurrency must be positive, got %d", c.SynthesisConcurrency)
	}
	if c.TranslationConcurrency < 0 {
		return apperrors.Newf(apperrors.ConfigInvalid, "translation_concurrency must not be negative, got %d", c.TranslationConcurrency)
	}
	if c.SourceLanguage == "" {
		return apperrors.New(apperrors.ConfigInvalid, "source_language is empty")
	}
	if c.OutputDir == "" {
		return apperrors.New(apperrors.ConfigInvalid, "output_dir is empty")
	}
	return nil
}

// RequireProviders reports the first missing provider credential.
func (c *Config) RequireProviders() error {
	if c.OpenAIAPIKey == "" {
		return apperrors.New(apperrors.ConfigMissing, "OPENAI_API_KEY is not set")
	}
	if c.ElevenLabsAPIKey == "" {
		return apperrors.New(apperrors.ConfigMissing, "ELEVENLABS_API_KEY is not set")
	}
	return nil
}

// splitList flattens comma-separated entries so "es,fr" from the environment
// and [es, fr] from YAML decode the same way.
func splitList(in []string) []string {
	result := make([]string, 0, len(in))
	for _, item := range in {
		for _, p := range strings.Split(item, ",") {
			if t := strings.TrimSpace(p); t != "" {
				result = append(result, t)
			}
		}
	}
	return result
}

// Package translate is a LibreTranslate client.
package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	apperrors "github.com/GriffinCanCode/polyglot/internal/errors"
	"github.com/GriffinCanCode/polyglot/internal/resilience"
	"github.com/GriffinCanCode/polyglot/internal/trace"
)

const (
	languagesPath = "/languages"
	translatePath = "/translate"

	defaultTimeout = 60 * time.Second
	maxErrorBody   = 512
)

// Language is one catalog entry returned by GET /languages.
type Language struct {
	Code    string   `json:"code"`
	Name    string   `json:"name"`
	Targets []string `json:"targets"`
}

type translateRequest struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Q      string `json:"q"`
	APIKey string `json:"api_key,omitempty"`
}

type translateResponse struct {
	TranslatedText *string `json:"translatedText"`
}

// Config configures the client.
type Config struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
	Breaker    *resilience.Breaker
}

// Client talks to a LibreTranslate server. The supported-target catalog is
// fetched once and cached for the life of the client.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	breaker *resilience.Breaker

	mu      sync.Mutex
	targets map[string]struct{}
}

// New creates a client.
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	br := cfg.Breaker
	if br == nil {
		br = resilience.New(resilience.ProviderConfig("libretranslate"))
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		http:    hc,
		breaker: br,
	}
}

// Languages fetches the provider catalog.
func (c *Client) Languages(ctx context.Context) ([]Language, error) {
	langs, err := resilience.ExecuteWithResult(ctx, c.breaker, func() ([]Language, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+languagesPath, nil)
		if err != nil {
			return nil, err
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, statusError(resp)
		}
		var out []Language
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return nil, apperrors.Wrap(err, apperrors.TranslationFailed, "decode language catalog").
				WithMetadata(apperrors.KeyReason, apperrors.ReasonParseFailure)
		}
		return out, nil
	})
	if err != nil {
		return nil, providerError(err, "fetch language catalog")
	}
	return langs, nil
}

// SupportedTargets returns the union of every catalog language's targets.
// The returned set is shared and must not be modified.
func (c *Client) SupportedTargets(ctx context.Context) (map[string]struct{}, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.targets != nil {
		return c.targets, nil
	}

	langs, err := c.Languages(ctx)
	if err != nil {
		return nil, err
	}
	targets := make(map[string]struct{})
	for _, l := range langs {
		for _, t := range l.Targets {
			targets[t] = struct{}{}
		}
	}
	c.targets = targets
	trace.Logger(ctx).Debug("loaded translation catalog", "languages", len(langs), "targets", len(targets))
	return targets, nil
}

// Translate translates text from source to target. Blank text is rejected
// without a network call; both codes must be in the supported target set.
func (c *Client) Translate(ctx context.Context, source, target, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", apperrors.New(apperrors.TranslationFailed, "translation text cannot be empty").
			WithMetadata(apperrors.KeyReason, apperrors.ReasonEmptyText).
			WithMetadata(apperrors.KeyLang, target)
	}

	targets, err := c.SupportedTargets(ctx)
	if err != nil {
		return "", err
	}
	for _, code := range []string{target, source} {
		if _, ok := targets[code]; !ok {
			return "", apperrors.Newf(apperrors.UnsupportedLanguage, "unsupported language: %s", code).
				WithMetadata(apperrors.KeyLang, code)
		}
	}

	body, err := json.Marshal(translateRequest{Source: source, Target: target, Q: text, APIKey: c.apiKey})
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.Internal, "encode translate request")
	}

	out, err := resilience.ExecuteWithResult(ctx, c.breaker, func() (string, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+translatePath, bytes.NewReader(body))
		if err != nil {
			return "", err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return "", err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return "", statusError(resp)
		}

		var tr translateResponse
		if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
			return "", apperrors.Wrap(err, apperrors.TranslationFailed, "decode translate response").
				WithMetadata(apperrors.KeyReason, apperrors.ReasonParseFailure)
		}
		if tr.TranslatedText == nil {
			return "", apperrors.New(apperrors.TranslationFailed, "response has no translatedText").
				WithMetadata(apperrors.KeyReason, apperrors.ReasonParseFailure)
		}
		return *tr.TranslatedText, nil
	})
	if err != nil {
		e := providerError(err, "translate")
		if e.Metadata[apperrors.KeyLang] == "" {
			e.WithMetadata(apperrors.KeyLang, target)
		}
		return "", e
	}
	return out, nil
}

func statusError(resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return fmt.Errorf("libretranslate http %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
}

// providerError passes typed translation errors through and tags everything
// else as a provider failure.
func providerError(err error, msg string) *apperrors.AppError {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) && appErr.Code == apperrors.TranslationFailed {
		return appErr
	}
	return apperrors.Wrap(err, apperrors.TranslationFailed, msg).
		WithMetadata(apperrors.KeyReason, apperrors.ReasonProviderFailure)
}

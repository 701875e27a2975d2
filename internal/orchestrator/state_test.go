package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	apperrors "github.com/GriffinCanCode/polyglot/internal/errors"
)

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{Idle, "idle"},
		{Recording, "recording"},
		{Transcribing, "transcribing"},
		{Translating, "translating"},
		{Synthesizing, "synthesizing"},
		{Done, "done"},
		{EarlyExit, "early_exit"},
		{Failed, "failed"},
		{State(42), "state(42)"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}

func TestStateJSON(t *testing.T) {
	b, err := json.Marshal(Status{State: Synthesizing})
	if err != nil {
		t.Fatal(err)
	}
	var out map[string]any
	_ = json.Unmarshal(b, &out)
	if out["state"] != "synthesizing" {
		t.Errorf("state = %v, want synthesizing", out["state"])
	}

	for s := Idle; s <= Failed; s++ {
		b, err := json.Marshal(Status{RunID: "r", State: s})
		if err != nil {
			t.Fatal(err)
		}
		var back Status
		if err := json.Unmarshal(b, &back); err != nil {
			t.Fatalf("Unmarshal(%s) error = %v", b, err)
		}
		if back.State != s {
			t.Errorf("round trip = %v, want %v", back.State, s)
		}
	}

	var bad Status
	if err := json.Unmarshal([]byte(`{"state":"paused"}`), &bad); err == nil {
		t.Error("Unmarshal(unknown state) error = nil")
	}
}

func TestTransitions(t *testing.T) {
	tests := []struct {
		from, to State
		ok       bool
	}{
		{Idle, Recording, true},
		{Recording, Transcribing, true},
		{Transcribing, Translating, true},
		{Translating, Synthesizing, true},
		{Synthesizing, Done, true},
		{Transcribing, EarlyExit, true},
		{Idle, Translating, true},
		{Recording, Failed, true},
		{Synthesizing, Failed, true},
		{Recording, Translating, false},
		{Translating, EarlyExit, false},
		{Done, Failed, false},
		{Failed, Recording, false},
		{EarlyExit, Translating, false},
	}
	for _, tt := range tests {
		if got := canTransition(tt.from, tt.to); got != tt.ok {
			t.Errorf("canTransition(%v, %v) = %v, want %v", tt.from, tt.to, got, tt.ok)
		}
	}
	for _, s := range []State{Done, EarlyExit, Failed} {
		if !s.Terminal() {
			t.Errorf("%v should be terminal", s)
		}
	}
}

func TestFirstFailure(t *testing.T) {
	boom := errors.New("boom")
	cancelled := fmt.Errorf("wrapped: %w", context.Canceled)
	appCancelled := apperrors.Wrap(context.Canceled, apperrors.Cancelled, "stop")

	tests := []struct {
		name     string
		results  []Result[string]
		wantLang string
		wantOK   bool
	}{
		{"all ok", []Result[string]{{Lang: "a"}, {Lang: "b"}}, "", false},
		{"first in order", []Result[string]{{Lang: "a"}, {Lang: "b", Err: boom}, {Lang: "c", Err: boom}}, "b", true},
		{"root cause over cancellation", []Result[string]{{Lang: "a", Err: cancelled}, {Lang: "b", Err: boom}}, "b", true},
		{"app cancellation skipped", []Result[string]{{Lang: "a", Err: appCancelled}, {Lang: "c", Err: boom}}, "c", true},
		{"only cancellations", []Result[string]{{Lang: "a"}, {Lang: "b", Err: cancelled}, {Lang: "c", Err: cancelled}}, "b", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := firstFailure(tt.results)
			if ok != tt.wantOK || got.Lang != tt.wantLang {
				t.Errorf("firstFailure() = %q, %v; want %q, %v", got.Lang, ok, tt.wantLang, tt.wantOK)
			}
		})
	}
}

func TestStageErrorKeepsCode(t *testing.T) {
	unsupported := apperrors.New(apperrors.UnsupportedLanguage, "nope")
	err := stageError(unsupported, apperrors.TranslationFailed, Translating, "xx")
	if apperrors.CodeOf(err) != apperrors.UnsupportedLanguage {
		t.Errorf("CodeOf = %v, want UNSUPPORTED_LANGUAGE", apperrors.CodeOf(err))
	}

	err = stageError(errors.New("io"), apperrors.SynthesisFailed, Synthesizing, "de")
	if apperrors.CodeOf(err) != apperrors.SynthesisFailed {
		t.Errorf("CodeOf = %v, want SYNTHESIS_FAILED", apperrors.CodeOf(err))
	}
	if apperrors.Meta(err, apperrors.KeyStage) != "synthesizing" || apperrors.Meta(err, apperrors.KeyLang) != "de" {
		t.Errorf("metadata = %v", err)
	}
}

func TestStageFailure(t *testing.T) {
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	boom := errors.New("503")

	tests := []struct {
		name     string
		ctx      context.Context
		results  []Result[string]
		wantCode apperrors.Code
		wantLang string
	}{
		{"none", context.Background(), []Result[string]{{Lang: "a"}}, "", ""},
		{"provider failure", context.Background(), []Result[string]{{Lang: "a"}, {Lang: "b", Err: boom}}, apperrors.TranslationFailed, "b"},
		{"only cancellations", context.Background(), []Result[string]{{Lang: "a", Err: context.Canceled}}, apperrors.Cancelled, ""},
		{"run cancelled", cancelled, []Result[string]{{Lang: "a", Err: boom}}, apperrors.Cancelled, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := stageFailure(tt.ctx, tt.results, apperrors.TranslationFailed, Translating)
			if tt.wantCode == "" {
				if err != nil {
					t.Errorf("stageFailure() = %v, want nil", err)
				}
				return
			}
			if apperrors.CodeOf(err) != tt.wantCode {
				t.Errorf("CodeOf = %v, want %v", apperrors.CodeOf(err), tt.wantCode)
			}
			if got := apperrors.Meta(err, apperrors.KeyLang); got != tt.wantLang {
				t.Errorf("lang = %q, want %q", got, tt.wantLang)
			}
			if got := apperrors.Meta(err, apperrors.KeyStage); got != "translating" {
				t.Errorf("stage = %q, want translating", got)
			}
		})
	}
}

func TestOutputName(t *testing.T) {
	if got := OutputName("es"); got != "translated_audio_es" {
		t.Errorf("OutputName() = %q", got)
	}
}

func TestManualStop(t *testing.T) {
	s := NewManualStop()
	if s.Trigger() {
		t.Error("Trigger() with no waiter should report false")
	}

	done := make(chan error, 1)
	go func() { done <- s.Wait(context.Background()) }()
	for !s.Armed() {
		time.Sleep(time.Millisecond)
	}
	if !s.Trigger() {
		t.Error("Trigger() with a waiter should report true")
	}
	if err := <-done; err != nil {
		t.Errorf("Wait() = %v, want nil", err)
	}
	if s.Armed() {
		t.Error("signal should disarm after firing")
	}
}

func TestManualStopEarlyTriggerIgnored(t *testing.T) {
	s := NewManualStop()
	s.Trigger()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := s.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait() = %v, want deadline exceeded", err)
	}
	if s.Armed() {
		t.Error("abandoned wait should disarm")
	}
}

func TestAnyStop(t *testing.T) {
	a, b := NewManualStop(), NewManualStop()
	sig := AnyStop(a, b)

	done := make(chan error, 1)
	go func() { done <- sig.Wait(context.Background()) }()
	for !b.Armed() {
		time.Sleep(time.Millisecond)
	}
	b.Trigger()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Wait() = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("AnyStop did not fire")
	}

	deadline := time.Now().Add(time.Second)
	for a.Armed() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if a.Armed() {
		t.Error("other signals should be released")
	}
}

func TestAnyStopEmpty(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := AnyStop().Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Wait() = %v, want context.Canceled", err)
	}
}

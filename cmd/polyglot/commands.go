package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strconv"

	"github.com/mattn/go-isatty"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/GriffinCanCode/polyglot/internal/audio"
	"github.com/GriffinCanCode/polyglot/internal/config"
	"github.com/GriffinCanCode/polyglot/internal/metrics"
	"github.com/GriffinCanCode/polyglot/internal/orchestrator"
	"github.com/GriffinCanCode/polyglot/internal/orchestrator/events"
	"github.com/GriffinCanCode/polyglot/internal/resilience"
	"github.com/GriffinCanCode/polyglot/internal/server"
	"github.com/GriffinCanCode/polyglot/internal/synthesize"
	"github.com/GriffinCanCode/polyglot/internal/transcribe"
	"github.com/GriffinCanCode/polyglot/internal/translate"
)

var translateText string

var runCmd = &cobra.Command{
	Use:   "run [lang...]",
	Short: "Record until Enter, then translate and synthesize",
	Long: `Records from the microphone until Enter is pressed (or POST /api/recording/stop
when --serve is set), transcribes the recording, translates it into every
language, and writes translated_audio_<lang>.mp3 for each.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := cfg.RequireProviders(); err != nil {
			return err
		}
		return execute(cmd.Context(), cfg, true, func(ctx context.Context, a *app) (*orchestrator.Report, error) {
			fmt.Fprintln(os.Stderr, "Recording... press Enter to stop.")
			return a.pipeline.Run(ctx, languages(cfg, args))
		})
	},
}

var translateCmd = &cobra.Command{
	Use:   "translate --text TEXT [lang...]",
	Short: "Translate and synthesize a given transcript",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := cfg.RequireProviders(); err != nil {
			return err
		}
		return execute(cmd.Context(), cfg, false, func(ctx context.Context, a *app) (*orchestrator.Report, error) {
			return a.pipeline.RunTranscript(ctx, translateText, languages(cfg, args))
		})
	},
}

var languagesCmd = &cobra.Command{
	Use:   "languages",
	Short: "List languages the translation provider supports",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		client := translate.New(translate.Config{
			BaseURL: cfg.LibreTranslateURL,
			APIKey:  cfg.LibreTranslateAPIKey,
			Timeout: cfg.ProviderTimeout,
		})
		langs, err := client.Languages(cmd.Context())
		if err != nil {
			return err
		}
		sort.Slice(langs, func(i, j int) bool { return langs[i].Code < langs[j].Code })

		table := tablewriter.NewWriter(cmd.OutOrStdout())
		table.SetHeader([]string{"Code", "Name", "Targets"})
		table.SetBorder(false)
		table.SetCenterSeparator("|")
		table.SetColumnSeparator("|")
		table.SetRowSeparator("-")
		table.SetAutoWrapText(false)
		table.SetAutoFormatHeaders(true)

		for _, l := range langs {
			table.Append([]string{l.Code, l.Name, strconv.Itoa(len(l.Targets))})
		}
		table.Render()
		return nil
	},
}

// app holds the wired pipeline and its optional HTTP surface.
type app struct {
	pipeline *orchestrator.Pipeline
	stop     *orchestrator.ManualStop
	events   *events.Store
	metrics  *metrics.Metrics
}

// newApp wires the pipeline. The microphone and stdin are only touched when
// record is set.
func newApp(cfg *config.Config, record bool) *app {
	m := metrics.New()
	hook := func(name string, from, to resilience.State) {
		m.BreakerTransitions.WithLabelValues(name, to.String()).Inc()
		slog.Warn("provider circuit changed", "provider", name, "from", from, "to", to)
	}

	whisper := transcribe.NewWhisper(transcribe.Config{
		APIKey:   cfg.OpenAIAPIKey,
		BaseURL:  cfg.OpenAIBaseURL,
		Model:    cfg.WhisperModel,
		Language: cfg.SourceLanguage,
		Timeout:  cfg.ProviderTimeout,
		Breaker:  resilience.New(resilience.ProviderConfig("whisper")).WithHook(hook),
	})
	translator := translate.New(translate.Config{
		BaseURL: cfg.LibreTranslateURL,
		APIKey:  cfg.LibreTranslateAPIKey,
		Timeout: cfg.ProviderTimeout,
		Breaker: resilience.New(resilience.ProviderConfig("libretranslate")).WithHook(hook),
	})
	synth := synthesize.New(synthesize.Config{
		APIKey:    cfg.ElevenLabsAPIKey,
		VoiceID:   cfg.ElevenLabsVoiceID,
		ModelID:   cfg.ElevenLabsModel,
		OutputDir: cfg.OutputDir,
		Timeout:   cfg.ProviderTimeout,
		Breaker:   resilience.New(resilience.ProviderConfig("elevenlabs")).WithHook(hook),
	})

	manual := orchestrator.NewManualStop()
	store := events.NewStore(orchestrator.EventHistorySize, orchestrator.EventBufferSize)

	var (
		recorder orchestrator.Recorder
		stop     orchestrator.StopSignal
	)
	if record {
		recorder = audio.NewSession(audio.NewPortAudioDevice(nil), audio.SessionConfig{
			SampleRate:      cfg.SampleRate,
			FramesPerBuffer: cfg.FramesPerBuffer,
			StopTimeout:     cfg.StopTimeout,
		})
		stop = stopSignal(os.Stdin, manual, serve)
	}

	p := orchestrator.New(orchestrator.Config{
		SourceLanguage:         cfg.SourceLanguage,
		TranslationConcurrency: cfg.TranslationConcurrency,
		SynthesisConcurrency:   cfg.SynthesisConcurrency,
	}, orchestrator.Deps{
		Recorder:    recorder,
		Stop:        stop,
		Transcriber: whisper,
		Translator:  translator,
		Synthesizer: synth,
		Events:      store,
		Metrics:     m,
	})

	return &app{pipeline: p, stop: manual, events: store, metrics: m}
}

// execute runs fn and, with --serve, the HTTP server alongside it. The
// server is shut down once fn returns.
func execute(ctx context.Context, cfg *config.Config, record bool, fn func(context.Context, *app) (*orchestrator.Report, error)) error {
	a := newApp(cfg, record)

	g, gctx := errgroup.WithContext(ctx)
	srvCtx, stopServer := context.WithCancel(gctx)
	defer stopServer()

	if serve {
		srv := server.New(a.pipeline, a.stop, a.events, a.metrics.Handler())
		g.Go(func() error { return srv.Serve(srvCtx, cfg.HTTPAddr) })
	}

	var report *orchestrator.Report
	g.Go(func() error {
		defer stopServer()
		var err error
		report, err = fn(gctx, a)
		return err
	})

	err := g.Wait()
	printReport(report, cfg.OutputDir)
	return err
}

// stopSignal picks what ends a recording. A piped or closed stdin reads EOF
// at once, so with --serve it is left out and only the HTTP stop ends the
// recording.
func stopSignal(stdin *os.File, manual *orchestrator.ManualStop, serving bool) orchestrator.StopSignal {
	fd := stdin.Fd()
	interactive := isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
	switch {
	case serving && interactive:
		return orchestrator.AnyStop(audio.NewEnterStopSignal(stdin), manual)
	case serving:
		slog.Info("stdin is not a terminal; stop recording with POST /api/recording/stop")
		return manual
	default:
		return audio.NewEnterStopSignal(stdin)
	}
}

func printReport(r *orchestrator.Report, outputDir string) {
	if r == nil {
		return
	}
	out := os.Stdout
	fmt.Fprintf(out, "run %s: %s\n", r.RunID, r.State)
	if r.State == orchestrator.EarlyExit {
		fmt.Fprintln(out, "No speech detected.")
		return
	}
	if r.Transcript != "" {
		fmt.Fprintf(out, "transcript: %s\n", r.Transcript)
	}
	for _, o := range r.Outcomes {
		status := "ok"
		if o.Err != nil {
			status = o.Err.Error()
		}
		fmt.Fprintf(out, "  %-6s %q -> %s/%s%s (%s)\n", o.Lang, r.Translations[o.Lang], outputDir, o.OutputName, synthesize.Extension, status)
	}
}

func languages(cfg *config.Config, args []string) []string {
	if len(args) > 0 {
		return args
	}
	return append([]string(nil), cfg.TargetLanguages...)
}

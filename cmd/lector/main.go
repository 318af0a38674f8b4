package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/lectorlabs/lector-core/internal/audio"
	"github.com/lectorlabs/lector-core/internal/config"
	"github.com/lectorlabs/lector-core/internal/pipeline"
	"github.com/lectorlabs/lector-core/internal/protocol"
	"github.com/lectorlabs/lector-core/internal/runtime"
)

var version = "0.1.0-dev"

func main() {
	var (
		configPath   string
		inputPath    string
		outputPath   string
		mode         string
		title        string
		author       string
		instructions string
		showVersion  bool
	)

	flag.StringVar(&configPath, "config", "lector.yaml", "Path to configuration file")
	flag.StringVar(&inputPath, "in", "", "Input document (markdown or markup)")
	flag.StringVar(&outputPath, "out", "", "Output path (.wav for audio, text file for rewrite mode)")
	flag.StringVar(&mode, "mode", "full", "Run mode: full, rewrite, speech")
	flag.StringVar(&title, "title", "", "Document title for chapter and metadata stamping")
	flag.StringVar(&author, "author", "", "Author for metadata stamping")
	flag.StringVar(&instructions, "instructions", "", "Rewrite instructions passed to the transform service")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.Parse()

	if showVersion {
		fmt.Println(version)
		return
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if inputPath == "" {
		logger.Error("missing required -in flag")
		os.Exit(2)
	}
	document, err := os.ReadFile(inputPath)
	if err != nil {
		logger.Error("failed to read input", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	engine, err := runtime.Start(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to start engine", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer engine.Close(ctx)

	switch mode {
	case "full", "rewrite", "speech":
	default:
		logger.Error("unknown mode", slog.String("mode", mode))
		os.Exit(2)
	}

	if mode != "rewrite" && !strings.HasSuffix(outputPath, ".wav") {
		logger.Error("audio output path must end in .wav", slog.String("out", outputPath))
		os.Exit(2)
	}

	job := pipeline.Job{
		Document:     string(document),
		Instructions: instructions,
		Title:        title,
		Author:       author,
		OutputPath:   outputPath,
		RewriteOnly:  mode == "rewrite",
	}

	job.SpeechOnly = mode == "speech"
	handle := engine.Runner().Start(ctx, job)

	if err := engine.Store().BeginRun(ctx, handle.RunID(), title, outputPath); err != nil {
		logger.Warn("failed to journal run start", slog.String("error", err.Error()))
	}

	for p := range handle.Progress() {
		logger.Info("progress",
			slog.String("run_id", p.RunID),
			slog.String("stage", p.Stage),
			slog.String("state", string(p.State)),
			slog.Int("done", p.WindowsDone),
			slog.Int("total", p.WindowsTotal),
			slog.Int("retries", p.Retries))
	}

	result, err := handle.Wait()
	if err != nil {
		logger.Error("run failed", slog.String("error", err.Error()))
		announce(engine, result, true)
		os.Exit(1)
	}

	if mode == "rewrite" {
		if outputPath == "" {
			fmt.Println(result.Rewrite.Text)
		} else if err := os.WriteFile(outputPath, []byte(result.Rewrite.Text), 0o644); err != nil {
			logger.Error("failed to write output", slog.String("error", err.Error()))
			os.Exit(1)
		}
		report(result)
		return
	}

	announce(engine, result, false)
	report(result)
}

func announce(engine *runtime.Engine, result *pipeline.RunResult, failed bool) {
	if engine.Bus() == nil || result == nil {
		return
	}
	msg := protocol.RunCompleted{RunID: result.RunID, Failed: failed, At: time.Now()}
	if result.Speech != nil {
		msg.OutputPath = result.Speech.OutputPath
		msg.DurationSecs = result.Speech.Duration.Seconds()
		msg.BillableChars = result.Speech.Stats.BillableChars
		msg.CostUSD = result.Speech.Stats.CostUSD
	}
	engine.Bus().AnnounceCompletion(msg)
}

func report(result *pipeline.RunResult) {
	if result == nil {
		return
	}
	fmt.Fprintf(os.Stdout, "run %s complete\n", result.RunID)
	if result.Rewrite != nil {
		s := result.Rewrite.Stats
		fmt.Fprintf(os.Stdout, "  rewrite: %d/%d windows, %d retries, %d failed, %s\n",
			s.WindowsDone, s.WindowsTotal, s.Retries, len(s.Failures), s.Elapsed.Round(time.Millisecond))
	}
	if result.Speech != nil {
		s := result.Speech.Stats
		fmt.Fprintf(os.Stdout, "  speech: %d/%d windows, %d retries, %d failed, %s\n",
			s.WindowsDone, s.WindowsTotal, s.Retries, len(s.Failures), s.Elapsed.Round(time.Millisecond))
		fmt.Fprintf(os.Stdout, "  audio: %s, %d billable chars, $%.4f\n",
			audio.FormatDuration(result.Speech.Duration), s.BillableChars, s.CostUSD)
		if fi, err := os.Stat(result.Speech.OutputPath); err == nil {
			fmt.Fprintf(os.Stdout, "  output: %s (%s)\n", result.Speech.OutputPath, audio.FormatSize(fi.Size()))
		}
		for _, c := range result.Speech.Chapters {
			fmt.Fprintf(os.Stdout, "    %s %s\n", audio.FormatTimestamp(c.Start), c.Title)
		}
		for _, w := range s.Warnings {
			fmt.Fprintf(os.Stdout, "  warning: %s\n", w)
		}
	}
}

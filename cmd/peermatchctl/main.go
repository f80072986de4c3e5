package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/knoguchi/peermatch/internal/app"
	"github.com/knoguchi/peermatch/internal/config"
	"github.com/knoguchi/peermatch/internal/ingestion"
	"github.com/knoguchi/peermatch/internal/server"
	"github.com/urfave/cli/v2"
)

func main() {
	cliApp := &cli.App{
		Name:  "peermatchctl",
		Usage: "Operate the contact matching directory",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			{
				Name:   "seed",
				Usage:  "Register sample people in the directory",
				Action: seedCommand,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "programmers",
						Usage: "Number of software developer profiles",
						Value: 10,
					},
					&cli.IntFlag{
						Name:  "others",
						Usage: "Number of profiles from other professions",
						Value: 10,
					},
					&cli.Uint64Flag{
						Name:  "seed",
						Usage: "Random seed; 0 picks one from the clock",
					},
					&cli.StringFlag{
						Name:  "fixtures",
						Usage: "YAML file with name, profession and location pools",
					},
					&cli.IntFlag{
						Name:  "workers",
						Usage: "Concurrent registrations",
						Value: 4,
					},
				},
			},
			{
				Name:   "reembed",
				Usage:  "Recompute the embedding of every person",
				Action: reembedCommand,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "workers",
						Usage: "Concurrent embedding requests",
						Value: 4,
					},
					&cli.IntFlag{
						Name:  "max-retries",
						Usage: "Maximum attempts per person for transient failures",
						Value: 4,
					},
					&cli.DurationFlag{
						Name:  "retry-delay",
						Usage: "Base delay for exponential backoff",
						Value: 250 * time.Millisecond,
					},
				},
			},
			{
				Name:   "similar",
				Usage:  "Rank the directory against a description",
				Action: similarCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "query",
						Aliases:  []string{"q"},
						Usage:    "Free-text description of who to find",
						Required: true,
					},
				},
			},
			{
				Name:   "chat",
				Usage:  "Talk to the matching agent in the terminal",
				Action: chatCommand,
			},
			{
				Name:   "call",
				Usage:  "Place an outbound call that the agent answers",
				Action: callCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "to",
						Usage:    "Number to call",
						Required: true,
					},
				},
			},
			{
				Name:   "speak",
				Usage:  "Synthesize text to an audio file",
				Action: speakCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "text",
						Usage:    "Text to read",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "out",
						Usage: "Output file",
						Value: "speech.mp3",
					},
				},
			},
		},
	}

	if err := cliApp.Run(os.Args); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func setupLogger(c *cli.Context) error {
	var level slog.Level
	switch strings.ToLower(c.String("log-level")) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", c.String("log-level"))
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
	return nil
}

// open loads configuration from the environment and builds the service graph.
func open(c *cli.Context) (context.Context, *app.App, func(), error) {
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)

	cfg, err := config.Load()
	if err != nil {
		stop()
		return nil, nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	a, err := app.Build(ctx, cfg, slog.Default())
	if err != nil {
		stop()
		return nil, nil, nil, err
	}
	return ctx, a, func() {
		if err := a.Close(); err != nil {
			slog.Error("failed to release resources", "error", err)
		}
		stop()
	}, nil
}

func progressPrinter(label string, every int) func(ingestion.Progress) {
	return func(p ingestion.Progress) {
		if p.Done%every == 0 || p.Done == p.Total {
			fmt.Fprintf(os.Stderr, "%s: %d/%d done, %d failed (%s)\n", label, p.Done, p.Total, p.Failed, p.Elapsed.Round(time.Millisecond))
		}
	}
}

func printReport(r *ingestion.Report) error {
	fmt.Printf("total=%d succeeded=%d skipped=%d failed=%d elapsed=%s\n",
		r.Total, r.Succeeded, r.Skipped, len(r.Failures), r.Elapsed.Round(time.Millisecond))
	for _, f := range r.Failures {
		fmt.Printf("  %s: %v\n", f.Phone, f.Err)
	}
	if len(r.Failures) > 0 {
		return fmt.Errorf("%d of %d people failed", len(r.Failures), r.Total)
	}
	return nil
}

func seedCommand(c *cli.Context) error {
	if c.Int("programmers") < 0 || c.Int("others") < 0 {
		return errors.New("profile counts must not be negative")
	}
	pools, err := ingestion.LoadPools(c.String("fixtures"))
	if err != nil {
		return err
	}
	seed := c.Uint64("seed")
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	people := ingestion.NewGenerator(pools, seed).Sample(c.Int("programmers"), c.Int("others"))

	ctx, a, closeApp, err := open(c)
	if err != nil {
		return err
	}
	defer closeApp()

	pipeline, err := ingestion.NewPipeline(a.People,
		ingestion.WithPoolSize(c.Int("workers")),
		ingestion.WithProgress(progressPrinter("seed", 10)),
	)
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}
	defer pipeline.Release()

	report, err := pipeline.Seed(ctx, people)
	if err != nil {
		return err
	}
	return printReport(report)
}

func reembedCommand(c *cli.Context) error {
	if c.Int("max-retries") <= 0 {
		return errors.New("max-retries must be greater than 0")
	}

	ctx, a, closeApp, err := open(c)
	if err != nil {
		return err
	}
	defer closeApp()

	pipeline, err := ingestion.NewPipeline(a.People,
		ingestion.WithPoolSize(c.Int("workers")),
		ingestion.WithRetryPolicy(ingestion.RetryPolicy{
			MaxAttempts: c.Int("max-retries"),
			BaseDelay:   c.Duration("retry-delay"),
			MaxDelay:    5 * time.Second,
		}),
		ingestion.WithProgress(progressPrinter("reembed", 25)),
	)
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}
	defer pipeline.Release()

	report, err := pipeline.Reembed(ctx)
	if err != nil {
		return err
	}
	return printReport(report)
}

func similarCommand(c *cli.Context) error {
	ctx, a, closeApp, err := open(c)
	if err != nil {
		return err
	}
	defer closeApp()

	matches, err := a.Matcher.FindSimilar(ctx, c.String("query"))
	if err != nil {
		return err
	}
	if len(matches) == 0 {
		fmt.Println("no matches")
		return nil
	}
	for i, m := range matches {
		fmt.Printf("%d. %s (%s) score=%.3f similarity=%.2f%%\n", i+1, m.Name, m.PhoneNumber, m.Score, m.SimilarityPercent)
		fmt.Printf("   skills: %s\n   interests: %s\n   location: %s\n", m.Skills, m.Interests, m.Location)
	}
	return nil
}

func chatCommand(c *cli.Context) error {
	ctx, a, closeApp, err := open(c)
	if err != nil {
		return err
	}
	defer closeApp()

	callID := "cli-" + uuid.NewString()
	greeting, err := a.Agent.Start(ctx, callID)
	if err != nil {
		return err
	}
	defer a.Agent.End(context.Background(), callID)

	fmt.Printf("%s: %s\n", a.Agent.Name(), greeting)
	in := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !in.Scan() {
			fmt.Println()
			return in.Err()
		}
		text := strings.TrimSpace(in.Text())
		if text == "" {
			continue
		}
		if text == "/quit" {
			return nil
		}

		stream, err := a.Agent.RespondStream(ctx, callID, text)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			continue
		}
		fmt.Printf("%s: ", a.Agent.Name())
		for chunk := range stream {
			if chunk.Error != nil {
				fmt.Fprintf(os.Stderr, "\nerror: %v", chunk.Error)
				break
			}
			fmt.Print(chunk.Token)
		}
		fmt.Println()
		if ctx.Err() != nil {
			return nil
		}
	}
}

func callCommand(c *cli.Context) error {
	ctx, a, closeApp, err := open(c)
	if err != nil {
		return err
	}
	defer closeApp()

	if a.Calls == nil {
		return errors.New("telephony is not configured: set VONAGE_APPLICATION_ID and VONAGE_PRIVATE_KEY_PATH")
	}
	if a.Config.PublicURL == "" {
		return errors.New("PUBLIC_URL is required so the provider can reach the webhooks")
	}

	answer, event := server.CallbackURLs(a.Config.PublicURL)
	res, err := a.Calls.CreateCall(ctx, c.String("to"), answer, event)
	if err != nil {
		return fmt.Errorf("failed to create call: %w", err)
	}
	fmt.Printf("call %s %s (conversation %s)\n", res.UUID, res.Status, res.ConversationUUID)
	return nil
}

func speakCommand(c *cli.Context) error {
	ctx, a, closeApp, err := open(c)
	if err != nil {
		return err
	}
	defer closeApp()

	if a.Speech == nil {
		return errors.New("text-to-speech is not configured: set ELEVENLABS_API_KEY")
	}
	audio, err := a.Speech.Synthesize(ctx, c.String("text"))
	if err != nil {
		return err
	}
	if err := os.WriteFile(c.String("out"), audio, 0o644); err != nil {
		return fmt.Errorf("failed to write audio: %w", err)
	}
	fmt.Printf("wrote %d bytes to %s\n", len(audio), c.String("out"))
	return nil
}

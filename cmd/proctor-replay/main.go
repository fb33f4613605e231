package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/client"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/logger"
	"github.com/stemsi/exstem-proctor/internal/replay"
)

type scenarioList []string

func (s *scenarioList) String() string { return strings.Join(*s, ",") }

func (s *scenarioList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	var (
		scenarios scenarioList
		baseURL   string
		email     string
		password  string
		timeout   time.Duration
	)
	flag.Var(&scenarios, "scenario", "Scenario file (repeatable)")
	flag.StringVar(&baseURL, "base-url", cfg.APIBaseURL, "Test API base URL")
	flag.StringVar(&email, "email", "", "Candidate email; API_TOKEN is used when empty")
	flag.StringVar(&password, "password", os.Getenv("API_PASSWORD"), "Candidate password")
	flag.DurationVar(&timeout, "http-timeout", 15*time.Second, "Per-request timeout")
	flag.Parse()
	scenarios = append(scenarios, flag.Args()...)

	if len(scenarios) == 0 {
		fmt.Fprintln(os.Stderr, "Usage: proctor-replay -scenario file.yaml [-scenario ...] [-email x -password y]")
		os.Exit(2)
	}

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ─── API Client ────────────────────────────────────────────────────
	tokens := &client.MemoryTokenStore{}
	tokens.SetToken(cfg.APIToken)
	api := client.New(client.Options{
		BaseURL: baseURL,
		Timeout: timeout,
		Tokens:  tokens,
		OnUnauthorized: func() {
			log.Error().Msg("Session token rejected; remaining calls will fail")
		},
		Log: log,
	})

	if email != "" {
		res, err := api.Login(ctx, email, password)
		if err != nil {
			log.Fatal().Err(err).Str("email", email).Msg("Login failed")
		}
		log.Info().Str("candidate", res.Candidate.Name).Msg("Logged in")
	} else if cfg.APIToken == "" {
		log.Fatal().Msg("Either -email or API_TOKEN is required")
	}

	// ─── Replay ────────────────────────────────────────────────────────
	failed := 0
	for _, path := range scenarios {
		if !runOne(ctx, path, api, log) {
			failed++
		}
		if ctx.Err() != nil {
			break
		}
	}

	fmt.Printf("\n%d/%d scenarios passed\n", len(scenarios)-failed, len(scenarios))
	if failed > 0 {
		os.Exit(1)
	}
}

func runOne(ctx context.Context, path string, api *client.Client, log zerolog.Logger) bool {
	sc, err := replay.Load(path)
	if err != nil {
		log.Error().Err(err).Str("file", path).Msg("Invalid scenario")
		return false
	}

	report, err := replay.Run(ctx, sc, api, log)
	if err != nil {
		log.Error().Err(err).Str("scenario", sc.Name).Msg("Replay aborted")
		fmt.Printf("FAIL  %s: %v\n", sc.Name, err)
		return false
	}

	verdict := "PASS"
	if !report.Passed() {
		verdict = "FAIL"
	}
	fmt.Printf("%s  %s  attempt=%s status=%s strikes=%d violations=%d steps=%d/%d warnings=%d\n",
		verdict, report.Scenario, report.AttemptID, report.Status, report.Strikes,
		len(report.Violations), report.StepsRun, len(sc.Steps), len(report.Commands.Warnings))
	for _, v := range report.Violations {
		fmt.Printf("      %s  %-8s %s\n", v.Timestamp.Format(time.TimeOnly), v.Severity, v.Description)
	}
	for _, m := range report.Mismatches {
		fmt.Printf("      ! %s\n", m)
	}
	return report.Passed()
}

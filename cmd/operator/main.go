package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/cloudfold/backup-operator/internal/config"
	"github.com/cloudfold/backup-operator/internal/logx"
	"github.com/cloudfold/backup-operator/internal/run"
	"github.com/cloudfold/backup-operator/internal/version"
)

// Test seams — overridden in unit tests. Keep signatures in sync with packages.
var (
	loadSettings    func() config.Settings                                = config.LoadSettings
	loadConfig      func(context.Context, string) (config.Config, error)  = config.Load
	newOrchestrator func(config.Config, bool) (*run.Orchestrator, error)  = run.New
	runBackups      func(context.Context, *run.Orchestrator) run.Report   = func(ctx context.Context, o *run.Orchestrator) run.Report { return o.Run(ctx) }
	exit            func(int)                                             = os.Exit
)

const usage = `
Usage:
  operator run [configPath]
  operator version | --version | -v
  operator help    | --help    | -h

Notes:
  - The config path can also be set with BACKUP_CONFIG_PATH.
  - Per-interface failures do not abort the run unless
    BACKUP_GRACEFUL_ERRORS=false.
`

// main wires CLI -> settings -> policy -> orchestrator.
// Exit codes: 0 success, 1 runtime error or failed run, 2 usage error.
func main() {
	_ = godotenv.Load() // best-effort
	logx.InitFromEnv()

	args := os.Args[1:]
	if len(args) < 1 {
		fmt.Print(usage)
		exit(2)
	}
	action := strings.ToLower(args[0])

	switch action {
	case "version", "--version", "-v":
		fmt.Printf("backup-operator %s\n", version.Info())
		exit(0)

	case "help", "--help", "-h":
		fmt.Print(usage)
		exit(0)

	case "run":
		set := loadSettings()
		path := pickArgOrEnv(2, "BACKUP_CONFIG_PATH", set.ConfigPath)
		if strings.TrimSpace(path) == "" {
			log.Error().Msg("no configuration file: pass a path or set BACKUP_CONFIG_PATH")
			fmt.Print(usage)
			exit(2)
		}

		ctx := withSignals(context.Background())

		cfg, err := loadConfig(ctx, path)
		if err != nil {
			log.Error().Err(err).Str("path", path).Msg("config error")
			exit(1)
		}
		if !cfg.Enabled {
			log.Info().Str("config", cfg.Name).Msg("backup is disabled for this configuration, nothing to do")
			exit(0)
		}

		o, err := newOrchestrator(cfg, set.GracefulErrors)
		if err != nil {
			log.Error().Err(err).Msg("orchestrator init error")
			exit(1)
		}

		rep := runBackups(ctx, o)
		report(rep)
		if rep.Failed() {
			exit(1)
		}

	default:
		fmt.Print(usage)
		exit(2)
	}
}

// report logs the per-interface outcome table and the overall status.
func report(rep run.Report) {
	for _, r := range rep.Results {
		ev := log.Info()
		if r.Status == run.StatusFailed {
			ev = log.Error().Err(r.Err)
		}
		ev.Str("interface", r.Interface).
			Str("status", string(r.Status)).
			Dur("elapsed_ms", r.Elapsed).
			Msg("interface result")
	}
	if rep.Failed() {
		log.Error().Msg("backup run finished with failures")
		return
	}
	log.Info().Msg("backup run OK")
}

func pickArgOrEnv(idx int, env string, def string) string {
	if len(os.Args) > idx && os.Args[idx] != "" {
		return os.Args[idx]
	}
	if v, ok := os.LookupEnv(env); ok && v != "" {
		return v
	}
	return def
}

func withSignals(parent context.Context) context.Context {
	ctx, cancel := context.WithCancel(parent)
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		<-ch
		cancel()
	}()
	return ctx
}

// Package main is the entry point for the fortknox server.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DanielWarg/fortknox/core"
	"github.com/DanielWarg/fortknox/core/guard"
	"github.com/DanielWarg/fortknox/core/jobs"
	"github.com/DanielWarg/fortknox/core/knox"
	"github.com/DanielWarg/fortknox/core/mask"
	"github.com/DanielWarg/fortknox/core/sanitize"
	"github.com/DanielWarg/fortknox/core/shred"
	"github.com/DanielWarg/fortknox/core/store"
	"github.com/DanielWarg/fortknox/core/transcribe"
	"github.com/DanielWarg/fortknox/core/vault"
	"github.com/DanielWarg/fortknox/server"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// run executes the CLI and returns the exit code. 0 = clean shutdown,
// 2 = startup or runtime error.
func run(args []string) int {
	fs := flag.NewFlagSet("fortknox", flag.ContinueOnError)
	var versionFlag bool
	fs.BoolVar(&versionFlag, "version", false, "print version and exit")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: fortknox [flags]\n\n")
		fmt.Fprintf(os.Stderr, "Starts the secure editorial workspace backend.\n")
		fmt.Fprintf(os.Stderr, "Configuration is read from the environment (see README).\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if versionFlag {
		fmt.Printf("fortknox %s (commit: %s, built: %s)\n", version, commit, date)
		return 0
	}

	cfg, err := core.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: loading configuration: %v\n", err)
		return 2
	}

	log, err := newLogger(cfg.Debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: building logger: %v\n", err)
		return 2
	}
	defer log.Sync()

	if err := serve(cfg, log); err != nil {
		log.Error("fatal", zap.Error(err))
		return 2
	}
	return 0
}

// newLogger selects the log configuration: development encoder under DEBUG,
// production JSON otherwise.
func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// serve wires the services and runs until SIGINT/SIGTERM.
func serve(cfg *core.Config, log *zap.Logger) error {
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer st.Close()

	v, err := vault.New(cfg.UploadDir)
	if err != nil {
		return err
	}

	// DEBUG runs the guard in strict mode: a forbidden metadata key is a
	// bug and should fail loudly in development. Production drops and
	// counts instead.
	guardMode := guard.ModePermissive
	if cfg.Debug {
		guardMode = guard.ModeStrict
	}
	g := guard.New(guard.Options{Mode: guardMode})

	san := sanitize.NewService(mask.NewRegistry(), st, v, g, log)

	refiner, err := transcribe.NewRefiner(cfg.RefineRules, log)
	if err != nil {
		return err
	}
	var sttEngine transcribe.Engine
	if cfg.TestMode {
		sttEngine = &transcribe.StaticEngine{}
	} else {
		sttEngine = transcribe.NewHTTPEngine(cfg.STTEngine, cfg.STTURL)
	}
	trans := transcribe.NewService(sttEngine, refiner, san, st, v, g, log)

	var knoxEngine knox.Engine
	switch {
	case cfg.TestMode:
		knoxEngine = knox.NewFixtureEngine()
	case cfg.Offline:
		knoxEngine = nil
	default:
		knoxEngine = knox.NewClient("fortknox-remote", cfg.RemoteURL, cfg.RemoteAPIKey, cfg.Timeout)
	}
	orc := knox.NewOrchestrator(st, knoxEngine, cfg.RemoteModel, g, log)

	runner := jobs.NewRunner(st, cfg.Timeout, log)
	runner.Register(store.JobKnoxCompile, jobs.NewCompileHandler(orc))
	runner.Register(store.JobTranscribe, jobs.NewTranscribeHandler(trans))

	srv := server.New(cfg, server.Deps{
		Store:       st,
		Vault:       v,
		Guard:       g,
		Sanitizer:   san,
		Transcriber: trans,
		Knox:        orc,
		Shredder:    shred.NewService(st, v, g, log),
		Jobs:        runner,
	}, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gr, ctx := errgroup.WithContext(ctx)
	gr.Go(func() error {
		return runner.Run(ctx, cfg.Workers)
	})
	gr.Go(func() error {
		// Best-effort: a missing table file just means no hot reload.
		if err := refiner.Watch(ctx); err != nil && ctx.Err() == nil {
			log.Warn("refinement table watcher stopped", zap.Error(err))
		}
		return nil
	})
	gr.Go(func() error {
		err := srv.ListenAndServe()
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	})
	gr.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	log.Info("fortknox started",
		zap.String("version", version),
		zap.String("addr", cfg.Addr),
		zap.Bool("offline", cfg.Offline),
		zap.Bool("testmode", cfg.TestMode),
		zap.Int("workers", cfg.Workers))
	return gr.Wait()
}

package cli

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lazypower/thoughtloop/internal/contam"
	"github.com/lazypower/thoughtloop/internal/engine"
	"github.com/lazypower/thoughtloop/internal/eventlog"
	"github.com/lazypower/thoughtloop/internal/llm"
	"github.com/lazypower/thoughtloop/internal/metrics"
	"github.com/lazypower/thoughtloop/internal/schedule"
	"github.com/lazypower/thoughtloop/internal/server"
	"github.com/lazypower/thoughtloop/internal/session"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	servePort     int
	serveProtocol string
	serveAuto     bool
	serveResume   bool
	servePause    time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "listen port (overrides config)")
	serveCmd.Flags().StringVar(&serveProtocol, "protocol", "", "activate an experiment protocol")
	serveCmd.Flags().BoolVar(&serveAuto, "auto", false, "start the engine and step it continuously")
	serveCmd.Flags().BoolVar(&serveResume, "resume", false, "load the latest snapshot before serving")
	serveCmd.Flags().DurationVar(&servePause, "pause", 2*time.Second, "delay between automatic cycles")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if servePort > 0 {
		cfg.Server.Port = servePort
	}

	db, dbPath, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	snaps, err := openSnapshots(cfg, db)
	if err != nil {
		return err
	}

	log, err := eventlog.Open(cfg.Paths.LogDir, "")
	if err != nil {
		return fmt.Errorf("open event log: %w", err)
	}
	defer log.Close()

	// A missing backend leaves the server up; cycles fail until it is fixed.
	var client llm.Client
	if c, err := llm.NewClient(cfg.LLM, cfg.Paths.LibraryDir); err != nil {
		fmt.Fprintf(os.Stderr, "warning: backend not available (%v), cycles disabled\n", err)
	} else {
		client = c
		fmt.Fprintf(os.Stderr, "  llm: %s (%s)\n", cfg.LLM.Provider, cfg.LLM.Model)
	}

	m := metrics.New()
	eng := engine.New(engine.OptionsFromConfig(cfg), engine.Deps{
		Client:    client,
		Scorer:    contam.New(contam.Markers(cfg.Scorer.Markers)),
		Scheduler: schedule.New(schedule.NewRegistry(cfg.Protocols)),
		Snapshots: snaps,
		Log:       log,
		Logger:    logger,
		Metrics:   m,
		Runs:      db,
	})

	if serveProtocol != "" {
		if err := eng.SetProtocol(serveProtocol); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("set protocol: %w", err)
			}
			fmt.Fprintf(os.Stderr, "warning: protocol %s not activated (%v)\n", serveProtocol, err)
		} else {
			fmt.Fprintf(os.Stderr, "  protocol: %s\n", serveProtocol)
		}
	}
	if serveResume || cfg.Session.Resume {
		name, err := eng.ResumeLatest()
		switch {
		case errors.Is(err, session.ErrNotFound):
			fmt.Fprintln(os.Stderr, "  resume: no snapshot, starting fresh")
		case err != nil:
			return fmt.Errorf("resume: %w", err)
		default:
			fmt.Fprintf(os.Stderr, "  resumed: %s\n", name)
		}
	}

	srv := server.New(eng, m, logger, VersionString())
	addr := cfg.ListenAddr()
	httpServer := &http.Server{
		Addr:    addr,
		Handler: srv,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		fmt.Fprintf(os.Stderr, "thoughtloop serving on %s\n", addr)
		fmt.Fprintf(os.Stderr, "  db: %s\n", dbPath)
		fmt.Fprintf(os.Stderr, "  log: %s\n", log.Path())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})

	if serveAuto {
		if err := eng.Start(); err != nil {
			return fmt.Errorf("start engine: %w", err)
		}
		g.Go(func() error {
			return eng.RunLoop(gctx, servePause)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		fmt.Fprintln(os.Stderr, "\nshutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := httpServer.Shutdown(shutdownCtx)

		if eng.Alive() {
			if stopErr := eng.Stop(); stopErr != nil && !errors.Is(stopErr, engine.ErrNotRunning) {
				logger.Error("engine: stop", zap.Error(stopErr))
			}
		}
		return err
	})

	return g.Wait()
}

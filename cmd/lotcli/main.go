// Command lotcli extracts tax-lot details from a brokerage positions page.
// It attaches to a logged-in browser session over the DevTools protocol,
// walks every position through the lot-detail modal one at a time, and
// serves a local control API with a websocket event stream.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/chromedp/chromedp"
	"golang.org/x/sync/errgroup"

	"lotcli/internal/config"
	"lotcli/internal/extract"
	"lotcli/internal/infrastructure"
	"lotcli/internal/page"
	"lotcli/internal/store"
	httptransport "lotcli/internal/transport/http"
	ws "lotcli/internal/websocket"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "lotcli: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := infrastructure.InitializeLogger(cfg.Logging)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := infrastructure.InitializeTracing(ctx, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Error("tracing shutdown failed", slog.String("error", err.Error()))
		}
	}()

	bdb, db, err := store.OpenBadger(cfg.Store.DataDir)
	if err != nil {
		return err
	}
	defer bdb.Close()
	st := store.New(db)

	browserCtx, cancelBrowser, err := attachBrowser(ctx, cfg.Browser, logger)
	if err != nil {
		return err
	}
	defer cancelBrowser()
	browser := page.NewBrowser(browserCtx, logger)

	hub := ws.NewHub(logger)
	hub.Start()
	defer hub.Stop()
	notifier := ws.NewNotifier(hub, logger)

	machine := extract.NewMachine(browser, st, notifier, extract.Options{
		PositionsURLFragment: cfg.Extraction.PositionsURLFragment,
		Pace:                 cfg.Extraction.Pace,
		RetryAttempts:        cfg.Extraction.RetryAttempts,
		RetryBaseDelay:       cfg.Extraction.RetryBaseDelay,
		Timings: extract.Timings{
			MenuSettle:      cfg.Extraction.MenuSettle,
			MenuCloseSettle: cfg.Extraction.MenuCloseSettle,
			ModalSettle:     cfg.Extraction.ModalSettle,
			CloseSettle:     cfg.Extraction.CloseSettle,
		},
		Logger: logger,
	})

	// Pick up an interrupted run before accepting commands.
	resumeCtx, cancelResume := context.WithTimeout(ctx, cfg.Browser.AttachTimeout)
	if err := machine.Resume(resumeCtx); err != nil {
		logger.Warn("could not resume interrupted extraction", slog.String("error", err.Error()))
	}
	cancelResume()

	handler := httptransport.NewExtractionHandler(machine, st, hub, notifier, logger)
	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      httptransport.NewRouter(handler, logger),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("control server listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := machine.Stop(shutdownCtx); err != nil {
			logger.Error("could not stop extraction", slog.String("error", err.Error()))
		}
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// attachBrowser connects to the user's logged-in browser when a DevTools
// URL is configured, and launches a visible browser otherwise. The user
// logs in and navigates to the positions page themselves; the tool never
// handles credentials.
func attachBrowser(ctx context.Context, cfg config.BrowserConfig, logger *slog.Logger) (context.Context, context.CancelFunc, error) {
	var allocCtx context.Context
	var cancelAlloc context.CancelFunc

	if cfg.DevToolsURL != "" {
		logger.Info("attaching to running browser", slog.String("devtools_url", cfg.DevToolsURL))
		allocCtx, cancelAlloc = chromedp.NewRemoteAllocator(ctx, cfg.DevToolsURL)
	} else {
		logger.Info("launching browser")
		opts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", false),
		)
		allocCtx, cancelAlloc = chromedp.NewExecAllocator(ctx, opts...)
	}

	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(func(format string, args ...any) {
			logger.Debug(fmt.Sprintf(format, args...))
		}))

	cancel := func() {
		cancelBrowser()
		cancelAlloc()
	}
	return browserCtx, cancel, nil
}

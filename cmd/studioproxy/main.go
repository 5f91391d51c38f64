package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"studioproxy/internal/browser"
	"studioproxy/internal/config"
	"studioproxy/internal/httpapi"
	"studioproxy/internal/proxy"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "studioproxy",
		Short:         "OpenAI-compatible proxy in front of a single AI Studio browser session",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd())
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("studioproxy", version)
		},
	})
	return root
}

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func newServeCmd() *cobra.Command {
	var (
		cfgPath    string
		addr       string
		studioURL  string
		headless   bool
		cdpURL     string
		profileDir string
		model      string
		queueSize  int
		timeoutSec int
		gapMS      int
		logLevel   string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the proxy server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Config{}
			if cfgPath != "" {
				loaded, err := config.Load(cfgPath)
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
				cfg = loaded
			}
			// Flags given on the command line win over the file.
			fs := cmd.Flags()
			if fs.Changed("addr") || cfg.Addr == "" {
				cfg.Addr = addr
			}
			if fs.Changed("studio-url") || cfg.StudioURL == "" {
				cfg.StudioURL = studioURL
			}
			if fs.Changed("headless") {
				cfg.Headless = headless
			}
			if fs.Changed("cdp-url") {
				cfg.CDPURL = cdpURL
			}
			if fs.Changed("profile-dir") {
				cfg.ProfileDir = profileDir
			}
			if fs.Changed("default-model") || cfg.DefaultModel == "" {
				cfg.DefaultModel = model
			}
			if fs.Changed("queue-size") || cfg.QueueSize == 0 {
				cfg.QueueSize = queueSize
			}
			if fs.Changed("request-timeout-sec") {
				cfg.RequestTimeoutSec = timeoutSec
			}
			if fs.Changed("stream-gap-ms") {
				cfg.StreamGapMS = gapMS
			}
			if fs.Changed("log-level") || cfg.LogLevel == "" {
				cfg.LogLevel = logLevel
			}
			return serve(cfg)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&cfgPath, "config", "c", os.Getenv("STUDIOPROXY_CONFIG"), "path to config file (.yaml/.json/.toml)")
	f.StringVar(&addr, "addr", envOr("STUDIOPROXY_ADDR", ":8080"), "HTTP listen address")
	f.StringVar(&studioURL, "studio-url", envOr("STUDIOPROXY_URL", "https://aistudio.google.com/prompts/new_chat"), "AI Studio prompt URL")
	f.BoolVar(&headless, "headless", false, "run the browser headless")
	f.StringVar(&cdpURL, "cdp-url", os.Getenv("STUDIOPROXY_CDP_URL"), "attach to a running Chrome over CDP instead of launching")
	f.StringVar(&profileDir, "profile-dir", os.Getenv("STUDIOPROXY_PROFILE_DIR"), "persistent browser profile directory")
	f.StringVar(&model, "default-model", "", "model id used when a request omits one")
	f.IntVar(&queueSize, "queue-size", 32, "admission queue capacity")
	f.IntVar(&timeoutSec, "request-timeout-sec", 0, "per-request timeout in seconds (0 disables)")
	f.IntVar(&gapMS, "stream-gap-ms", 500, "minimum pause between back-to-back streaming requests")
	f.StringVar(&logLevel, "log-level", envOr("STUDIOPROXY_LOG_LEVEL", "info"), "log level: debug, info, warn, error")
	return cmd
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func serve(cfg config.Config) error {
	log := newLogger(cfg.LogLevel)

	sess, err := browser.New(browser.Config{
		StudioURL:  cfg.StudioURL,
		Headless:   cfg.Headless,
		CDPURL:     cfg.CDPURL,
		ProfileDir: cfg.ProfileDir,
	}, log.With().Str("component", "browser").Logger())
	if err != nil {
		return fmt.Errorf("start browser session: %w", err)
	}
	defer sess.Close()

	hub := httpapi.NewEventHub()
	p := proxy.New(sess, proxy.Config{
		QueueSize:      cfg.QueueSize,
		RequestTimeout: time.Duration(cfg.RequestTimeoutSec) * time.Second,
		StreamGap:      time.Duration(cfg.StreamGapMS) * time.Millisecond,
		DefaultModel:   cfg.DefaultModel,
	},
		proxy.WithLogger(log.With().Str("component", "proxy").Logger()),
		proxy.WithEventPublisher(hub),
	)

	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()
	go p.Run(baseCtx)

	httpapi.SetLogger(log.With().Str("component", "http").Logger())
	httpapi.SetBaseContext(baseCtx)
	if cfg.MaxBodyBytes > 0 {
		httpapi.SetMaxBodyBytes(cfg.MaxBodyBytes)
	}
	httpapi.SetCORSOptions(cfg.CORSEnabled, cfg.CORSOrigins, nil, nil)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpapi.NewMux(p, hub),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Addr).Str("studio_url", cfg.StudioURL).Msg("studioproxy listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	// Stop admitting, cancel in-flight work, then drain the HTTP server.
	p.Close()
	cancelBase()
	hub.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("graceful shutdown error")
	}
	return nil
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(os.Stderr).Level(lvl).With().Timestamp().Logger()
}

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/dkeye/One2Many/internal/adapters/http"
	"github.com/dkeye/One2Many/internal/adapters/kurento"
	"github.com/dkeye/One2Many/internal/adapters/rtc"
	sig "github.com/dkeye/One2Many/internal/adapters/signal"
	"github.com/dkeye/One2Many/internal/app/orch"
	"github.com/dkeye/One2Many/internal/config"
	"github.com/dkeye/One2Many/internal/core"
)

func setLogLevel(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}

func mediaConnector(cfg config.MediaConfig) core.MediaConnector {
	if cfg.Backend == config.BackendPion {
		wc := rtc.DefaultWebRTCConfig()
		if len(cfg.ICEServers) > 0 {
			wc.ICEServers = []webrtc.ICEServer{{URLs: cfg.ICEServers}}
		}
		return rtc.NewEngine(wc)
	}
	return kurento.Connector{}
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load(os.Args[1:], func(next *config.Config) {
		setLogLevel(next.LogLevel)
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	setLogLevel(cfg.LogLevel)

	o := orch.New(mediaConnector(cfg.Media), orch.Options{
		URI:           cfg.Media.WSURI,
		RecordsURI:    cfg.Media.RecordsURI,
		RecordExt:     cfg.Media.RecordExt,
		RecordProfile: cfg.Media.RecordProfile,
		CallTimeout:   cfg.Media.CallTimeout,
	})
	o.Notifier = sig.Notifier{}

	ctrl := sig.NewSignalWSController(o, sig.NewRateLimiter(cfg.Signal.RateLimit, cfg.Signal.RateInterval), sig.Options{
		SendBuffer: cfg.Signal.SendBuffer,
		ReadLimit:  cfg.ReadLimit,
		PingPeriod: cfg.PingPeriod,
	})

	r := router.SetupRouter(ctx, cfg, ctrl)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Str("backend", cfg.Media.Backend).Bool("tls", cfg.TLS.Enabled()).Msg("One2Many server started")
		var err error
		if cfg.TLS.Enabled() {
			err = srv.ListenAndServeTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	if err := o.Close(); err != nil {
		log.Error().Err(err).Msg("media client close")
	}
	log.Info().Msg("Server exited gracefully")
}

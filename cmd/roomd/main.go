package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/nestwork/liveroom/internal/adapters/http"
	"github.com/nestwork/liveroom/internal/app"
	"github.com/nestwork/liveroom/internal/config"
	"github.com/nestwork/liveroom/internal/domain"
)

func randomHex(n int) string {
	buf := make([]byte, n)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	// Human-friendly output for terminal; in production you may want JSON only.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("failed to load config")
	}

	var identity domain.Identity
	if cfg.Pubkey != "" && cfg.Secret != "" {
		identity = domain.AccountIdentity(cfg.Pubkey, &app.DevSigner{Secret: cfg.Secret})
	} else {
		// Throwaway keypair: the daemon can still lurk in rooms and
		// broadcast presence without a configured account.
		identity = domain.AnonymousIdentity(randomHex(32), &app.DevSigner{Secret: randomHex(32)})
		log.Info().Str("pubkey", identity.Pubkey).Msg("no account configured, using anonymous identity")
	}

	engine := app.NewEngine(cfg, identity)
	defer engine.Close()

	r := router.SetupRouter(cfg, engine)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("liveroom daemon started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}

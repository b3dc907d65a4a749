// main.go - Confidential lending daemon.
//
// Assembles one deployment from the configuration: an engine, the ledgers,
// the Pool with its supported collateral assets, the LP vault and the
// Batcher, then serves the HTTP API until interrupted.
//
// Usage:
//   lendingd -config lendingd.toml
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"confidlend/internal/api"
	"confidlend/internal/batcher"
	"confidlend/internal/fhe"
	"confidlend/internal/ledger"
	"confidlend/internal/lp"
	"confidlend/internal/oracle"
	"confidlend/internal/pool"
)

const version = "0.2.0"

func main() {
	configPath := flag.String("config", "lendingd.toml", "path to the configuration file")
	flag.Parse()

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "lendingd: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "lendingd: invalid config: %v\n", err)
		os.Exit(1)
	}

	log, closeLog, err := newLogger(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "lendingd: %v\n", err)
		os.Exit(1)
	}
	defer closeLog()

	log.Info().Str("version", version).Bool("require_proofs", cfg.RequireProofs).Msg("starting")

	eng, err := buildEngine(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("engine setup failed")
	}

	srv, err := buildDeployment(cfg, eng, log)
	if err != nil {
		log.Fatal().Err(err).Msg("deployment setup failed")
	}

	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Msg("listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server stopped")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown failed")
	}
}

// buildEngine creates the confidential arithmetic engine. With proofs
// required, the input circuit is compiled and its keys are loaded or set up
// under the configured key directory.
func buildEngine(cfg *Config) (*fhe.Engine, error) {
	if !cfg.RequireProofs {
		return fhe.NewMockEngine(), nil
	}
	ccs, err := fhe.CompileInputCircuit()
	if err != nil {
		return nil, fmt.Errorf("input circuit compilation failed: %w", err)
	}
	pkPath := filepath.Join(cfg.KeyDir, "InputCircuit_pk.bin")
	vkPath := filepath.Join(cfg.KeyDir, "InputCircuit_vk.bin")
	_, vk, err := fhe.SetupOrLoadKeys(ccs, pkPath, vkPath)
	if err != nil {
		return nil, fmt.Errorf("input circuit key setup failed: %w", err)
	}
	return fhe.NewEngine(vk)
}

// buildDeployment wires the ledgers, Pool, LP and Batcher declared in the
// configuration into an API server.
func buildDeployment(cfg *Config, eng *fhe.Engine, log zerolog.Logger) (*api.Server, error) {
	owner := ledger.DeriveAddress(cfg.Owner)

	liquidity := ledger.New(eng, ledger.DeriveAddress("ledger/"+cfg.Liquidity.Symbol), owner, cfg.Liquidity.Name, cfg.Liquidity.Symbol)

	refFeed := oracle.NewStaticFeed(cfg.Reference.Decimals, cfg.Reference.Price)
	p := pool.New(eng, ledger.DeriveAddress("pool"), owner, ledger.DeriveAddress("ledger/"+cfg.Reference.Symbol), refFeed, "Pool Debt", "pDEBT")

	health := api.NewHealthChecker(version)
	health.Register("engine", func() error {
		h := eng.Encrypt64(1)
		v, err := eng.Decrypt(h)
		if err != nil || v != 1 {
			return fmt.Errorf("engine roundtrip failed")
		}
		return nil
	})
	health.Register("oracle/"+cfg.Reference.Symbol, func() error {
		_, _, err := refFeed.LatestPrice()
		return err
	})

	tokens := []*ledger.Token{liquidity}
	for _, a := range cfg.Collateral {
		tok := ledger.New(eng, ledger.DeriveAddress("ledger/"+a.Symbol), owner, a.Name, a.Symbol)
		feed := oracle.NewStaticFeed(a.Decimals, a.Price)
		sink := ledger.DeriveAddress("sink/" + a.Symbol)
		if err := p.AddSupportedToken(owner, tok, feed, sink); err != nil {
			return nil, fmt.Errorf("collateral %s registration failed: %w", a.Symbol, err)
		}
		symbol := a.Symbol
		health.Register("oracle/"+symbol, func() error {
			_, _, err := feed.LatestPrice()
			return err
		})
		tokens = append(tokens, tok)
		log.Info().Str("symbol", symbol).Str("addr", string(tok.Addr())).Msg("collateral registered")
	}

	vault := lp.New(eng, ledger.DeriveAddress("lp"), liquidity, p, "Vault Share", "vSHARE")
	b, err := batcher.New(eng, ledger.DeriveAddress("batcher"), cfg.BatchSize, p, liquidity, vault)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	limiter := api.NewAccountRateLimiter(
		cfg.RateLimit.MaxTokens,
		cfg.RateLimit.RefillRate,
		time.Duration(cfg.RateLimit.RefillSeconds)*time.Second,
	)

	return api.NewServer(api.ServerConfig{
		Engine:       eng,
		Tokens:       tokens,
		Pool:         p,
		LP:           vault,
		Batcher:      b,
		Logger:       log,
		Registry:     registry,
		RateLimiter:  limiter,
		Health:       health,
		DebugDecrypt: cfg.DebugDecrypt,
	}), nil
}

package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/BookMeBot/book-me-bot/internal/bot"
	"github.com/BookMeBot/book-me-bot/internal/config"
	"github.com/BookMeBot/book-me-bot/internal/handler"
	"github.com/BookMeBot/book-me-bot/internal/metrics"
	"github.com/BookMeBot/book-me-bot/internal/platform/ratelimiter"
	"github.com/BookMeBot/book-me-bot/internal/service/booking"
	"github.com/BookMeBot/book-me-bot/internal/service/chain"
	"github.com/BookMeBot/book-me-bot/internal/service/events"
	"github.com/BookMeBot/book-me-bot/internal/service/history"
	"github.com/BookMeBot/book-me-bot/internal/service/retry"
	"github.com/BookMeBot/book-me-bot/internal/service/session"
	"github.com/BookMeBot/book-me-bot/internal/service/vault"
	"github.com/BookMeBot/book-me-bot/internal/service/wallet"
	"github.com/BookMeBot/book-me-bot/internal/store"
	"github.com/BookMeBot/book-me-bot/internal/transport/telegram"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)
	hub := events.NewHub()

	kv, err := store.NewRedisStore(ctx, store.RedisOptions{
		Addr:     cfg.Redis.Addr,
		Username: cfg.Redis.Username,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		log.Fatalf("failed to connect to redis: %v", err)
	}
	defer kv.Close()
	log.Printf("connected to redis at %s", cfg.Redis.Addr)

	vaultClient := vault.NewClient(vault.Config{
		BaseURL: cfg.Vault.BaseURL,
		Timeout: cfg.Vault.Timeout,
	})

	provOpts := wallet.Options{Secrets: vaultClient, UserSeed: cfg.Vault.UserSeed}
	if cfg.Chain.Enabled() {
		ethClient, err := ethclient.DialContext(ctx, cfg.Chain.RPCURL)
		if err != nil {
			log.Fatalf("failed to connect to %s: %v", cfg.Chain.RPCURL, err)
		}
		defer ethClient.Close()

		operator, err := chain.NewOperator(ethClient, cfg.Chain.FundingKey)
		if err != nil {
			log.Fatalf("failed to load funding account: %v", err)
		}
		log.Printf("funding account %s on %s", operator.Address().Hex(), cfg.Chain.RPCURL)

		if cfg.Chain.EnableFunding {
			provOpts.Funder = chain.NewFunder(operator)
		}
		if cfg.Chain.EnableBasenames {
			provOpts.Namer = chain.NewBasenameRegistrar(operator, chain.NewNameGenerator(nil), 0)
		}
	} else {
		log.Println("wallet funding and basename registration disabled")
	}

	provisioner, err := wallet.NewProvisioner(provOpts)
	if err != nil {
		log.Fatalf("failed to initialize wallet provisioner: %v", err)
	}

	sessions, err := session.NewService(session.Options{
		Repo:        store.NewSessions(kv),
		Vault:       vaultClient,
		Provisioner: provisioner,
		UserSeed:    cfg.Vault.UserSeed,
		Events:      hub,
		Metrics:     m,
	})
	if err != nil {
		log.Fatalf("failed to initialize session service: %v", err)
	}

	agent := booking.NewAgent(newExtractor(ctx, cfg), retry.DefaultPolicy(), m)

	tg, err := telegram.New(cfg.Telegram.Token, cfg.Telegram.Debug)
	if err != nil {
		log.Fatalf("failed to initialize telegram: %v", err)
	}

	dispatcher, err := bot.NewDispatcher(bot.Options{
		Sessions:     sessions,
		Sender:       tg,
		History:      history.NewStore(cfg.Bot.HistoryCapacity),
		Agent:        agent,
		Limiter:      ratelimiter.New(cfg.Bot.RateLimitRPS, cfg.Bot.RateLimitBurst, 10*time.Minute),
		Metrics:      m,
		HistoryLimit: cfg.Bot.HistoryLimit,
	})
	if err != nil {
		log.Fatalf("failed to initialize dispatcher: %v", err)
	}

	if cfg.Admin.JWTSecret == "" {
		log.Println("ADMIN_JWT_SECRET not set, operator API disabled")
	}
	router := handler.NewRouter(handler.Deps{
		Sessions:  sessions,
		Sender:    tg,
		Hub:       hub,
		Gatherer:  registry,
		JWTSecret: []byte(cfg.Admin.JWTSecret),
		StartedAt: time.Now(),
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("book-me-bot listening on %s", srv.Addr)
		return runServer(gctx, srv)
	})
	g.Go(func() error {
		log.Printf("polling telegram as @%s", tg.Username())
		if err := tg.Run(gctx, dispatcher); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	runErr := g.Wait()

	drainCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := dispatcher.Wait(drainCtx); err != nil {
		log.Printf("warning: in-flight events not finished: %v", err)
	}

	if runErr != nil {
		log.Fatalf("bot error: %v", runErr)
	}
	log.Println("shutdown complete")
}

func newExtractor(ctx context.Context, cfg *config.Config) booking.Extractor {
	if !cfg.AI.Enabled() {
		log.Println("Ark 凭证未配置，/sendhistory 将返回降级结果")
		return nil
	}
	chatModel, err := cfg.AI.NewChatModel(ctx)
	if err != nil {
		log.Printf("warning: failed to create chat model: %v", err)
		return nil
	}
	extractor, err := booking.NewLLMExtractor(ctx, chatModel, cfg.Bot.HistoryLimit)
	if err != nil {
		log.Printf("warning: failed to initialize booking extractor: %v", err)
		return nil
	}
	log.Println("booking extractor initialized")
	return extractor
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

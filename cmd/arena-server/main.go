package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/mkrph/quizarena/internal/battle"
	appcfg "github.com/mkrph/quizarena/internal/config"
	"github.com/mkrph/quizarena/internal/economy"
	"github.com/mkrph/quizarena/internal/httpapi"
	"github.com/mkrph/quizarena/internal/msgcat"
	"github.com/mkrph/quizarena/internal/obslog"
	"github.com/mkrph/quizarena/internal/question"
)

func main() {
	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = obslog.L().Sync() }()

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		obslog.L().Fatal("redis url parse error", zap.Error(err))
	}
	rdb := redis.NewClient(opts)
	pctx, pcancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := rdb.Ping(pctx).Err(); err != nil {
		pcancel()
		obslog.L().Fatal("redis ping error", zap.Error(err))
	}
	pcancel()
	defer func() { _ = rdb.Close() }()

	var ledger economy.Ledger
	if cfg.DatabaseURL != "" {
		pg, err := economy.NewPostgresLedger(cfg.DatabaseURL)
		if err != nil {
			obslog.L().Fatal("ledger init error", zap.Error(err))
		}
		defer func() { _ = pg.Close() }()
		ledger = pg
	} else {
		obslog.L().Warn("DATABASE_URL not set; using in-memory ledger (dev only)")
		ledger = economy.NewMemoryLedger()
	}

	var gen question.Generator
	if cfg.QuestionURL != "" {
		gen = question.NewClient(cfg.QuestionURL, question.WithTimeout(8*time.Second))
	} else {
		obslog.L().Warn("QUESTION_URL not set; using static question pool (dev only)")
		gen = question.NewStaticGenerator()
	}

	cat, err := msgcat.New()
	if err != nil {
		obslog.L().Fatal("message catalog error", zap.Error(err))
	}

	mgr := battle.NewManager(rdb, ledger, gen, battle.Settings{
		EntryFeeXP:      cfg.EntryFeeXP,
		StartingHP:      cfg.StartingHP,
		DamagePerRound:  cfg.DamagePerRound,
		MaxRounds:       cfg.MaxRounds,
		RoundTimeout:    cfg.RoundTimeout,
		CounterTimeout:  cfg.CounterTimeout,
		LockTTL:         cfg.LockTTL,
		ResultTTL:       cfg.ResultTTL,
		InviteTTL:       cfg.InviteTTL,
		RefundOnAbandon: cfg.RefundOnAbandon,
	})

	api := httpapi.NewServer(mgr, cat)
	apiSrv := &fasthttp.Server{
		Handler:      api.Handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	opsSrv := &http.Server{
		Addr:    cfg.OpsAddr,
		Handler: httpapi.NewOpsHandler(mgr),
	}

	go func() {
		obslog.L().Info("api listening", zap.String("addr", cfg.ListenAddr))
		if err := apiSrv.ListenAndServe(cfg.ListenAddr); err != nil {
			obslog.L().Fatal("api server error", zap.Error(err))
		}
	}()
	go func() {
		obslog.L().Info("ops listening", zap.String("addr", cfg.OpsAddr))
		if err := opsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			obslog.L().Fatal("ops server error", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	obslog.L().Info("shutting down")
	shctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := apiSrv.ShutdownWithContext(shctx); err != nil {
		obslog.L().Warn("api shutdown error", zap.Error(err))
	}
	if err := opsSrv.Shutdown(shctx); err != nil {
		obslog.L().Warn("ops shutdown error", zap.Error(err))
	}
}

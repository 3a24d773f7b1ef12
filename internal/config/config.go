package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type AppConfig struct {
	ListenAddr string
	OpsAddr    string

	RedisURL    string
	DatabaseURL string

	QuestionURL string

	EntryFeeXP    int
	StartingHP    int
	DamagePerRound int
	MaxRounds     int

	RoundTimeout   time.Duration
	CounterTimeout time.Duration
	LockTTL        time.Duration
	ResultTTL      time.Duration
	InviteTTL      time.Duration

	RefundOnAbandon bool
}

func Load() (*AppConfig, error) {
	// Optional .env for local runs; real deployments set the environment.
	_ = godotenv.Load()

	cfg := &AppConfig{
		ListenAddr:      ":8080",
		OpsAddr:         ":9090",
		EntryFeeXP:      10,
		StartingHP:      3,
		DamagePerRound:  1,
		MaxRounds:       10,
		RoundTimeout:    30 * time.Second,
		CounterTimeout:  90 * time.Second,
		LockTTL:         5 * time.Second,
		ResultTTL:       time.Hour,
		InviteTTL:       10 * time.Minute,
		RefundOnAbandon: true,
	}

	if v := strings.TrimSpace(os.Getenv("LISTEN_ADDR")); v != "" {
		cfg.ListenAddr = v
	}
	if v := strings.TrimSpace(os.Getenv("OPS_ADDR")); v != "" {
		cfg.OpsAddr = v
	}
	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	cfg.QuestionURL = strings.TrimSpace(os.Getenv("QUESTION_URL"))

	intEnv("ENTRY_FEE_XP", &cfg.EntryFeeXP)
	intEnv("STARTING_HP", &cfg.StartingHP)
	intEnv("DAMAGE_PER_ROUND", &cfg.DamagePerRound)
	intEnv("MAX_ROUNDS", &cfg.MaxRounds)

	msEnv("ROUND_TIMEOUT_MS", &cfg.RoundTimeout)
	msEnv("COUNTER_TIMEOUT_MS", &cfg.CounterTimeout)
	msEnv("LOCK_TTL_MS", &cfg.LockTTL)
	durEnv("RESULT_TTL", &cfg.ResultTTL)
	durEnv("INVITE_TTL", &cfg.InviteTTL)

	if v := strings.TrimSpace(os.Getenv("REFUND_ON_ABANDON")); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.RefundOnAbandon = b
		}
	}

	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.LockTTL >= cfg.RoundTimeout {
		return nil, errors.New("LOCK_TTL_MS must be below ROUND_TIMEOUT_MS")
	}

	return cfg, nil
}

func intEnv(key string, dst *int) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			*dst = n
		}
	}
}

func msEnv(key string, dst *time.Duration) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			*dst = time.Duration(n) * time.Millisecond
		}
	}
}

func durEnv(key string, dst *time.Duration) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			*dst = d
		}
	}
}

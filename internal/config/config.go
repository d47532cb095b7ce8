package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type APIConfig struct {
	Addr            string
	DatabaseURL     string
	SupabaseURL     string
	SupabaseAnonKey string
	AdminTokenHash  string
	TickEvery       time.Duration
	MarketMood      string
	MinListed       int
	BotCount        int
	StartupSeedPool bool
	DiscordToken    string
	DiscordChannel  string
	WhatsAppJID     string
}

type CLIConfig struct {
	APIBaseURL string
}

func LoadAPIFromEnv() (APIConfig, error) {
	addr := os.Getenv("PORT")
	if addr != "" {
		if !strings.HasPrefix(addr, ":") {
			addr = ":" + addr
		}
	} else {
		addr = envDefault("LANDLORD_API_ADDR", ":8080")
	}

	cfg := APIConfig{
		Addr:            addr,
		DatabaseURL:     strings.TrimSpace(os.Getenv("DATABASE_URL")),
		SupabaseURL:     strings.TrimRight(strings.TrimSpace(os.Getenv("SUPABASE_URL")), "/"),
		SupabaseAnonKey: strings.TrimSpace(os.Getenv("SUPABASE_ANON_KEY")),
		AdminTokenHash:  strings.TrimSpace(os.Getenv("LANDLORD_ADMIN_TOKEN_BCRYPT")),
		TickEvery:       envDurationDefault("LANDLORD_TICK_EVERY", time.Minute),
		MarketMood:      envMoodDefault(),
		MinListed:       envIntDefault("LANDLORD_MIN_LISTED", 12),
		BotCount:        envIntDefault("LANDLORD_BOTS", 6),
		StartupSeedPool: envBoolDefault("LANDLORD_STARTUP_SEED_POOL", true),
		DiscordToken:    strings.TrimSpace(os.Getenv("DISCORD_BOT_TOKEN")),
		DiscordChannel:  strings.TrimSpace(os.Getenv("DISCORD_CHANNEL_ID")),
		WhatsAppJID:     strings.TrimSpace(os.Getenv("WHATSAPP_JID")),
	}
	if cfg.DatabaseURL == "" {
		return cfg, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.SupabaseURL == "" {
		return cfg, fmt.Errorf("SUPABASE_URL is required")
	}
	if cfg.SupabaseAnonKey == "" {
		return cfg, fmt.Errorf("SUPABASE_ANON_KEY is required")
	}
	return cfg, nil
}

func LoadCLIFromEnv() CLIConfig {
	return CLIConfig{
		APIBaseURL: strings.TrimRight(envDefault("LORD_API_BASE_URL", "http://localhost:8080"), "/"),
	}
}

func envDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envDurationDefault(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func envIntDefault(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envBoolDefault(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envMoodDefault() string {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("MOOD")))
	if v == "" {
		v = strings.ToLower(strings.TrimSpace(os.Getenv("LANDLORD_MARKET_MOOD")))
	}
	switch v {
	case "calm", "steady", "wild":
		return v
	default:
		return "steady"
	}
}

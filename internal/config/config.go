// Package config loads server configuration from defaults, an optional YAML
// file and the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Addr       string
	CORSOrigin string
	// DatabaseURL selects the Postgres store. When empty, documents are kept
	// in memory.
	DatabaseURL      string
	DatabaseMaxConns int
	MigrationsDir    string
	SnapshotsDir     string
	RedisURL         string
	InviteTTL        time.Duration

	MeiliURL       string
	MeiliMasterKey string

	// SMTP Configuration
	SMTPHost     string
	SMTPPort     string
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
	SMTPFromName string
	AppURL       string

	TokenSecret string
	TokenTTL    time.Duration

	LogLevel          string
	LogJSON           bool
	ApprovalsRequired int
	LockTimeout       time.Duration
}

// envNames lists the environment variables bound to each key. COAUTHOR_*
// names take precedence over the bare ones.
var envNames = map[string][]string{
	"addr":              {"COAUTHOR_ADDR", "API_ADDR"},
	"corsOrigin":        {"COAUTHOR_CORS_ORIGIN", "CORS_ORIGIN"},
	"databaseURL":       {"COAUTHOR_DATABASE_URL", "DATABASE_URL"},
	"databaseMaxConns":  {"COAUTHOR_DATABASE_MAX_CONNS"},
	"migrationsDir":     {"COAUTHOR_MIGRATIONS_DIR"},
	"snapshotsDir":      {"COAUTHOR_SNAPSHOTS_DIR"},
	"redisURL":          {"COAUTHOR_REDIS_URL", "REDIS_URL"},
	"inviteTTL":         {"COAUTHOR_INVITE_TTL"},
	"meiliURL":          {"COAUTHOR_MEILI_URL", "MEILI_URL"},
	"meiliMasterKey":    {"COAUTHOR_MEILI_MASTER_KEY", "MEILI_MASTER_KEY"},
	"smtp.host":         {"COAUTHOR_SMTP_HOST", "SMTP_HOST"},
	"smtp.port":         {"COAUTHOR_SMTP_PORT", "SMTP_PORT"},
	"smtp.username":     {"COAUTHOR_SMTP_USERNAME", "SMTP_USERNAME"},
	"smtp.password":     {"COAUTHOR_SMTP_PASSWORD", "SMTP_PASSWORD"},
	"smtp.from":         {"COAUTHOR_SMTP_FROM", "SMTP_FROM"},
	"smtp.fromName":     {"COAUTHOR_SMTP_FROM_NAME", "SMTP_FROM_NAME"},
	"appURL":            {"COAUTHOR_APP_URL"},
	"tokenSecret":       {"COAUTHOR_TOKEN_SECRET"},
	"tokenTTL":          {"COAUTHOR_TOKEN_TTL"},
	"logLevel":          {"COAUTHOR_LOG_LEVEL"},
	"logJSON":           {"COAUTHOR_LOG_JSON"},
	"approvalsRequired": {"COAUTHOR_APPROVALS_REQUIRED"},
	"lockTimeout":       {"COAUTHOR_LOCK_TIMEOUT"},
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("addr", ":8787")
	v.SetDefault("corsOrigin", "*")
	v.SetDefault("databaseURL", "")
	v.SetDefault("databaseMaxConns", 20)
	v.SetDefault("migrationsDir", "./db/migrations")
	v.SetDefault("snapshotsDir", "./data/snapshots")
	v.SetDefault("redisURL", "")
	v.SetDefault("inviteTTL", 7*24*time.Hour)
	v.SetDefault("meiliURL", "")
	v.SetDefault("meiliMasterKey", "")
	// SMTP - empty by default, email disabled if not configured
	v.SetDefault("smtp.host", "")
	v.SetDefault("smtp.port", "587")
	v.SetDefault("smtp.username", "")
	v.SetDefault("smtp.password", "")
	v.SetDefault("smtp.from", "")
	v.SetDefault("smtp.fromName", "Coauthor")
	v.SetDefault("appURL", "http://localhost:5173")
	v.SetDefault("tokenSecret", "coauthor-dev-secret")
	v.SetDefault("tokenTTL", 12*time.Hour)
	v.SetDefault("logLevel", "info")
	v.SetDefault("logJSON", false)
	v.SetDefault("approvalsRequired", 2)
	v.SetDefault("lockTimeout", 5*time.Second)
}

// Load reads configuration. configFile may be empty, in which case only
// defaults and the environment apply.
func Load(configFile string) (Config, error) {
	v := viper.New()
	setDefaults(v)
	for key, envs := range envNames {
		args := append([]string{key}, envs...)
		if err := v.BindEnv(args...); err != nil {
			return Config{}, fmt.Errorf("bind env %s: %w", key, err)
		}
	}
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", configFile, err)
		}
	}

	cfg := Config{
		Addr:              v.GetString("addr"),
		CORSOrigin:        v.GetString("corsOrigin"),
		DatabaseURL:       v.GetString("databaseURL"),
		DatabaseMaxConns:  v.GetInt("databaseMaxConns"),
		MigrationsDir:     v.GetString("migrationsDir"),
		SnapshotsDir:      v.GetString("snapshotsDir"),
		RedisURL:          v.GetString("redisURL"),
		InviteTTL:         v.GetDuration("inviteTTL"),
		MeiliURL:          v.GetString("meiliURL"),
		MeiliMasterKey:    v.GetString("meiliMasterKey"),
		SMTPHost:          v.GetString("smtp.host"),
		SMTPPort:          v.GetString("smtp.port"),
		SMTPUsername:      v.GetString("smtp.username"),
		SMTPPassword:      v.GetString("smtp.password"),
		SMTPFrom:          v.GetString("smtp.from"),
		SMTPFromName:      v.GetString("smtp.fromName"),
		AppURL:            v.GetString("appURL"),
		TokenSecret:       v.GetString("tokenSecret"),
		TokenTTL:          v.GetDuration("tokenTTL"),
		LogLevel:          strings.ToLower(v.GetString("logLevel")),
		LogJSON:           v.GetBool("logJSON"),
		ApprovalsRequired: v.GetInt("approvalsRequired"),
		LockTimeout:       v.GetDuration("lockTimeout"),
	}
	return cfg, cfg.Validate()
}

// Validate reports settings the server cannot start with.
func (c Config) Validate() error {
	var errs []error
	if c.Addr == "" {
		errs = append(errs, errors.New("addr is required"))
	}
	if c.DatabaseMaxConns < 1 {
		errs = append(errs, errors.New("databaseMaxConns must be at least 1"))
	}
	if c.SnapshotsDir == "" {
		errs = append(errs, errors.New("snapshotsDir is required"))
	}
	if c.TokenSecret == "" {
		errs = append(errs, errors.New("tokenSecret is required"))
	}
	if c.TokenTTL <= 0 {
		errs = append(errs, errors.New("tokenTTL must be positive"))
	}
	if c.ApprovalsRequired < 1 {
		errs = append(errs, errors.New("approvalsRequired must be at least 1"))
	}
	if c.LockTimeout <= 0 {
		errs = append(errs, errors.New("lockTimeout must be positive"))
	}
	return errors.Join(errs...)
}

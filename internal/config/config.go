// Package config はダッシュボードサーバーの設定を読み込む。
//
// 既定値、YAMLファイル、ECLIPSE_ で始まる環境変数の順に上書きする。
// カレントディレクトリに .env があれば環境変数として先に取り込む。
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/hnishizawa43-ctrl/eclipse-ai-y9/internal/notification"
)

// EnvPrefix は設定を上書きする環境変数の接頭辞。
const EnvPrefix = "ECLIPSE"

// Config はサーバー全体の設定。
type Config struct {
	Server     ServerConfig     `mapstructure:"server" yaml:"server"`
	Store      StoreConfig      `mapstructure:"store" yaml:"store"`
	Simulation SimulationConfig `mapstructure:"simulation" yaml:"simulation"`
	Audit      AuditConfig      `mapstructure:"audit" yaml:"audit"`
	Webhook    WebhookConfig    `mapstructure:"webhook" yaml:"webhook"`
	Logging    LoggingConfig    `mapstructure:"logging" yaml:"logging"`
}

// ServerConfig はHTTPサーバーの設定。
type ServerConfig struct {
	// Port はリッスンポート。
	Port string `mapstructure:"port" yaml:"port"`
	// FrontendURLs はCORSで許可するオリジン。"*" ですべて許可する。
	FrontendURLs []string `mapstructure:"frontend_urls" yaml:"frontend_urls"`
	// JWTSecret はJWT署名用の秘密鍵。
	JWTSecret string `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	// DevToken は開発用トークン発行エンドポイントを有効にするかどうか。
	DevToken bool `mapstructure:"dev_token" yaml:"dev_token"`
	// ShutdownTimeout はグレースフルシャットダウンの待ち時間。
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// StoreConfig は通知ストアの設定。
type StoreConfig struct {
	// Capacity はセッションごとの最大保持件数。
	Capacity int `mapstructure:"capacity" yaml:"capacity"`
	// SessionIdleTimeout はアクセスのないセッションを終了するまでの時間。0で無効。
	SessionIdleTimeout time.Duration `mapstructure:"session_idle_timeout" yaml:"session_idle_timeout"`
}

// SimulationConfig はシミュレーションエンジンの設定。
type SimulationConfig struct {
	Enabled       bool          `mapstructure:"enabled" yaml:"enabled"`
	MinDelay      time.Duration `mapstructure:"min_delay" yaml:"min_delay"`
	MaxDelay      time.Duration `mapstructure:"max_delay" yaml:"max_delay"`
	TemplatesPath string        `mapstructure:"templates_path" yaml:"templates_path"`
}

// AuditConfig は監査ログの設定。DSNが空の場合は記録しない。
type AuditConfig struct {
	DSN string `mapstructure:"dsn" yaml:"dsn"`
}

// WebhookConfig は通知転送の設定。URLが空の場合は転送しない。
type WebhookConfig struct {
	URL      string        `mapstructure:"url" yaml:"url"`
	Path     string        `mapstructure:"path" yaml:"path"`
	MinLevel string        `mapstructure:"min_level" yaml:"min_level"`
	Secret   string        `mapstructure:"secret" yaml:"secret"`
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// LoggingConfig はログ出力の設定。
type LoggingConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
	JSON  bool   `mapstructure:"json" yaml:"json"`
}

// defaults は設定キーごとの既定値。環境変数での上書きにもキーの登録が必要なため全キーを列挙する。
var defaults = map[string]any{
	"server.port":                "8080",
	"server.frontend_urls":       []string{"http://localhost:3000"},
	"server.jwt_secret":          "dev-secret-key",
	"server.dev_token":           true,
	"server.shutdown_timeout":    10 * time.Second,
	"store.capacity":             notification.DefaultCapacity,
	"store.session_idle_timeout": 30 * time.Minute,
	"simulation.enabled":         true,
	"simulation.min_delay":       notification.DefaultMinDelay,
	"simulation.max_delay":       notification.DefaultMaxDelay,
	"simulation.templates_path":  "",
	"audit.dsn":                  ":memory:",
	"webhook.url":                "",
	"webhook.path":               "/",
	"webhook.min_level":          string(notification.LevelCritical),
	"webhook.secret":             "",
	"webhook.timeout":            10 * time.Second,
	"logging.level":              "info",
	"logging.json":               false,
}

// Load は設定を読み込む。pathが空または存在しない場合は既定値と環境変数のみを使用する。
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf(".envの読み込みに失敗: %w", err)
	}

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("設定ファイル %s の読み込みに失敗: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("設定の解析に失敗: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate は設定値の整合性を検証する。
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return errors.New("server.port が空です")
	}
	if c.Server.JWTSecret == "" {
		return errors.New("server.jwt_secret が空です")
	}
	if c.Store.Capacity < 1 {
		return fmt.Errorf("store.capacity は1以上が必要です: %d", c.Store.Capacity)
	}
	if c.Store.SessionIdleTimeout < 0 {
		return fmt.Errorf("store.session_idle_timeout が負の値です: %s", c.Store.SessionIdleTimeout)
	}
	if c.Simulation.MinDelay <= 0 || c.Simulation.MaxDelay < c.Simulation.MinDelay {
		return fmt.Errorf("simulation の待ち時間が不正です: min=%s max=%s", c.Simulation.MinDelay, c.Simulation.MaxDelay)
	}
	if c.Webhook.URL != "" && !notification.Level(c.Webhook.MinLevel).Valid() {
		return fmt.Errorf("webhook.min_level が不正です: %q", c.Webhook.MinLevel)
	}
	return nil
}

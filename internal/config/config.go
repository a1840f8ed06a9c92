// Package config loads the service configuration from an optional YAML file
// overlaid with PIPEHUB_-prefixed environment variables.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Session  SessionConfig  `koanf:"session"`
	WeChat   WeChatConfig   `koanf:"wechat"`
	GitHub   GitHubConfig   `koanf:"github"`
}

type ServerConfig struct {
	Host string `koanf:"host"`
	Port int    `koanf:"port"`
	// Domain is the public base URL rendered into tenant callback URLs.
	Domain string `koanf:"domain"`
	// DomainWeb is where the browser is redirected after login.
	DomainWeb string `koanf:"domain_web"`
}

// Addr is the host:port the HTTP server binds.
func (c ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

type DatabaseConfig struct {
	Driver string `koanf:"driver"` // sqlite or memory
	DSN    string `koanf:"dsn"`
}

type SessionConfig struct {
	Secret string `koanf:"secret"`
	Secure bool   `koanf:"secure"`
}

type WeChatConfig struct {
	BaseURL string `koanf:"base_url"`
}

type GitHubConfig struct {
	ClientID     string `koanf:"client_id"`
	ClientSecret string `koanf:"client_secret"`
	RedirectURL  string `koanf:"redirect_url"`
	AuthURL      string `koanf:"auth_url"`
	TokenURL     string `koanf:"token_url"`
	APIURL       string `koanf:"api_url"`
}

// Load reads the YAML file named by PIPEHUB_CONFIG (if set), then overlays
// PIPEHUB_ environment variables; "__" in a variable name becomes a key
// separator, so PIPEHUB_SERVER__PORT sets server.port.
func Load() (*Config, error) {
	k := koanf.New(".")

	if path := os.Getenv("PIPEHUB_CONFIG"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("PIPEHUB_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "PIPEHUB_")), "__", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	defaults := map[string]any{
		"server.host":     "0.0.0.0",
		"server.port":     8080,
		"database.driver": "sqlite",
		"database.dsn":    "pipehub.db",
	}
	for key, val := range defaults {
		if !k.Exists(key) {
			k.Set(key, val)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Session.Secret == "" {
		return fmt.Errorf("session.secret is required")
	}
	switch c.Database.Driver {
	case "sqlite", "memory":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	return nil
}

// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package config contains the definition of the gqlgate configuration and
// the logic required to load it from a file and the environment.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/stacklok/gqlgate/pkg/session"
	"github.com/stacklok/gqlgate/pkg/storage"
)

// EnvPrefix prefixes every environment variable derived from a config key.
const EnvPrefix = "GQLGATE"

// Environment names.
const (
	EnvironmentDevelopment = "development"
	EnvironmentProduction  = "production"
)

const (
	defaultPort      = 7000
	defaultScopes    = "openid email profile"
	defaultSQLiteDSN = "gqlgate.db"
)

// Config is the complete gqlgate configuration.
type Config struct {
	Environment   string          `mapstructure:"environment" validate:"required,oneof=development test production staging qa"`
	ListenAddress string          `mapstructure:"listen_address"`
	Port          int             `mapstructure:"port" validate:"min=1,max=65535"`
	APIDomain     string          `mapstructure:"api_domain" validate:"omitempty,url"`
	EnableDocs    bool            `mapstructure:"enable_docs"`
	OIDC          OIDCConfig      `mapstructure:"oidc"`
	Keys          KeysConfig      `mapstructure:"keys"`
	Session       SessionConfig   `mapstructure:"session"`
	Cookie        CookieConfig    `mapstructure:"cookie"`
	Store         StoreConfig     `mapstructure:"store"`
	GraphQL       GraphQLConfig   `mapstructure:"graphql"`
	Telemetry     TelemetryConfig `mapstructure:"telemetry"`
}

// OIDCConfig identifies the trusted issuer and this client's registration.
type OIDCConfig struct {
	Issuer                string        `mapstructure:"issuer" validate:"required,url"`
	ClientID              string        `mapstructure:"client_id" validate:"required"`
	ClientSecret          string        `mapstructure:"client_secret" validate:"required"`
	RedirectURI           string        `mapstructure:"redirect_uri" validate:"required,url"`
	PostLogoutRedirectURI string        `mapstructure:"post_logout_redirect_uri" validate:"omitempty,url"`
	JWKSURL               string        `mapstructure:"jwks_url" validate:"omitempty,url"`
	Audience              string        `mapstructure:"audience"`
	Scopes                string        `mapstructure:"scopes"`
	Timeout               time.Duration `mapstructure:"timeout" validate:"gte=0"`
	CABundle              string        `mapstructure:"ca_bundle" validate:"omitempty,file"`
	AllowPrivateIPs       bool          `mapstructure:"allow_private_ips"`
	AllowHTTP             bool          `mapstructure:"allow_http"`
}

// ScopeList returns the space separated scopes as a slice.
func (c OIDCConfig) ScopeList() []string {
	return strings.Fields(c.Scopes)
}

// KeysConfig bounds the signing key cache.
type KeysConfig struct {
	MaxEntries int           `mapstructure:"max_entries" validate:"gte=1"`
	TTL        time.Duration `mapstructure:"ttl" validate:"gt=0"`
}

// SessionConfig configures the per-browser login flow storage.
type SessionConfig struct {
	Secret        string        `mapstructure:"secret" validate:"required"`
	Backend       string        `mapstructure:"backend" validate:"oneof=memory redis"`
	RedisAddress  string        `mapstructure:"redis_address" validate:"required_if=Backend redis"`
	RedisUsername string        `mapstructure:"redis_username"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db" validate:"gte=0"`
	FlowTTL       time.Duration `mapstructure:"flow_ttl" validate:"gt=0"`
}

// CookieConfig applies to the session and credential cookies.
type CookieConfig struct {
	Secure bool   `mapstructure:"secure"`
	Path   string `mapstructure:"path" validate:"startswith=/"`
	Domain string `mapstructure:"domain"`
}

// StoreConfig selects the user store.
type StoreConfig struct {
	Driver string `mapstructure:"driver" validate:"oneof=sqlite postgres"`
	DSN    string `mapstructure:"dsn" validate:"required"`
}

// GraphQLConfig points at the upstream GraphQL API. An empty endpoint disables the proxy.
type GraphQLConfig struct {
	Endpoint    string        `mapstructure:"endpoint" validate:"omitempty,url"`
	AdminSecret string        `mapstructure:"admin_secret"`
	Timeout     time.Duration `mapstructure:"timeout" validate:"gte=0"`
}

// TelemetryConfig configures trace export. An empty endpoint disables export.
type TelemetryConfig struct {
	OTLPEndpoint string            `mapstructure:"otlp_endpoint"`
	Insecure     bool              `mapstructure:"insecure"`
	SamplingRate float64           `mapstructure:"sampling_rate" validate:"gte=0,lte=1"`
	Headers      map[string]string `mapstructure:"headers"`
}

// IsProduction reports whether the configured environment is production.
func (c *Config) IsProduction() bool {
	return c.Environment == EnvironmentProduction
}

// envAliases maps config keys to the environment variable names the
// deployment already uses, in addition to the GQLGATE_ form.
var envAliases = map[string]string{
	"environment":                   "NODE_ENV",
	"port":                          "PORT",
	"api_domain":                    "API_DOMAIN",
	"oidc.issuer":                   "OPENID_CLIENT_PROVIDER_OIDC_ISSUER",
	"oidc.client_id":                "OPENID_CLIENT_REGISTRATION_LOGIN_CLIENT_ID",
	"oidc.client_secret":            "OPENID_CLIENT_REGISTRATION_LOGIN_CLIENT_SECRET",
	"oidc.redirect_uri":             "OPENID_CLIENT_REGISTRATION_LOGIN_REDIRECT_URI",
	"oidc.post_logout_redirect_uri": "OPENID_CLIENT_REGISTRATION_LOGIN_POST_LOGOUT_REDIRECT_URI",
	"oidc.jwks_url":                 "OPENID_CLIENT_PROVIDER_JWK_URL",
	"session.secret":                "SESSION_SECRET",
	"graphql.endpoint":              "HASURA_GRAPHQL_API_ENDPOINT",
	"graphql.admin_secret":          "HASURA_GRAPHQL_ADMIN_SECRET",
}

// defaults lists every key viper should know about. Keys must be known for
// Unmarshal to pick them up from the environment.
var defaults = map[string]any{
	"environment":                   EnvironmentDevelopment,
	"listen_address":                "",
	"port":                          defaultPort,
	"api_domain":                    "",
	"enable_docs":                   false,
	"oidc.issuer":                   "",
	"oidc.client_id":                "",
	"oidc.client_secret":            "",
	"oidc.redirect_uri":             "",
	"oidc.post_logout_redirect_uri": "",
	"oidc.jwks_url":                 "",
	"oidc.audience":                 "",
	"oidc.scopes":                   defaultScopes,
	"oidc.timeout":                  10 * time.Second,
	"oidc.ca_bundle":                "",
	"oidc.allow_private_ips":        true,
	"keys.max_entries":              5,
	"keys.ttl":                      10 * time.Minute,
	"session.secret":                "",
	"session.backend":               session.BackendMemory,
	"session.redis_address":         "",
	"session.redis_username":        "",
	"session.redis_password":        "",
	"session.redis_db":              0,
	"session.flow_ttl":              session.DefaultFlowTTL,
	"cookie.path":                   "/",
	"cookie.domain":                 "",
	"store.driver":                  storage.DriverSQLite,
	"store.dsn":                     "",
	"graphql.endpoint":              "",
	"graphql.admin_secret":          "",
	"graphql.timeout":               30 * time.Second,
	"telemetry.otlp_endpoint":       "",
	"telemetry.insecure":            false,
	"telemetry.sampling_rate":       0.05,
}

// keys whose default depends on the environment.
const (
	keyCookieSecure  = "cookie.secure"
	keyOIDCAllowHTTP = "oidc.allow_http"
)

// Load reads the configuration from the optional file at path and the
// environment. It does not validate; call Validate on the result.
func Load(v *viper.Viper, path string) (*Config, error) {
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, alias := range envAliases {
		if err := v.BindEnv(key, envName(key), alias); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}
	for _, key := range []string{keyCookieSecure, keyOIDCAllowHTTP} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}

	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":" + strconv.Itoa(cfg.Port)
	}
	if v.IsSet(keyCookieSecure) {
		cfg.Cookie.Secure = v.GetBool(keyCookieSecure)
	} else {
		cfg.Cookie.Secure = cfg.IsProduction()
	}
	if v.IsSet(keyOIDCAllowHTTP) {
		cfg.OIDC.AllowHTTP = v.GetBool(keyOIDCAllowHTTP)
	} else {
		cfg.OIDC.AllowHTTP = !cfg.IsProduction()
	}
	if cfg.Store.DSN == "" && cfg.Store.Driver == storage.DriverSQLite {
		cfg.Store.DSN = defaultSQLiteDSN
	}
	if cfg.OIDC.PostLogoutRedirectURI == "" && cfg.APIDomain != "" {
		cfg.OIDC.PostLogoutRedirectURI = strings.TrimSuffix(cfg.APIDomain, "/") + "/"
	}

	return cfg, nil
}

func envName(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

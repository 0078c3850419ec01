// Package config assembles runtime configuration from defaults, an
// optional YAML file, and environment overrides, in that order. Numeric
// values outside their sane range fall back to the default instead of
// clamping.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"bembel-site/textutil"
)

// Config is the full runtime configuration.
type Config struct {
	Host                 string `yaml:"host"`
	Port                 int    `yaml:"port"`
	TrustProxy           bool   `yaml:"trustProxy"`
	AllowedHosts         string `yaml:"allowedHosts"`
	MaxURLLength         int    `yaml:"maxUrlLength"`
	MaxContentLength     int    `yaml:"maxContentLength"`
	MaxConcurrentPerIP   int    `yaml:"maxConcurrentPerIp"`
	RequestTimeoutMs     int    `yaml:"requestTimeoutMs"`
	RateLimitWindowMs    int    `yaml:"rateLimitWindowMs"`
	RateLimitMaxRequests int    `yaml:"rateLimitMaxRequests"`
	RateLimitBlockMs     int    `yaml:"rateLimitBlockMs"`

	AdminToken     string `yaml:"adminToken"`
	AdminTokenHash string `yaml:"adminTokenHash"`
	HashSalt       string `yaml:"hashSalt"`

	LeadStoreFile        string `yaml:"leadStoreFile"`
	AutoReplyLogFile     string `yaml:"autoReplyLogFile"`
	MinFormFillMs        int    `yaml:"minFormFillMs"`
	MaxFormAgeMs         int    `yaml:"maxFormAgeMs"`
	FormLimitWindowMs    int    `yaml:"formLimitWindowMs"`
	FormLimitMaxRequests int    `yaml:"formLimitMaxRequests"`
	FormLimitBlockMs     int    `yaml:"formLimitBlockMs"`
	MaxLeadsStored       int    `yaml:"maxLeadsStored"`
	AutoReplyEnabled     bool   `yaml:"autoReplyEnabled"`
	AutoReplyFrom        string `yaml:"autoReplyFrom"`
	AutoReplyReplyTo     string `yaml:"autoReplyReplyTo"`
	AutoReplyWebhookURL  string `yaml:"autoReplyWebhookUrl"`
	BrevoAPIKey          string `yaml:"brevoApiKey"`

	RaceStoreFile       string `yaml:"raceStoreFile"`
	RaceHashSalt        string `yaml:"raceHashSalt"`
	RaceFeedMaxItems    int    `yaml:"raceFeedMaxItems"`
	ReactionWindowMs    int    `yaml:"reactionWindowMs"`
	ReactionMaxRequests int    `yaml:"reactionMaxRequests"`
	ReactionBlockMs     int    `yaml:"reactionBlockMs"`
	VoteWindowMs        int    `yaml:"voteWindowMs"`
	VoteMaxRequests     int    `yaml:"voteMaxRequests"`
	VoteBlockMs         int    `yaml:"voteBlockMs"`

	SessionTTLMs        int  `yaml:"sessionTtlMs"`
	SessionIdleMs       int  `yaml:"sessionIdleMs"`
	SessionMax          int  `yaml:"sessionMax"`
	SessionBindIdentity bool `yaml:"sessionBindIdentity"`
	SecureCookies       bool `yaml:"secureCookies"`
	LoginLimitWindowMs  int  `yaml:"loginLimitWindowMs"`
	LoginLimitMax       int  `yaml:"loginLimitMax"`
	LoginLimitBlockMs   int  `yaml:"loginLimitBlockMs"`
	AdminReadLimitMax   int  `yaml:"adminReadLimitMax"`
	AdminWriteLimitMax  int  `yaml:"adminWriteLimitMax"`
	AdminLimitWindowMs  int  `yaml:"adminLimitWindowMs"`
	AdminLimitBlockMs   int  `yaml:"adminLimitBlockMs"`

	MirrorBucket string `yaml:"mirrorBucket"`
}

// Defaults returns the configuration used when nothing is set.
func Defaults() Config {
	return Config{
		Host:                 "0.0.0.0",
		Port:                 8080,
		AllowedHosts:         "",
		MaxURLLength:         2048,
		MaxContentLength:     16_384,
		MaxConcurrentPerIP:   24,
		RequestTimeoutMs:     15_000,
		RateLimitWindowMs:    60_000,
		RateLimitMaxRequests: 180,
		RateLimitBlockMs:     10 * 60_000,

		HashSalt: "bembel-racing",

		LeadStoreFile:        "data/leads.json",
		AutoReplyLogFile:     "data/auto-replies.jsonl",
		MinFormFillMs:        2_000,
		MaxFormAgeMs:         86_400_000,
		FormLimitWindowMs:    900_000,
		FormLimitMaxRequests: 10,
		FormLimitBlockMs:     3_600_000,
		MaxLeadsStored:       5_000,
		AutoReplyEnabled:     true,
		AutoReplyFrom:        "noreply@bembelracingteam.de",
		AutoReplyReplyTo:     "kontakt@bembelracingteam.de",

		RaceStoreFile:       "data/race-center.json",
		RaceHashSalt:        "bembel-race",
		RaceFeedMaxItems:    600,
		ReactionWindowMs:    60_000,
		ReactionMaxRequests: 36,
		ReactionBlockMs:     10 * 60_000,
		VoteWindowMs:        60_000,
		VoteMaxRequests:     12,
		VoteBlockMs:         15 * 60_000,

		SessionTTLMs:        12 * 3_600_000,
		SessionIdleMs:       2 * 3_600_000,
		SessionMax:          64,
		SessionBindIdentity: true,
		SecureCookies:       true,
		LoginLimitWindowMs:  600_000,
		LoginLimitMax:       10,
		LoginLimitBlockMs:   1_800_000,
		AdminReadLimitMax:   240,
		AdminWriteLimitMax:  60,
		AdminLimitWindowMs:  60_000,
		AdminLimitBlockMs:   600_000,
	}
}

// Load builds the configuration: defaults, then the YAML file named by
// CONFIG_FILE (when present), then environment overrides.
func Load() (Config, error) {
	cfg := Defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

// applyEnv overlays environment variables. Unset variables leave the
// current value alone; malformed or out-of-range integers keep the
// default.
func (c *Config) applyEnv() {
	d := Defaults()

	envString(&c.Host, "HOST")
	envInt(&c.Port, "PORT", d.Port, 1, 65535)
	envBool(&c.TrustProxy, "TRUST_PROXY")
	envString(&c.AllowedHosts, "ALLOWED_HOSTS")
	envInt(&c.MaxURLLength, "MAX_URL_LENGTH", d.MaxURLLength, 256, 16_384)
	envInt(&c.MaxContentLength, "MAX_CONTENT_LENGTH", d.MaxContentLength, 0, 1024*1024)
	envInt(&c.MaxConcurrentPerIP, "MAX_CONCURRENT_REQUESTS_PER_IP", d.MaxConcurrentPerIP, 1, 1_000)
	envInt(&c.RequestTimeoutMs, "REQUEST_TIMEOUT_MS", d.RequestTimeoutMs, 1_000, 300_000)
	envInt(&c.RateLimitWindowMs, "RATE_LIMIT_WINDOW_MS", d.RateLimitWindowMs, 1_000, 3_600_000)
	envInt(&c.RateLimitMaxRequests, "RATE_LIMIT_MAX_REQUESTS", d.RateLimitMaxRequests, 1, 100_000)
	envInt(&c.RateLimitBlockMs, "RATE_LIMIT_BLOCK_MS", d.RateLimitBlockMs, 1_000, 86_400_000)

	envString(&c.AdminToken, "ADMIN_TOKEN")
	envString(&c.AdminTokenHash, "ADMIN_TOKEN_HASH")
	envString(&c.HashSalt, "LEAD_HASH_SALT")

	envString(&c.LeadStoreFile, "LEAD_STORE_FILE")
	envString(&c.AutoReplyLogFile, "AUTO_REPLY_LOG_FILE")
	envInt(&c.MinFormFillMs, "MIN_FORM_FILL_MS", d.MinFormFillMs, 0, 300_000)
	envInt(&c.MaxFormAgeMs, "MAX_FORM_AGE_MS", d.MaxFormAgeMs, 60_000, 30*86_400_000)
	envInt(&c.FormLimitWindowMs, "FORM_RATE_LIMIT_WINDOW_MS", d.FormLimitWindowMs, 10_000, 86_400_000)
	envInt(&c.FormLimitMaxRequests, "FORM_RATE_LIMIT_MAX_REQUESTS", d.FormLimitMaxRequests, 1, 500)
	envInt(&c.FormLimitBlockMs, "FORM_RATE_LIMIT_BLOCK_MS", d.FormLimitBlockMs, 10_000, 86_400_000)
	envInt(&c.MaxLeadsStored, "MAX_LEADS_STORED", d.MaxLeadsStored, 100, 200_000)
	envBoolDefaultTrue(&c.AutoReplyEnabled, "AUTO_REPLY_ENABLED")
	envString(&c.AutoReplyFrom, "AUTO_REPLY_FROM")
	envString(&c.AutoReplyReplyTo, "AUTO_REPLY_REPLY_TO")
	envString(&c.AutoReplyWebhookURL, "AUTO_REPLY_WEBHOOK_URL")
	envString(&c.BrevoAPIKey, "BREVO_API_KEY")

	envString(&c.RaceStoreFile, "RACE_STORE_FILE")
	if v := os.Getenv("RACE_HASH_SALT"); v != "" {
		c.RaceHashSalt = v
	} else if v := os.Getenv("LEAD_HASH_SALT"); v != "" {
		c.RaceHashSalt = v
	}
	envInt(&c.RaceFeedMaxItems, "RACE_FEED_MAX_ITEMS", d.RaceFeedMaxItems, 50, 5_000)
	envInt(&c.ReactionWindowMs, "RACE_REACTION_WINDOW_MS", d.ReactionWindowMs, 1_000, 3_600_000)
	envInt(&c.ReactionMaxRequests, "RACE_REACTION_MAX_REQUESTS", d.ReactionMaxRequests, 1, 1_000)
	envInt(&c.ReactionBlockMs, "RACE_REACTION_BLOCK_MS", d.ReactionBlockMs, 1_000, 86_400_000)
	envInt(&c.VoteWindowMs, "RACE_VOTE_WINDOW_MS", d.VoteWindowMs, 1_000, 3_600_000)
	envInt(&c.VoteMaxRequests, "RACE_VOTE_MAX_REQUESTS", d.VoteMaxRequests, 1, 1_000)
	envInt(&c.VoteBlockMs, "RACE_VOTE_BLOCK_MS", d.VoteBlockMs, 1_000, 86_400_000)

	envInt(&c.SessionTTLMs, "SESSION_TTL_MS", d.SessionTTLMs, 60_000, 7*86_400_000)
	envInt(&c.SessionIdleMs, "SESSION_IDLE_MS", d.SessionIdleMs, 60_000, 86_400_000)
	envInt(&c.SessionMax, "SESSION_MAX", d.SessionMax, 1, 10_000)
	envBoolDefaultTrue(&c.SessionBindIdentity, "SESSION_BIND_IDENTITY")
	envBoolDefaultTrue(&c.SecureCookies, "SECURE_COOKIES")
	envInt(&c.LoginLimitWindowMs, "LOGIN_RATE_LIMIT_WINDOW_MS", d.LoginLimitWindowMs, 10_000, 86_400_000)
	envInt(&c.LoginLimitMax, "LOGIN_RATE_LIMIT_MAX_REQUESTS", d.LoginLimitMax, 1, 500)
	envInt(&c.LoginLimitBlockMs, "LOGIN_RATE_LIMIT_BLOCK_MS", d.LoginLimitBlockMs, 10_000, 86_400_000)
	envInt(&c.AdminReadLimitMax, "ADMIN_READ_LIMIT_MAX", d.AdminReadLimitMax, 1, 10_000)
	envInt(&c.AdminWriteLimitMax, "ADMIN_WRITE_LIMIT_MAX", d.AdminWriteLimitMax, 1, 10_000)
	envInt(&c.AdminLimitWindowMs, "ADMIN_LIMIT_WINDOW_MS", d.AdminLimitWindowMs, 1_000, 3_600_000)
	envInt(&c.AdminLimitBlockMs, "ADMIN_LIMIT_BLOCK_MS", d.AdminLimitBlockMs, 1_000, 86_400_000)

	envString(&c.MirrorBucket, "MIRROR_BUCKET")
}

// AllowedHostList splits the comma-separated allowlist, trimmed and
// lowercased. Empty list means any host.
func (c *Config) AllowedHostList() []string {
	if strings.TrimSpace(c.AllowedHosts) == "" {
		return nil
	}
	var hosts []string
	for _, h := range strings.Split(c.AllowedHosts, ",") {
		h = strings.ToLower(strings.TrimSpace(h))
		if h != "" {
			hosts = append(hosts, h)
		}
	}
	return hosts
}

// Duration converts a millisecond field to a time.Duration.
func Duration(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

func envString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(dst *int, key string, fallback, minVal, maxVal int) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	*dst = textutil.BoundedInt(v, fallback, minVal, maxVal)
}

func envBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v == "true"
	}
}

// envBoolDefaultTrue treats anything except the literal "false" as on,
// matching the original deployment behavior.
func envBoolDefaultTrue(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v != "false"
	}
}

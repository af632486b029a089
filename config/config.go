package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dhcgn/mail-receiver/filter"
	"github.com/dhcgn/mail-receiver/locale"
	"github.com/dhcgn/mail-receiver/receiver"
	"github.com/dhcgn/mail-receiver/replykey"
)

// EnvPrefix prefixes environment variables that override flags, e.g.
// MAIL_RECEIVER_REPLY_ADDRESS for --reply-address.
const EnvPrefix = "MAIL_RECEIVER"

var ErrNoPassword = errors.New("IMAP password must be provided via --imap-pass, MAIL_RECEIVER_IMAP_PASS, IMAP_PASS or the keyring")

// Config captures every option of the receiver commands.
type Config struct {
	ReplyAddress       string
	SiteTitle          string
	Locale             string
	PreviousDiscussion string
	AllowNewTopics     bool
	CategoryID         int64
	MaxMessageBytes    int64

	Workers  int
	StateDir string
	Database string
	DryRun   bool
	Output   string

	MboxPath           string
	IMAPHost           string
	IMAPPort           int
	IMAPUser           string
	IMAPPass           string
	UseTLS             bool
	InsecureSkipVerify bool
	IMAPMailbox        string
	IMAPPeek           bool
	IMAPLimit          int
	Listen             string

	IncludeHeader   []string
	IncludeBody     []string
	ExcludeHeader   []string
	ExcludeBody     []string
	SkipAutoReplies bool

	LogLevel string
	LogDir   string
}

// RegisterFlags attaches the shared flags to cmd as persistent flags so
// every subcommand inherits them.
func RegisterFlags(cmd *cobra.Command) error {
	defaultStateDir, err := defaultStateDir()
	if err != nil {
		return err
	}

	flags := cmd.PersistentFlags()
	flags.String("config", "", "Optional YAML file with option values")
	flags.String("reply-address", "", "Reply address template containing %{reply_key}")
	flags.String("site-title", "", "Site title used in notification emails")
	flags.String("locale", locale.Default, "Locale of notification emails")
	flags.String("previous-discussion", "", "Heading of earlier replies in notifications (default from --locale)")
	flags.Bool("allow-new-topics", false, "Turn emails without a known reply key into new topics")
	flags.Int64("category-id", 0, "Category of new topics")
	flags.Int64("max-message-bytes", 0, "Reject raw emails larger than this (0 = unlimited)")

	flags.Int("workers", 4, "Number of concurrent workers")
	flags.String("state-dir", defaultStateDir, "Directory for processed-message state files")
	flags.String("database", "", "SQLite database for the processing log and email log (replaces --state-dir)")
	flags.Bool("dry-run", false, "Process messages without recording state or delivering")
	flags.String("output", "-", "File receiving one JSON delivery per line (- for stdout)")

	flags.String("imap-host", "", "IMAP server hostname")
	flags.Int("imap-port", 993, "IMAP server port")
	flags.String("imap-user", "", "IMAP username")
	flags.String("imap-pass", "", "IMAP password (falls back to IMAP_PASS env var and the keyring)")
	flags.Bool("use-tls", true, "Use TLS for the IMAP connection")
	flags.Bool("insecure-skip-verify", false, "Skip TLS certificate verification (not recommended)")
	flags.String("imap-mailbox", "INBOX", "IMAP mailbox polled for unseen messages")
	flags.Bool("imap-peek", false, "Leave fetched messages unseen")
	flags.Int("imap-limit", 0, "Fetch at most this many messages per poll (0 = all)")
	flags.String("listen", "127.0.0.1:6001", "Address of the RPC server")

	flags.StringArray("include-header", nil, "Regex allow-list applied to message headers (mutually exclusive with exclude flags)")
	flags.StringArray("include-body", nil, "Regex allow-list applied to message bodies (mutually exclusive with exclude flags)")
	flags.StringArray("exclude-header", nil, "Regex block-list applied to message headers (mutually exclusive with include flags)")
	flags.StringArray("exclude-body", nil, "Regex block-list applied to message bodies (mutually exclusive with include flags)")
	flags.Bool("skip-auto-replies", true, "Drop vacation replies, bounces and list traffic before processing")

	flags.String("log-level", "info", "Logging level: debug, info, warn, error")
	flags.String("log-dir", "", "Directory for log files (in addition to stderr)")

	return nil
}

// LoadConfig merges flags, MAIL_RECEIVER_* environment variables and the
// optional --config file, in that order of precedence, and validates the
// result.
func LoadConfig(cmd *cobra.Command) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return Config{}, fmt.Errorf("binding flags: %w", err)
	}

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg := Config{
		ReplyAddress:       strings.TrimSpace(v.GetString("reply-address")),
		SiteTitle:          v.GetString("site-title"),
		Locale:             v.GetString("locale"),
		PreviousDiscussion: v.GetString("previous-discussion"),
		AllowNewTopics:     v.GetBool("allow-new-topics"),
		CategoryID:         v.GetInt64("category-id"),
		MaxMessageBytes:    v.GetInt64("max-message-bytes"),

		Workers:  v.GetInt("workers"),
		StateDir: v.GetString("state-dir"),
		Database: v.GetString("database"),
		DryRun:   v.GetBool("dry-run"),
		Output:   v.GetString("output"),

		MboxPath:           v.GetString("mbox"),
		IMAPHost:           v.GetString("imap-host"),
		IMAPPort:           v.GetInt("imap-port"),
		IMAPUser:           v.GetString("imap-user"),
		IMAPPass:           v.GetString("imap-pass"),
		UseTLS:             v.GetBool("use-tls"),
		InsecureSkipVerify: v.GetBool("insecure-skip-verify"),
		IMAPMailbox:        v.GetString("imap-mailbox"),
		IMAPPeek:           v.GetBool("imap-peek"),
		IMAPLimit:          v.GetInt("imap-limit"),
		Listen:             v.GetString("listen"),

		IncludeHeader:   v.GetStringSlice("include-header"),
		IncludeBody:     v.GetStringSlice("include-body"),
		ExcludeHeader:   v.GetStringSlice("exclude-header"),
		ExcludeBody:     v.GetStringSlice("exclude-body"),
		SkipAutoReplies: v.GetBool("skip-auto-replies"),

		LogLevel: v.GetString("log-level"),
		LogDir:   v.GetString("log-dir"),
	}

	if cfg.IMAPPass == "" {
		cfg.IMAPPass = os.Getenv("IMAP_PASS")
	}

	if cfg.StateDir == "" {
		dir, err := defaultStateDir()
		if err != nil {
			return Config{}, err
		}
		cfg.StateDir = dir
	}
	cfg.StateDir = filepath.Clean(cfg.StateDir)

	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func validateConfig(cfg Config) error {
	if cfg.ReplyAddress != "" {
		if err := replykey.Validate(cfg.ReplyAddress); err != nil {
			return fmt.Errorf("--reply-address: %w", err)
		}
	}
	if cfg.Workers < 1 {
		return fmt.Errorf("--workers must be at least 1")
	}
	if cfg.MaxMessageBytes < 0 {
		return fmt.Errorf("--max-message-bytes must not be negative")
	}
	if cfg.IMAPLimit < 0 {
		return fmt.Errorf("--imap-limit must not be negative")
	}
	if cfg.IMAPPort <= 0 || cfg.IMAPPort > 65535 {
		return fmt.Errorf("--imap-port must be between 1 and 65535")
	}
	includeActive := len(cfg.IncludeHeader) > 0 || len(cfg.IncludeBody) > 0
	excludeActive := len(cfg.ExcludeHeader) > 0 || len(cfg.ExcludeBody) > 0
	if includeActive && excludeActive {
		return fmt.Errorf("include and exclude flags are mutually exclusive")
	}

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid --log-level: %s", cfg.LogLevel)
	}

	return nil
}

// ValidateIMAP checks the options an IMAP poll needs. Call it after
// ResolvePassword.
func (c Config) ValidateIMAP() error {
	if c.IMAPHost == "" {
		return fmt.Errorf("--imap-host is required")
	}
	if c.IMAPUser == "" {
		return fmt.Errorf("--imap-user is required")
	}
	if c.IMAPPass == "" {
		return ErrNoPassword
	}
	return nil
}

// ResolvePassword fills an empty IMAPPass from lookup, typically the OS
// keyring. Lookup failures leave the password empty.
func (c *Config) ResolvePassword(lookup func(user, host string) (string, error)) {
	if c.IMAPPass != "" || lookup == nil || c.IMAPUser == "" || c.IMAPHost == "" {
		return
	}
	if pass, err := lookup(c.IMAPUser, c.IMAPHost); err == nil {
		c.IMAPPass = pass
	}
}

// FilterOptions returns the pre-screen settings.
func (c Config) FilterOptions() filter.Options {
	return filter.Options{
		IncludeHeader:   c.IncludeHeader,
		IncludeBody:     c.IncludeBody,
		ExcludeHeader:   c.ExcludeHeader,
		ExcludeBody:     c.ExcludeBody,
		SkipAutoReplies: c.SkipAutoReplies,
	}
}

// ReceiverSettings returns the site settings with the previous discussion
// heading taken from the locale unless it was set explicitly.
func (c Config) ReceiverSettings() (receiver.Settings, error) {
	previous := c.PreviousDiscussion
	if previous == "" {
		phrase, err := locale.Phrase(c.Locale, locale.KeyPreviousDiscussion)
		if err != nil {
			return receiver.Settings{}, err
		}
		previous = phrase
	}
	return receiver.Settings{
		ReplyAddress:       c.ReplyAddress,
		SiteTitle:          c.SiteTitle,
		PreviousDiscussion: previous,
	}, nil
}

func defaultStateDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".mail-receiver", "state"), nil
}

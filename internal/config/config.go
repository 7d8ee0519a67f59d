package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Configuration is read from the environment. Which parts are mandatory
// depends on the binary, each entry point validates its own slice of it.
type Configuration struct {
	DatabaseURL    string `validate:"required"`
	IMAP           IMAPConfig
	FetchInterval  time.Duration
	FetchDaysLimit int
	Web            WebConfig
}

type IMAPConfig struct {
	Server     string `validate:"required"`
	Port       int    `validate:"required"`
	User       string `validate:"required"`
	Password   string `validate:"required"`
	Folder     string `validate:"required"`
	IgnoreCert bool
}

// Addr returns the host:port dial address.
func (c IMAPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server, c.Port)
}

type WebConfig struct {
	ListenAddr        string `validate:"required"`
	BasicAuthUsername string `validate:"required"`
	BasicAuthPassword string `validate:"required"`
}

// Load reads the environment. A FETCH_DAYS_LIMIT of 0 (or an unparseable
// value) means no day window, all mails in the folder are candidates.
func Load() *Configuration {
	v := viper.New()
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("imap_port", 993)
	v.SetDefault("imap_folder", "INBOX")
	v.SetDefault("fetch_interval", 3600)
	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("basic_auth_username", "admin")

	return &Configuration{
		DatabaseURL: v.GetString("database_url"),
		IMAP: IMAPConfig{
			Server:     v.GetString("imap_server"),
			Port:       v.GetInt("imap_port"),
			User:       v.GetString("imap_user"),
			Password:   v.GetString("imap_password"),
			Folder:     v.GetString("imap_folder"),
			IgnoreCert: v.GetBool("imap_ignore_cert"),
		},
		FetchInterval:  time.Duration(v.GetInt("fetch_interval")) * time.Second,
		FetchDaysLimit: v.GetInt("fetch_days_limit"),
		Web: WebConfig{
			ListenAddr:        v.GetString("listen_addr"),
			BasicAuthUsername: v.GetString("basic_auth_username"),
			BasicAuthPassword: v.GetString("basic_auth_password"),
		},
	}
}

// ValidateFetcher checks everything the live poller needs.
func (c *Configuration) ValidateFetcher() error {
	va := validator.New(validator.WithRequiredStructEnabled())
	if err := va.Var(c.DatabaseURL, "required"); err != nil {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if err := va.Struct(c.IMAP); err != nil {
		return fmt.Errorf("incomplete IMAP configuration: %w", err)
	}
	return nil
}

// ValidateImporter checks everything the batch importer needs.
func (c *Configuration) ValidateImporter() error {
	va := validator.New(validator.WithRequiredStructEnabled())
	if err := va.Var(c.DatabaseURL, "required"); err != nil {
		return fmt.Errorf("no database connection string, set DATABASE_URL or use -db-url")
	}
	return nil
}

// ValidateWeb checks everything the dashboard needs.
func (c *Configuration) ValidateWeb() error {
	va := validator.New(validator.WithRequiredStructEnabled())
	if err := va.Var(c.DatabaseURL, "required"); err != nil {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if err := va.Struct(c.Web); err != nil {
		return fmt.Errorf("incomplete dashboard configuration: %w", err)
	}
	return nil
}

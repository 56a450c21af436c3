package postgres

import (
	"fmt"
	"net/url"
	"strconv"

	"token-broker/internal/storage"
)

type Config struct {
	Host     string
	Port     int
	Database string
	Username string
	Password string
	SSLMode  string
	// URL, when set, is used verbatim and the discrete fields are ignored.
	URL string
}

func (c *Config) Validate() error {
	if c.URL != "" {
		return nil
	}
	if c.Host == "" {
		return fmt.Errorf("PostgreSQL host is required")
	}
	if c.Port <= 0 {
		c.Port = 5432
	}
	if c.Database == "" {
		return fmt.Errorf("PostgreSQL database name is required")
	}
	if c.Username == "" {
		return fmt.Errorf("PostgreSQL username is required")
	}
	if c.SSLMode == "" {
		c.SSLMode = "prefer"
	}
	return nil
}

func (c *Config) GetType() string {
	return "postgres"
}

// GetConnectionString returns a postgres:// URL accepted by pgxpool.
func (c *Config) GetConnectionString() string {
	if c.URL != "" {
		return c.URL
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.Username, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     "/" + c.Database,
		RawQuery: url.Values{"sslmode": []string{c.SSLMode}}.Encode(),
	}
	return u.String()
}

// configFromGeneric maps the keys storage.NewStorage puts in a GenericConfig.
func configFromGeneric(gc storage.GenericConfig) *Config {
	port, _ := strconv.Atoi(gc.String("port"))
	return &Config{
		Host:     gc.String("host"),
		Port:     port,
		Database: gc.String("database"),
		Username: gc.String("username"),
		Password: gc.String("password"),
		SSLMode:  gc.String("sslmode"),
		URL:      gc.GetConnectionString(),
	}
}

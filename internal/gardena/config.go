package gardena

import (
	"fmt"
	"os"
	"strings"
	"time"
)

const (
	defaultBaseURL  = "https://api.smart.gardena.dev/v1"
	defaultTokenURL = "https://api.authentication.husqvarnagroup.dev/v1/oauth2/token"
	defaultTimeout  = 15 * time.Second
)

// Config selects the mower service on the Gardena smart system cloud.
type Config struct {
	ServiceID        string        `yaml:"service_id"`
	ClientID         string        `yaml:"client_id"`
	ClientSecretFile string        `yaml:"client_secret_file"`
	BaseURL          string        `yaml:"base_url"`
	TokenURL         string        `yaml:"token_url"`
	Timeout          time.Duration `yaml:"timeout"`
	// DailyReserve keeps this many API calls of the daily quota unused.
	DailyReserve int `yaml:"daily_reserve"`
}

// Enabled reports whether commands should be forwarded to the cloud.
func (c Config) Enabled() bool {
	return strings.TrimSpace(c.ServiceID) != ""
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.BaseURL) == "" {
		c.BaseURL = defaultBaseURL
	}
	if strings.TrimSpace(c.TokenURL) == "" {
		c.TokenURL = defaultTokenURL
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	return c
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceID) == "" {
		return fmt.Errorf("gardena service_id is required")
	}
	if strings.TrimSpace(c.ClientID) == "" {
		return fmt.Errorf("gardena client_id is required")
	}
	if strings.TrimSpace(c.ClientSecretFile) == "" {
		return fmt.Errorf("gardena client_secret_file is required")
	}
	if c.DailyReserve < 0 {
		return fmt.Errorf("gardena daily_reserve must be >= 0")
	}
	return nil
}

func readSecretFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

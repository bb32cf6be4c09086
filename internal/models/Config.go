// Package models defines the cvsdk configuration file and its validation.
package models

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Defaults applied by SetDefaults.
const (
	DefaultTimeout           = "2m"
	DefaultRetryCount        = 3
	DefaultBrowseRetryDelay  = "180s"
	DefaultBrowseMaxAttempts = 4
	DefaultMetricsPoll       = "30s"
	DefaultScrapingInterval  = "5m"
	DefaultServerURI         = "/metrics"
	DefaultLogName           = "log/cvsdk.log"
)

// Config mirrors config.yaml.
//
// Example:
//
//	commcell:
//	  webServiceURL: https://cs.example.com/webconsole/api/
//	  authToken: QSDK 3f0a...
//	server:
//	  host: 0.0.0.0
//	  port: "2113"
type Config struct {
	Commcell struct {
		WebServiceURL      string  `yaml:"webServiceURL"`
		AuthToken          string  `yaml:"authToken"`
		Username           string  `yaml:"username"`
		InsecureSkipVerify bool    `yaml:"insecureSkipVerify"`
		Timeout            string  `yaml:"timeout"`
		RetryCount         int     `yaml:"retryCount"`
		CacheTTL           string  `yaml:"cacheTTL"`
		RequestsPerSecond  float64 `yaml:"requestsPerSecond"`
		BreakerFailures    uint32  `yaml:"breakerFailures"`
	} `yaml:"commcell"`

	Browse struct {
		RetryDelay  string `yaml:"retryDelay"`
		MaxAttempts int    `yaml:"maxAttempts"`
	} `yaml:"browse"`

	Metrics struct {
		PollInterval string `yaml:"pollInterval"`
	} `yaml:"metrics"`

	Server struct {
		Host             string `yaml:"host"`
		Port             string `yaml:"port"`
		URI              string `yaml:"uri"`
		ScrapingInterval string `yaml:"scrapingInterval"`
		LogName          string `yaml:"logName"`
	} `yaml:"server"`

	OpenTelemetry struct {
		Enabled      bool    `yaml:"enabled"`
		Endpoint     string  `yaml:"endpoint"`
		Insecure     bool    `yaml:"insecure"`
		SamplingRate float64 `yaml:"samplingRate"`
	} `yaml:"opentelemetry"`
}

// SetDefaults fills unset optional fields.
func (c *Config) SetDefaults() {
	if c.Commcell.Timeout == "" {
		c.Commcell.Timeout = DefaultTimeout
	}
	if c.Commcell.RetryCount == 0 {
		c.Commcell.RetryCount = DefaultRetryCount
	}
	if c.Commcell.CacheTTL == "" {
		c.Commcell.CacheTTL = "0s"
	}
	if c.Browse.RetryDelay == "" {
		c.Browse.RetryDelay = DefaultBrowseRetryDelay
	}
	if c.Browse.MaxAttempts == 0 {
		c.Browse.MaxAttempts = DefaultBrowseMaxAttempts
	}
	if c.Metrics.PollInterval == "" {
		c.Metrics.PollInterval = DefaultMetricsPoll
	}
	if c.Server.URI == "" {
		c.Server.URI = DefaultServerURI
	}
	if c.Server.ScrapingInterval == "" {
		c.Server.ScrapingInterval = DefaultScrapingInterval
	}
	if c.Server.LogName == "" {
		c.Server.LogName = DefaultLogName
	}
	if c.OpenTelemetry.Enabled && c.OpenTelemetry.SamplingRate == 0 {
		c.OpenTelemetry.SamplingRate = 1.0
	}
}

// Validate applies defaults and checks every field.
func (c *Config) Validate() error {
	c.SetDefaults()

	if c.Commcell.WebServiceURL == "" {
		return errors.New("commcell web service URL is required")
	}
	u, err := url.Parse(c.Commcell.WebServiceURL)
	if err != nil || u.Host == "" {
		return fmt.Errorf("invalid commcell web service URL: %s", c.Commcell.WebServiceURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid commcell web service scheme: %s (must be http or https)", u.Scheme)
	}
	if c.Commcell.AuthToken == "" {
		return errors.New("commcell auth token is required")
	}
	if c.Commcell.RetryCount < 0 {
		return fmt.Errorf("invalid retry count: %d", c.Commcell.RetryCount)
	}
	if c.Commcell.RequestsPerSecond < 0 {
		return fmt.Errorf("invalid requests per second: %v", c.Commcell.RequestsPerSecond)
	}

	for name, value := range map[string]string{
		"commcell timeout":      c.Commcell.Timeout,
		"cache TTL":             c.Commcell.CacheTTL,
		"browse retry delay":    c.Browse.RetryDelay,
		"metrics poll interval": c.Metrics.PollInterval,
		"scraping interval":     c.Server.ScrapingInterval,
	} {
		if d, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		} else if d < 0 {
			return fmt.Errorf("invalid %s: %s is negative", name, value)
		}
	}
	if c.Browse.MaxAttempts < 1 {
		return fmt.Errorf("invalid browse max attempts: %d", c.Browse.MaxAttempts)
	}

	if c.Server.Port != "" {
		if port, err := strconv.Atoi(c.Server.Port); err != nil || port < 1 || port > 65535 {
			return fmt.Errorf("invalid server port: %s", c.Server.Port)
		}
	}

	if c.OpenTelemetry.Enabled {
		if c.OpenTelemetry.Endpoint == "" {
			return errors.New("OpenTelemetry endpoint is required when enabled")
		}
		if c.OpenTelemetry.SamplingRate < 0 || c.OpenTelemetry.SamplingRate > 1 {
			return fmt.Errorf("invalid OpenTelemetry sampling rate: %v (must be between 0.0 and 1.0)", c.OpenTelemetry.SamplingRate)
		}
	}
	return nil
}

// WebServiceURL returns the web-service base with exactly one trailing slash.
func (c *Config) WebServiceURL() string {
	return strings.TrimRight(c.Commcell.WebServiceURL, "/") + "/"
}

// CommcellHost returns the host part of the web-service URL.
func (c *Config) CommcellHost() string {
	u, err := url.Parse(c.Commcell.WebServiceURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// GetServerAddress returns host:port for the serve command.
func (c *Config) GetServerAddress() string {
	return fmt.Sprintf("%s:%s", c.Server.Host, c.Server.Port)
}

// Duration parses a validated duration field; invalid values yield 0.
func Duration(value string) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0
	}
	return d
}

// MaskToken returns the auth token with everything but the first and last
// four characters hidden.
func (c *Config) MaskToken() string {
	token := c.Commcell.AuthToken
	if len(token) <= 8 {
		return "****"
	}
	return token[:4] + "****" + token[len(token)-4:]
}

package cfg

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config describes one watched account. Environment variables SERVER, EMAIL,
// PASS and PORT override the file, so the watcher can run without any
// configuration file at all.
type Config struct {
	ServerURL           string `yaml:"serverURL"`
	Username            string `yaml:"username"`
	Password            string `yaml:"password"`
	Mailbox             string `yaml:"mailbox"`
	IdleTimeoutSeconds  int    `yaml:"idleTimeout"`
	RetryDelaySeconds   int    `yaml:"retryDelay"`
	Port                int    `yaml:"port"`
	NoTLS               bool   `yaml:"noTLS"`
	SkipTLSVerification bool   `yaml:"skipTLSVerification"`
	HistoryFile         string `yaml:"historyFile"`
	LogLevel            string `yaml:"logLevel"`
}

func newConfig() *Config {
	return &Config{
		Mailbox:            "INBOX",
		IdleTimeoutSeconds: 20,
		RetryDelaySeconds:  5,
		Port:               8080,
	}
}

// LoadFromFile loads the configuration from the file, then applies the
// environment overrides. A missing file is not an error when the
// environment provides the connection details.
func LoadFromFile(fileName string) (*Config, error) {
	file, err := os.Open(fileName)
	if err != nil {
		if os.IsNotExist(err) {
			config := newConfig()
			config.applyEnvironment()
			return config, nil
		}
		return nil, err
	}
	return loadConfig(file)
}

// loadConfig from a io.ReadCloser
func loadConfig(reader io.ReadCloser) (*Config, error) {
	defer reader.Close()
	decoder := yaml.NewDecoder(reader)
	config := newConfig()
	err := decoder.Decode(config)
	if err != nil && err != io.EOF {
		return nil, err
	}
	config.applyEnvironment()
	return config, nil
}

func (c *Config) applyEnvironment() {
	if value := os.Getenv("SERVER"); value != "" {
		c.ServerURL = value
	}
	if value := os.Getenv("EMAIL"); value != "" {
		c.Username = value
	}
	if value := os.Getenv("PASS"); value != "" {
		c.Password = value
	}
	if value := os.Getenv("PORT"); value != "" {
		if port, err := strconv.Atoi(value); err == nil {
			c.Port = port
		}
	}
}

// Validate checks the fields needed to open a connection.
func (c *Config) Validate() error {
	if c.ServerURL == "" {
		return fmt.Errorf("missing server URL (serverURL in the configuration file, or the SERVER environment variable)")
	}
	if c.Username == "" || c.Password == "" {
		return fmt.Errorf("missing credentials (username/password in the configuration file, or the EMAIL and PASS environment variables)")
	}
	return nil
}

func (c *Config) IdleTimeout() time.Duration {
	if c.IdleTimeoutSeconds <= 0 {
		return 20 * time.Second
	}
	return time.Duration(c.IdleTimeoutSeconds) * time.Second
}

func (c *Config) RetryDelay() time.Duration {
	if c.RetryDelaySeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.RetryDelaySeconds) * time.Second
}

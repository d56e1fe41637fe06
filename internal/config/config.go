package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"gopkg.in/yaml.v3"
)

const envPrefix = "LIMITBOOK_"

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	Logging struct {
		Level  string `yaml:"level"`
		Pretty bool   `yaml:"pretty"`
	} `yaml:"logging"`
	Server struct {
		Addr      string `yaml:"addr"`
		Port      int    `yaml:"port"`
		Workers   int    `yaml:"workers"`
		QueueSize int    `yaml:"queue_size"`
		// Auth makes clients sign a challenge before trading.
		Auth bool `yaml:"auth"`
	} `yaml:"server"`
	Engine struct {
		// Address is the spender account traders approve.
		Address   string `yaml:"address"`
		StepLimit uint64 `yaml:"step_limit"`
	} `yaml:"engine"`
	Metrics struct {
		Addr string `yaml:"addr"`
	} `yaml:"metrics"`
	Events struct {
		OutboxDir string   `yaml:"outbox_dir"`
		Brokers   []string `yaml:"brokers"`
		Topic     string   `yaml:"topic"`
	} `yaml:"events"`
	Tokens  []Token      `yaml:"tokens"`
	Books   []Book       `yaml:"books"`
	Genesis []Allocation `yaml:"genesis"`
}

type Token struct {
	Symbol string `yaml:"symbol"`
	Name   string `yaml:"name"`
	// Fee taken on every transfer, in basis points, capped at MaxFee.
	FeeBasisPoints uint64 `yaml:"fee_bps"`
	MaxFee         string `yaml:"max_fee"`
}

type Book struct {
	Token0       string `yaml:"token0"`
	Token1       string `yaml:"token1"`
	LogSizeTick  uint8  `yaml:"log_size_tick"`
	LogPriceTick uint8  `yaml:"log_price_tick"`
}

// Allocation mints Amount of Token to Account at startup and, if Approve
// is set, grants the engine an unlimited allowance over it.
type Allocation struct {
	Account string `yaml:"account"`
	Token   string `yaml:"token"`
	Amount  string `yaml:"amount"`
	Approve bool   `yaml:"approve"`
}

func defaultConfig() Config {
	var c Config
	c.Logging.Level = "info"
	c.Logging.Pretty = false
	c.Server.Addr = "127.0.0.1"
	c.Server.Port = 9000
	c.Server.Workers = 10
	c.Server.QueueSize = 100
	c.Server.Auth = true
	c.Engine.Address = "0x00000000000000000000000000000000000000e0"
	c.Engine.StepLimit = 0
	c.Metrics.Addr = ":9090"
	c.Events.OutboxDir = "data/outbox"
	c.Events.Topic = "limitbook.events"
	c.Tokens = []Token{
		{Symbol: "BASE", Name: "Base Token"},
		{Symbol: "QUOTE", Name: "Quote Token"},
	}
	c.Books = []Book{{Token0: "BASE", Token1: "QUOTE", LogSizeTick: 2, LogPriceTick: 1}}
	return c
}

// Load reads the YAML file at path over the defaults, then applies
// environment overrides. An empty path falls back to LIMITBOOK_CONFIG, and
// no file at all means defaults only.
func Load(path string) (Config, error) {
	c := defaultConfig()
	if path == "" {
		path = os.Getenv(envPrefix + "CONFIG")
	}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := c.applyEnv(); err != nil {
		return Config{}, err
	}
	return c, c.Validate()
}

func (c *Config) applyEnv() error {
	if v := os.Getenv(envPrefix + "LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv(envPrefix + "LOG_PRETTY"); v == "1" || v == "true" {
		c.Logging.Pretty = true
	}
	if v := os.Getenv(envPrefix + "ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv(envPrefix + "PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sPORT=%q: %w", envPrefix, v, ErrInvalidConfig)
		}
		c.Server.Port = port
	}
	if v := os.Getenv(envPrefix + "AUTH"); v != "" {
		auth, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%sAUTH=%q: %w", envPrefix, v, ErrInvalidConfig)
		}
		c.Server.Auth = auth
	}
	if v := os.Getenv(envPrefix + "STEP_LIMIT"); v != "" {
		limit, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%sSTEP_LIMIT=%q: %w", envPrefix, v, ErrInvalidConfig)
		}
		c.Engine.StepLimit = limit
	}
	if v := os.Getenv(envPrefix + "METRICS_ADDR"); v != "" {
		c.Metrics.Addr = v
	}
	if v := os.Getenv(envPrefix + "OUTBOX_DIR"); v != "" {
		c.Events.OutboxDir = v
	}
	if v := os.Getenv(envPrefix + "KAFKA_BROKERS"); v != "" {
		c.Events.Brokers = splitCSV(v)
	}
	return nil
}

// Validate checks the references between sections.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d: %w", c.Server.Port, ErrInvalidConfig)
	}
	if !common.IsHexAddress(c.Engine.Address) {
		return fmt.Errorf("engine address %q: %w", c.Engine.Address, ErrInvalidConfig)
	}
	symbols := make(map[string]bool, len(c.Tokens))
	for _, tok := range c.Tokens {
		if tok.Symbol == "" || symbols[tok.Symbol] {
			return fmt.Errorf("token %q: missing or duplicate symbol: %w", tok.Symbol, ErrInvalidConfig)
		}
		if tok.MaxFee != "" {
			if _, err := uint256.FromDecimal(tok.MaxFee); err != nil {
				return fmt.Errorf("token %s max fee %q: %w", tok.Symbol, tok.MaxFee, ErrInvalidConfig)
			}
		}
		symbols[tok.Symbol] = true
	}
	for i, book := range c.Books {
		if !symbols[book.Token0] || !symbols[book.Token1] {
			return fmt.Errorf("book %d: unknown token: %w", i, ErrInvalidConfig)
		}
	}
	for _, a := range c.Genesis {
		if !common.IsHexAddress(a.Account) {
			return fmt.Errorf("genesis account %q: %w", a.Account, ErrInvalidConfig)
		}
		if !symbols[a.Token] {
			return fmt.Errorf("genesis token %q: %w", a.Token, ErrInvalidConfig)
		}
		if _, err := uint256.FromDecimal(a.Amount); err != nil {
			return fmt.Errorf("genesis amount %q: %w", a.Amount, ErrInvalidConfig)
		}
	}
	return nil
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

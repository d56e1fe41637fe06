package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	t.Setenv("LIMITBOOK_CONFIG", "")
	t.Setenv("LIMITBOOK_LOG_LEVEL", "")
	t.Setenv("LIMITBOOK_AUTH", "")

	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "info", c.Logging.Level)
	assert.Equal(t, 9000, c.Server.Port)
	assert.True(t, c.Server.Auth)
	assert.Zero(t, c.Engine.StepLimit)
	require.Len(t, c.Books, 1)
	assert.Equal(t, uint8(2), c.Books[0].LogSizeTick)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "limitbook.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9100
engine:
  step_limit: 5000
tokens:
  - symbol: WETH
  - symbol: USDC
    fee_bps: 10
    max_fee: "1000"
books:
  - token0: WETH
    token1: USDC
    log_size_tick: 15
    log_price_tick: 0
genesis:
  - account: "0x00000000000000000000000000000000000000a1"
    token: USDC
    amount: "1000000000000"
    approve: true
`), 0o600))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9100, c.Server.Port)
	assert.Equal(t, "127.0.0.1", c.Server.Addr, "unset keys keep their defaults")
	assert.Equal(t, uint64(5000), c.Engine.StepLimit)
	assert.Equal(t, uint64(10), c.Tokens[1].FeeBasisPoints)
	assert.Equal(t, uint8(15), c.Books[0].LogSizeTick)
	require.Len(t, c.Genesis, 1)
	assert.True(t, c.Genesis[0].Approve)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LIMITBOOK_CONFIG", "")
	t.Setenv("LIMITBOOK_LOG_LEVEL", "debug")
	t.Setenv("LIMITBOOK_PORT", "9200")
	t.Setenv("LIMITBOOK_STEP_LIMIT", "300")
	t.Setenv("LIMITBOOK_AUTH", "false")
	t.Setenv("LIMITBOOK_KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092")

	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "debug", c.Logging.Level)
	assert.Equal(t, 9200, c.Server.Port)
	assert.Equal(t, uint64(300), c.Engine.StepLimit)
	assert.False(t, c.Server.Auth)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, c.Events.Brokers)

	t.Setenv("LIMITBOOK_PORT", "http")
	_, err = Load("")
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestValidate(t *testing.T) {
	c := defaultConfig()
	c.Books = append(c.Books, Book{Token0: "BASE", Token1: "NOPE"})
	assert.ErrorIs(t, c.Validate(), ErrInvalidConfig)

	c = defaultConfig()
	c.Genesis = []Allocation{{Account: "not an address", Token: "BASE", Amount: "1"}}
	assert.ErrorIs(t, c.Validate(), ErrInvalidConfig)

	c = defaultConfig()
	c.Genesis = []Allocation{{Account: "0x00000000000000000000000000000000000000a1", Token: "BASE", Amount: "-1"}}
	assert.ErrorIs(t, c.Validate(), ErrInvalidConfig)

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

package clickhouse

import (
	"testing"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/stretchr/testify/assert"
)

func TestConfigOptions(t *testing.T) {
	cfg := Config{
		Host:         "ch",
		Database:     "signaldesk",
		Password:     "p@ss",
		AsyncInsert:  true,
		WaitForAsync: true,
		MaxExecTime:  time.Minute,
	}.withDefaults()

	opts := cfg.options()
	assert.Equal(t, clickhouse.Native, opts.Protocol)
	assert.Equal(t, []string{"ch:9000"}, opts.Addr)
	assert.Equal(t, "default", opts.Auth.Username)
	assert.Equal(t, "p@ss", opts.Auth.Password)
	assert.Equal(t, 60, opts.Settings["max_execution_time"])
	assert.Equal(t, 1, opts.Settings["wait_for_async_insert"])
	assert.Equal(t, 5, opts.MaxIdleConns)
}

func TestConfigHTTPDefaultsPort(t *testing.T) {
	opts := Config{Host: "ch", UseHTTP: true}.withDefaults().options()
	assert.Equal(t, clickhouse.HTTP, opts.Protocol)
	assert.Equal(t, []string{"ch:8123"}, opts.Addr)
	assert.NotContains(t, opts.Settings, "async_insert")
}

func TestNewClientRequiresHost(t *testing.T) {
	_, err := NewClient(t.Context(), Config{})
	assert.Error(t, err)
}

func TestFirstLine(t *testing.T) {
	assert.Equal(t, "CREATE TABLE IF NOT EXISTS t (", firstLine("\n  CREATE TABLE IF NOT EXISTS t (\n x UInt8\n)"))
}

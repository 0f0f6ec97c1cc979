package config

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromViper_Defaults(t *testing.T) {
	cfg, err := FromViper(viper.New())
	require.NoError(t, err)

	assert.Equal(t, 8090, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "sql", cfg.MessageStore.Driver)
	assert.Equal(t, 7, cfg.Room.InterventionThreshold)
	assert.Equal(t, 50*time.Millisecond, cfg.Room.PersistBackoff)
	assert.Equal(t, 10*time.Minute, cfg.Room.IdleTimeout)
	assert.Equal(t, []string{"/uploads/"}, cfg.Room.MediaPrefixes)
	assert.Equal(t, 3*time.Second, cfg.Intervention.Delay)
	assert.Equal(t, 12, cfg.Intervention.HistoryLimit)
	assert.Equal(t, 20*time.Second, cfg.Intervention.Timeout)
	assert.Equal(t, "LOCAL_QUORUM", cfg.Cassandra.Consistency)
	assert.Equal(t, "localhost:6379", cfg.PubSub.Redis.Address, "pubsub redis falls back to the shared redis")
}

func TestFromViper_YAMLOverrides(t *testing.T) {
	v := viper.New()
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(strings.NewReader(`
server:
  port: 9000
room:
  intervention_threshold: 3
  persist_backoff: 10ms
  idle_timeout: 0s
intervention:
  delay: 250ms
pubsub:
  enabled: true
  driver: nats
  nats:
    url: nats://nats:4222
cassandra:
  hosts: [c1, c2]
`)))

	cfg, err := FromViper(v)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 3, cfg.Room.InterventionThreshold)
	assert.Equal(t, 10*time.Millisecond, cfg.Room.PersistBackoff)
	assert.Equal(t, time.Duration(0), cfg.Room.IdleTimeout)
	assert.Equal(t, 250*time.Millisecond, cfg.Intervention.Delay)
	assert.True(t, cfg.PubSub.Enabled)
	assert.Equal(t, "nats", cfg.PubSub.Driver)
	assert.Equal(t, "nats://nats:4222", cfg.PubSub.NATS.URL)
	assert.Equal(t, []string{"c1", "c2"}, cfg.Cassandra.Hosts)
}

func TestFromViper_Env(t *testing.T) {
	t.Setenv("PORT", "7777")
	t.Setenv("OPENAI_MODEL", "gpt-test")

	cfg, err := FromViper(viper.New())
	require.NoError(t, err)
	assert.Equal(t, 7777, cfg.Server.Port)
	assert.Equal(t, "gpt-test", cfg.OpenAI.Model)
}

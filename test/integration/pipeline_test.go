// Package integration exercises the pipeline end to end: a configuration
// directory is loaded, an agent tails a real temp file, and matched records
// travel through the producer executor onto a real (in-process) Redis bus.
package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/LogPipe-Agents/internal/application/agent"
	"github.com/turtacn/LogPipe-Agents/internal/config"
	"github.com/turtacn/LogPipe-Agents/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/LogPipe-Agents/internal/infrastructure/producer"
	redisproducer "github.com/turtacn/LogPipe-Agents/internal/infrastructure/producer/redis"
	"github.com/turtacn/LogPipe-Agents/pkg/errors"
)

// writePipelineConfig lays out a config directory wired to a miniredis bus
// and one monitored log file.
func writePipelineConfig(t *testing.T, redisAddr string) (dir, logPath string) {
	t.Helper()
	dir = t.TempDir()
	logPath = filepath.Join(dir, "app.log")
	require.NoError(t, os.WriteFile(logPath, nil, 0o644))

	write := func(name, content string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	write("base.yaml", `
app:
  name: logpipe-it
  log_level: error
`)
	write("agents.yaml", fmt.Sprintf(`
agents:
  - type: passthrough
    name: it-agent
    buffer_rows: 100
    fetch_logs_interval: 20ms
    execute_query_interval: 1h
    path_files:
      - name: app_log
        path: %s
    producer_connections:
      - type: redis
        name: bus
        topic: errors
        data_connections:
          - name: error_pattern
            is_error: true
            source_ref:
              path_file_name: app_log
              regex_pattern: '^ERR (?P<code>\d+) (?P<msg>.+)$'
`, logPath))
	write("producers.yaml", fmt.Sprintf(`
producers:
  - type: redis
    name: bus
    topics: [errors]
    max_retries: 3
    redis:
      addr: %s
`, redisAddr))
	return dir, logPath
}

func TestPipelineEndToEnd(t *testing.T) {
	server := miniredis.RunT(t)
	dir, logPath := writePipelineConfig(t, server.Addr())

	cfg, err := config.LoadDir(dir)
	require.NoError(t, err)

	logger := logging.NewNopLogger()
	producers := producer.NewRegistry(cfg, logger, nil)
	producers.RegisterType("redis", redisproducer.NewDriver)
	defer producers.StopAll(2 * time.Second)

	agents := agent.NewRegistry()
	agent.RegisterBuiltins(agents)
	deps := agent.Dependencies{
		Databases: func(typ, name string) (agent.QueryService, error) {
			return nil, errors.ConfigNotFound("no databases in this pipeline")
		},
		Producers: func(typ, name, topic string) (agent.MessageService, error) {
			inst, err := producers.Get(typ, name, topic)
			if err != nil {
				return nil, err
			}
			return inst, nil
		},
		Logger:  logger,
		Metrics: nil,
	}

	require.Len(t, cfg.Agents, 1)
	a, err := agents.Create(cfg.Agents[0], deps)
	require.NoError(t, err)

	// Subscribe before producing so no message is missed.
	sub := goredis.NewClient(&goredis.Options{Addr: server.Addr()})
	defer func() { _ = sub.Close() }()
	pubsub := sub.Subscribe(context.Background(), "errors")
	defer func() { _ = pubsub.Close() }()
	_, err = pubsub.Receive(context.Background())
	require.NoError(t, err)

	a.Start()
	defer a.Stop()

	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("ERR 42 boom\nplain line\nERR 43 zap\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	received := make([]map[string]any, 0, 2)
	deadline := time.After(10 * time.Second)
	for len(received) < 2 {
		select {
		case msg := <-pubsub.Channel():
			var envelope map[string]any
			require.NoError(t, json.Unmarshal([]byte(msg.Payload), &envelope))
			received = append(received, envelope)
		case <-deadline:
			t.Fatalf("expected 2 messages, got %d", len(received))
		}
	}

	assert.Equal(t, true, received[0]["is_error"])
	assert.Equal(t, map[string]any{"code": "42", "msg": "boom"}, received[0]["message"])
	assert.Equal(t, map[string]any{"code": "43", "msg": "zap"}, received[1]["message"])
}

func TestPipelineTopicAllowlistEnforced(t *testing.T) {
	server := miniredis.RunT(t)
	dir, _ := writePipelineConfig(t, server.Addr())

	cfg, err := config.LoadDir(dir)
	require.NoError(t, err)

	producers := producer.NewRegistry(cfg, logging.NewNopLogger(), nil)
	producers.RegisterType("redis", redisproducer.NewDriver)
	defer producers.StopAll(time.Second)

	_, err = producers.Get("redis", "bus", "audit")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeTopicNotAllowed))
}

package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/matheuscscp/link-chat/config"

	"github.com/stretchr/testify/require"
)

func TestReadYAMLFileAndUnmarshal(t *testing.T) {
	file := filepath.Join(t.TempDir(), "conf.yml")
	require.NoError(t, os.WriteFile(file, []byte("interval: 90s\nname: nodeA\n"), 0o644))

	var conf struct {
		Interval config.Duration `yaml:"interval"`
		Name     string          `yaml:"name"`
	}
	require.NoError(t, config.ReadYAMLFileAndUnmarshal(file, &conf))
	require.Equal(t, 90*time.Second, time.Duration(conf.Interval))
	require.Equal(t, "nodeA", conf.Name)
}

func TestDurationRejectsGarbage(t *testing.T) {
	file := filepath.Join(t.TempDir(), "conf.yml")
	require.NoError(t, os.WriteFile(file, []byte("interval: ninety\n"), 0o644))

	var conf struct {
		Interval config.Duration `yaml:"interval"`
	}
	require.Error(t, config.ReadYAMLFileAndUnmarshal(file, &conf))
}

func TestDurationOrDefault(t *testing.T) {
	var zero config.Duration
	require.Equal(t, time.Minute, zero.DurationOrDefault(time.Minute))
	require.Equal(t, time.Second, config.Duration(time.Second).DurationOrDefault(time.Minute))
}

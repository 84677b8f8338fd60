package common

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

// retryBlock mirrors the shape durations take in the real config tree: a
// nested struct with Duration-typed leaves.
type retryBlock struct {
	InitialInterval Duration `yaml:"initial_interval" json:"initial_interval" toml:"initial_interval"`
	MaxInterval     Duration `yaml:"max_interval" json:"max_interval" toml:"max_interval"`
}

func TestUnmarshalTextForms(t *testing.T) {
	tests := []struct {
		input string
		want  time.Duration
	}{
		{"30s", 30 * time.Second},
		{"5m", 5 * time.Minute},
		{"1h30m45s", time.Hour + 30*time.Minute + 45*time.Second},
		{"300ms", 300 * time.Millisecond},
	}
	for _, tt := range tests {
		var d Duration
		require.NoError(t, d.UnmarshalText([]byte(tt.input)), tt.input)
		require.Equal(t, tt.want, d.Duration, tt.input)
	}
}

func TestUnmarshalTextRejectsGarbage(t *testing.T) {
	for _, input := range []string{"", "fast", "10", "5 minutes"} {
		var d Duration
		require.Error(t, d.UnmarshalText([]byte(input)), input)
	}
}

func TestMarshalTextRoundTrip(t *testing.T) {
	orig := NewDuration(90 * time.Second)
	text, err := orig.MarshalText()
	require.NoError(t, err)

	var back Duration
	require.NoError(t, back.UnmarshalText(text))
	require.Equal(t, orig.Duration, back.Duration)
}

func TestYAMLDecode(t *testing.T) {
	var block retryBlock
	src := "initial_interval: 10s\nmax_interval: 5m\n"
	require.NoError(t, yaml.Unmarshal([]byte(src), &block))
	require.Equal(t, 10*time.Second, block.InitialInterval.Duration)
	require.Equal(t, 5*time.Minute, block.MaxInterval.Duration)
}

func TestJSONDecode(t *testing.T) {
	var block retryBlock
	src := `{"initial_interval": "250ms", "max_interval": "1m"}`
	require.NoError(t, json.Unmarshal([]byte(src), &block))
	require.Equal(t, 250*time.Millisecond, block.InitialInterval.Duration)
	require.Equal(t, time.Minute, block.MaxInterval.Duration)
}

func TestTOMLDecode(t *testing.T) {
	var block retryBlock
	src := "initial_interval = \"10s\"\nmax_interval = \"1h\"\n"
	require.NoError(t, toml.Unmarshal([]byte(src), &block))
	require.Equal(t, 10*time.Second, block.InitialInterval.Duration)
	require.Equal(t, time.Hour, block.MaxInterval.Duration)
}

func TestJSONSchemaDescribesStringForm(t *testing.T) {
	schema := NewDuration(0).JSONSchema()
	require.Equal(t, "string", schema.Type)
	require.NotEmpty(t, schema.Examples)
}

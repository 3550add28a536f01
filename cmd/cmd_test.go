package main

import (
	"bytes"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/grandcru/winematch/internal/config"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func TestResolveFlags_OnlyChangedApplied(t *testing.T) {
	var f resolveFlags
	cmd := &cobra.Command{Use: "test"}
	f.register(cmd)
	require.NoError(t, cmd.Flags().Parse([]string{"--provider", "brave", "--only-new=false", "--workers", "4"}))

	c := &config.Config{}
	c.Search.Provider = "none"
	c.Search.MaxAPIQueries = 40
	c.Resolver.OnlyNew = true
	c.Resolver.MinConfidence = 0.82
	f.apply(cmd, c)

	assert.Equal(t, "brave", c.Search.Provider)
	assert.False(t, c.Resolver.OnlyNew)
	assert.Equal(t, 4, c.Resolver.Workers)
	// Unset flags keep the configured values.
	assert.Equal(t, 40, c.Search.MaxAPIQueries)
	assert.InDelta(t, 0.82, c.Resolver.MinConfidence, 0.001)
}

func TestRedactURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"postgres://user:secret@db:5432/wines", "postgres://user:<redacted>@db:5432/wines"},
		{"postgres://user@db/wines", "postgres://user@db/wines"},
		{"sqlite:///./data/wines.db", "sqlite:///./data/wines.db"},
		{"wines.db", "wines.db"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, redactURL(tt.in))
		})
	}
}

func TestWriteConfigYAML_RedactsSecrets(t *testing.T) {
	c := &config.Config{}
	c.Search.Provider = "auto"
	c.Search.BraveAPIKey = "brave-secret"
	c.Ops.APIKey = "ops-secret"
	c.Store.DatabaseURL = "postgres://u:pw@h/db"

	var buf bytes.Buffer
	require.NoError(t, writeConfigYAML(&buf, c))
	out := buf.String()
	assert.NotContains(t, out, "brave-secret")
	assert.NotContains(t, out, "ops-secret")
	assert.NotContains(t, out, ":pw@")

	var back config.Config
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &back))
	assert.Equal(t, "auto", back.Search.Provider)
	assert.Equal(t, redacted, back.Search.BraveAPIKey)
	assert.Equal(t, "", back.Search.SerperAPIKey)
	// The caller's config is untouched.
	assert.Equal(t, "brave-secret", c.Search.BraveAPIKey)
}

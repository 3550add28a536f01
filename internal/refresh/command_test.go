package refresh

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grandcru/winematch/internal/model"
)

func TestBuildCommand(t *testing.T) {
	tests := []struct {
		name string
		mode model.RefreshMode
		opts CommandOptions
		want []string
	}{
		{
			name: "daily",
			mode: model.ModeDaily,
			opts: CommandOptions{Provider: "brave"},
			want: []string{"/bin/wm", "refresh", "run", "--mode", "daily",
				"--provider", "brave", "--auto-apply",
				"--max-api-queries", "40", "--only-new",
				"--strict-health=false"},
		},
		{
			name: "weekly with health",
			mode: model.ModeWeekly,
			opts: CommandOptions{Provider: "brave", HealthURL: " https://api.example/health ", StrictHealth: true},
			want: []string{"/bin/wm", "refresh", "run", "--mode", "weekly",
				"--provider", "brave", "--auto-apply",
				"--max-api-queries", "300", "--only-new=false", "--cache-ttl-hours", "0",
				"--health-url", "https://api.example/health",
				"--strict-health=true"},
		},
		{
			name: "import only uses default health url",
			mode: model.ModeImportOnly,
			opts: CommandOptions{Provider: "brave", DefaultHealthURL: "http://localhost:8080/health"},
			want: []string{"/bin/wm", "refresh", "run", "--mode", "import_only",
				"--health-url", "http://localhost:8080/health",
				"--strict-health=false"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := BuildCommand("/bin/wm", tt.mode, tt.opts)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBuildCommand_UnknownMode(t *testing.T) {
	_, err := BuildCommand("/bin/wm", "hourly", CommandOptions{})
	assert.ErrorIs(t, err, ErrUnknownMode)
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode(" weekly ")
	require.NoError(t, err)
	assert.Equal(t, model.ModeWeekly, m)

	_, err = ParseMode("")
	assert.ErrorIs(t, err, ErrUnknownMode)
}

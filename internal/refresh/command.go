// Package refresh supervises background data refreshes: one child process at
// a time runs the resolver and importer, with its state persisted for the
// control API.
package refresh

import (
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/grandcru/winematch/internal/model"
)

// Sentinel errors.
var (
	ErrAlreadyRunning = eris.New("refresh: already running")
	ErrUnknownMode    = eris.New("refresh: unknown mode")
)

// Per-mode live search budgets.
const (
	DailyMaxAPIQueries  = 40
	WeeklyMaxAPIQueries = 300
)

// CommandOptions are the caller-controlled parts of a child command line.
type CommandOptions struct {
	// Provider is the search provider the daily and weekly runs resolve with.
	Provider string
	// HealthURL overrides DefaultHealthURL when non-blank.
	HealthURL        string
	DefaultHealthURL string
	StrictHealth     bool
}

// ParseMode validates a mode name.
func ParseMode(s string) (model.RefreshMode, error) {
	m := model.RefreshMode(strings.TrimSpace(s))
	if !m.Valid() {
		return "", eris.Wrapf(ErrUnknownMode, "mode %q", s)
	}
	return m, nil
}

// BuildCommand returns the argv of the child "refresh run" invocation for
// mode. exe is the path of the current binary.
func BuildCommand(exe string, mode model.RefreshMode, opts CommandOptions) ([]string, error) {
	if !mode.Valid() {
		return nil, eris.Wrapf(ErrUnknownMode, "mode %q", mode)
	}

	argv := []string{exe, "refresh", "run", "--mode", string(mode)}

	switch mode {
	case model.ModeDaily:
		argv = append(argv, resolveArgs(opts.Provider)...)
		argv = append(argv,
			"--max-api-queries", strconv.Itoa(DailyMaxAPIQueries),
			"--only-new",
		)
	case model.ModeWeekly:
		argv = append(argv, resolveArgs(opts.Provider)...)
		argv = append(argv,
			"--max-api-queries", strconv.Itoa(WeeklyMaxAPIQueries),
			"--only-new=false",
			"--cache-ttl-hours", "0",
		)
	case model.ModeImportOnly:
	}

	healthURL := strings.TrimSpace(opts.HealthURL)
	if healthURL == "" {
		healthURL = strings.TrimSpace(opts.DefaultHealthURL)
	}
	if healthURL != "" {
		argv = append(argv, "--health-url", healthURL)
	}
	argv = append(argv, "--strict-health="+strconv.FormatBool(opts.StrictHealth))
	return argv, nil
}

func resolveArgs(provider string) []string {
	if provider == "" {
		return []string{"--auto-apply"}
	}
	return []string{"--provider", provider, "--auto-apply"}
}

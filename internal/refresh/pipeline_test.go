package refresh

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gofrs/flock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grandcru/winematch/internal/model"
	"github.com/grandcru/winematch/internal/resilience"
)

type recorder struct {
	calls []string
}

func (r *recorder) step(name string, err error) Step {
	return func(context.Context) error {
		r.calls = append(r.calls, name)
		return err
	}
}

func newTestPipeline(t *testing.T, cfg PipelineConfig, rec *recorder, cmdErr error) *Pipeline {
	t.Helper()
	if cfg.LockPath == "" {
		cfg.LockPath = filepath.Join(t.TempDir(), "refresh.lock")
	}
	p := NewPipeline(cfg, rec.step("resolve", nil), rec.step("import", nil))
	p.runCommand = func(_ context.Context, argv []string, _ string) error {
		rec.calls = append(rec.calls, "cmd:"+strings.Join(argv, " "))
		return cmdErr
	}
	p.retry = resilience.Policy{Attempts: 1}
	return p
}

func TestPipeline_DailyRunsAllSteps(t *testing.T) {
	rec := &recorder{}
	p := newTestPipeline(t, PipelineConfig{
		Mode:        model.ModeDaily,
		PreCommands: []string{"scrape --pages 500", "build-comparison"},
	}, rec, nil)

	require.NoError(t, p.Run(context.Background()))
	assert.Equal(t, []string{"cmd:scrape --pages 500", "cmd:build-comparison", "resolve", "import"}, rec.calls)
}

func TestPipeline_ImportOnlySkipsResolution(t *testing.T) {
	rec := &recorder{}
	p := newTestPipeline(t, PipelineConfig{
		Mode:        model.ModeImportOnly,
		PreCommands: []string{"scrape"},
	}, rec, nil)

	require.NoError(t, p.Run(context.Background()))
	assert.Equal(t, []string{"import"}, rec.calls)
}

func TestPipeline_PreCommandFailureStops(t *testing.T) {
	rec := &recorder{}
	p := newTestPipeline(t, PipelineConfig{
		Mode:        model.ModeWeekly,
		PreCommands: []string{"scrape"},
	}, rec, errors.New("exit status 1"))

	err := p.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), `pre-command "scrape"`)
	assert.Equal(t, []string{"cmd:scrape"}, rec.calls)
}

func TestPipeline_BlankPreCommandRejected(t *testing.T) {
	rec := &recorder{}
	p := newTestPipeline(t, PipelineConfig{Mode: model.ModeDaily, PreCommands: []string{"   "}}, rec, nil)

	err := p.Run(context.Background())
	require.Error(t, err)
	assert.Empty(t, rec.calls)
}

func TestPipeline_ImportFailure(t *testing.T) {
	rec := &recorder{}
	p := newTestPipeline(t, PipelineConfig{Mode: model.ModeImportOnly}, rec, nil)
	p.load = rec.step("import", errors.New("db down"))

	err := p.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")
}

func TestPipeline_LockHeld(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "refresh.lock")
	lk := flock.New(lockPath)
	ok, err := lk.TryLock()
	require.NoError(t, err)
	require.True(t, ok)
	t.Cleanup(func() { _ = lk.Unlock() })

	rec := &recorder{}
	p := newTestPipeline(t, PipelineConfig{Mode: model.ModeDaily, LockPath: lockPath}, rec, nil)

	assert.ErrorIs(t, p.Run(context.Background()), ErrAlreadyRunning)
	assert.Empty(t, rec.calls)
}

func TestPipeline_UnknownMode(t *testing.T) {
	rec := &recorder{}
	p := newTestPipeline(t, PipelineConfig{Mode: "hourly"}, rec, nil)
	assert.ErrorIs(t, p.Run(context.Background()), ErrUnknownMode)
}

func TestPipeline_HealthCheck(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"total_deals":12,"ingestion_stale":false,"latest_ingestion":{"status":"success"}}`))
	}))
	defer healthy.Close()

	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	}))
	defer broken.Close()

	plain := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	defer plain.Close()

	tests := []struct {
		name    string
		url     string
		strict  bool
		wantErr bool
	}{
		{"healthy", healthy.URL + "/health", true, false},
		{"non-json body", plain.URL, true, false},
		{"failure strict", broken.URL, true, true},
		{"failure lenient", broken.URL, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recorder{}
			p := newTestPipeline(t, PipelineConfig{
				Mode:         model.ModeImportOnly,
				HealthURL:    tt.url,
				StrictHealth: tt.strict,
			}, rec, nil)

			err := p.Run(context.Background())
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "status 404")
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, []string{"import"}, rec.calls)
		})
	}
}

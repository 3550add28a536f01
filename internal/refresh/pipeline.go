package refresh

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/grandcru/winematch/internal/model"
	"github.com/grandcru/winematch/internal/resilience"
)

const healthTimeout = 20 * time.Second

// Step is one stage of the child pipeline.
type Step func(ctx context.Context) error

// PipelineConfig configures the child side of a refresh.
type PipelineConfig struct {
	Mode     model.RefreshMode
	LockPath string
	// PreCommands run before resolution in daily and weekly modes. Each entry
	// is split on whitespace; no shell is involved.
	PreCommands  []string
	WorkDir      string
	HealthURL    string
	StrictHealth bool
}

// Pipeline runs pre-commands, the resolver, the importer and a health check
// while holding the refresh lock.
type Pipeline struct {
	cfg     PipelineConfig
	resolve Step
	load    Step

	httpClient *http.Client
	runCommand func(ctx context.Context, argv []string, dir string) error
	retry      resilience.Policy
}

// NewPipeline creates a Pipeline. resolve may be nil for modes that skip
// resolution.
func NewPipeline(cfg PipelineConfig, resolve, load Step) *Pipeline {
	return &Pipeline{
		cfg:        cfg,
		resolve:    resolve,
		load:       load,
		httpClient: &http.Client{Timeout: healthTimeout},
		runCommand: execCommand,
		retry:      resilience.Policy{Attempts: 2, BaseDelay: time.Second, MaxDelay: 5 * time.Second},
	}
}

// Run executes the pipeline. It fails with ErrAlreadyRunning when another
// process holds the lock.
func (p *Pipeline) Run(ctx context.Context) error {
	if !p.cfg.Mode.Valid() {
		return eris.Wrapf(ErrUnknownMode, "mode %q", p.cfg.Mode)
	}

	if err := os.MkdirAll(filepath.Dir(p.cfg.LockPath), 0o755); err != nil {
		return eris.Wrapf(err, "refresh: create lock dir for %s", p.cfg.LockPath)
	}
	lk := flock.New(p.cfg.LockPath)
	ok, err := lk.TryLock()
	if err != nil {
		return eris.Wrapf(err, "refresh: lock %s", p.cfg.LockPath)
	}
	if !ok {
		return ErrAlreadyRunning
	}
	defer func() {
		if err := lk.Unlock(); err != nil {
			zap.L().Warn("refresh: unlock", zap.Error(err))
		}
	}()

	log := zap.L().With(zap.String("mode", string(p.cfg.Mode)))
	log.Info("refresh: pipeline starting")

	if p.cfg.Mode != model.ModeImportOnly {
		for _, command := range p.cfg.PreCommands {
			argv := strings.Fields(command)
			if len(argv) == 0 {
				return eris.Errorf("refresh: invalid empty command %q", command)
			}
			log.Info("refresh: running pre-command", zap.Strings("argv", argv))
			if err := p.runCommand(ctx, argv, p.cfg.WorkDir); err != nil {
				return eris.Wrapf(err, "refresh: pre-command %q", command)
			}
		}
		if p.resolve != nil {
			if err := p.resolve(ctx); err != nil {
				return eris.Wrap(err, "refresh: resolve")
			}
		}
	}

	if err := p.load(ctx); err != nil {
		return eris.Wrap(err, "refresh: import")
	}

	if url := strings.TrimSpace(p.cfg.HealthURL); url != "" {
		if err := p.checkHealth(ctx, url); err != nil {
			if p.cfg.StrictHealth {
				return err
			}
			log.Warn("refresh: health check failed", zap.Error(err))
		}
	}

	log.Info("refresh: done")
	return nil
}

type healthBody struct {
	TotalDeals      *int  `json:"total_deals"`
	IngestionStale  *bool `json:"ingestion_stale"`
	LatestIngestion *struct {
		Status string `json:"status"`
	} `json:"latest_ingestion"`
}

func (p *Pipeline) checkHealth(ctx context.Context, url string) error {
	zap.L().Info("refresh: checking health", zap.String("url", url))

	payload, err := resilience.Retry(ctx, p.retry, "refresh.health", func(ctx context.Context) ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, eris.Wrap(err, "refresh: health request")
		}
		resp, err := p.httpClient.Do(req)
		if err != nil {
			return nil, eris.Wrap(err, "refresh: health check failed")
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return nil, eris.Wrap(err, "refresh: read health response")
		}
		if resp.StatusCode >= 300 {
			return nil, resilience.ClassifyStatus(
				eris.Errorf("refresh: health check failed: status %d", resp.StatusCode), resp.StatusCode)
		}
		return body, nil
	})
	if err != nil {
		return err
	}

	var body healthBody
	if err := json.Unmarshal(payload, &body); err != nil {
		zap.L().Info("refresh: health response (raw)", zap.String("body", truncate(string(payload), 400)))
		return nil
	}
	fields := []zap.Field{}
	if body.TotalDeals != nil {
		fields = append(fields, zap.Int("total_deals", *body.TotalDeals))
	}
	if body.IngestionStale != nil {
		fields = append(fields, zap.Bool("ingestion_stale", *body.IngestionStale))
	}
	if body.LatestIngestion != nil {
		fields = append(fields, zap.String("latest_status", body.LatestIngestion.Status))
	}
	zap.L().Info("refresh: health ok", fields...)
	return nil
}

func execCommand(ctx context.Context, argv []string, dir string) error {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return eris.Wrapf(err, "run %s", argv[0])
	}
	return nil
}

func truncate(s string, n int) string {
	if r := []rune(s); len(r) > n {
		return string(r[:n])
	}
	return s
}

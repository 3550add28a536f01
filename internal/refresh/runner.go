package refresh

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/grandcru/winematch/internal/model"
)

// Trigger sources recorded on a run.
const (
	TriggerAPI = "api"
	TriggerCLI = "cli"
)

// RunnerConfig locates the runner's files and the child binary.
type RunnerConfig struct {
	// DataDir holds the state file, lock file and run logs.
	DataDir   string
	StatePath string
	LockPath  string
	// Executable is the binary re-invoked as "refresh run".
	Executable string
	// WorkDir is the child's working directory.
	WorkDir          string
	Provider         string
	DefaultHealthURL string
}

// Options describes one requested run.
type Options struct {
	Mode         model.RefreshMode
	HealthURL    string
	StrictHealth bool
	TriggeredBy  string
}

// LogTail is the end of the current run's log.
type LogTail struct {
	RunID   string `json:"run_id"`
	LogTail string `json:"log_tail"`
}

// Runner starts at most one refresh child at a time and tracks its state.
type Runner struct {
	cfg      RunnerConfig
	launcher Launcher
	now      func() time.Time

	mu    sync.Mutex
	state model.RefreshRun
	proc  Process
	done  chan struct{}
	// supervisor is held from launch until the child exits, covering the
	// gap before the child takes the run lock.
	supervisor *flock.Flock
}

// DefaultStateFile and DefaultLockFile are placed under DataDir when the
// paths are not set.
const (
	DefaultStateFile = "ops_refresh_state.json"
	DefaultLockFile  = "refresh.lock"
)

// DefaultLockPath returns the lock file used under dataDir.
func DefaultLockPath(dataDir string) string {
	if dataDir == "" {
		dataDir = "data"
	}
	return filepath.Join(dataDir, DefaultLockFile)
}

// NewRunner loads the persisted state. A state left "running" by a previous
// server process is reported unchanged.
func NewRunner(cfg RunnerConfig, launcher Launcher) (*Runner, error) {
	if cfg.DataDir == "" {
		cfg.DataDir = "data"
	}
	if cfg.StatePath == "" {
		cfg.StatePath = filepath.Join(cfg.DataDir, DefaultStateFile)
	}
	if cfg.LockPath == "" {
		cfg.LockPath = DefaultLockPath(cfg.DataDir)
	}
	if launcher == nil {
		launcher = ExecLauncher{}
	}

	r := &Runner{cfg: cfg, launcher: launcher, now: time.Now}
	state, err := loadState(cfg.StatePath)
	if err != nil {
		return nil, err
	}
	r.state = state
	if state.Status == model.RefreshRunning || state.Status == model.RefreshStarting {
		zap.L().Warn("refresh: persisted run not supervised by this process",
			zap.String("run_id", state.RunID),
			zap.String("status", string(state.Status)),
			zap.Bool("lock_held", lockHeld(cfg.LockPath)),
		)
	}
	return r, nil
}

// LockPath returns the path the child locks while it runs.
func (r *Runner) LockPath() string { return r.cfg.LockPath }

// SupervisorLockPath returns the path a parent locks while it supervises a
// child.
func (r *Runner) SupervisorLockPath() string { return r.cfg.LockPath + ".supervisor" }

// Status returns a copy of the current state.
func (r *Runner) Status() model.RefreshRun {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.proc == nil {
		r.reload()
	}
	return r.snapshot()
}

// Running reports whether a child supervised by this runner is alive or the
// lock is held by another process.
func (r *Runner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.proc != nil || lockHeld(r.SupervisorLockPath()) || lockHeld(r.cfg.LockPath)
}

// Start launches a child for opts.Mode. When a run is already in progress it
// returns the current state with ErrAlreadyRunning.
func (r *Runner) Start(ctx context.Context, opts Options) (model.RefreshRun, error) {
	if err := ctx.Err(); err != nil {
		return model.RefreshRun{}, eris.Wrap(err, "refresh: start")
	}
	if !opts.Mode.Valid() {
		return model.RefreshRun{}, eris.Wrapf(ErrUnknownMode, "mode %q", opts.Mode)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.proc != nil {
		return r.snapshot(), ErrAlreadyRunning
	}

	sup, err := r.acquireSupervisor()
	if err != nil {
		return r.snapshot(), err
	}
	if sup == nil || lockHeld(r.cfg.LockPath) {
		if sup != nil {
			_ = sup.Unlock()
		}
		r.reload()
		return r.snapshot(), ErrAlreadyRunning
	}
	r.supervisor = sup

	argv, err := BuildCommand(r.cfg.Executable, opts.Mode, CommandOptions{
		Provider:         r.cfg.Provider,
		HealthURL:        opts.HealthURL,
		DefaultHealthURL: r.cfg.DefaultHealthURL,
		StrictHealth:     opts.StrictHealth,
	})
	if err != nil {
		r.releaseSupervisor()
		return model.RefreshRun{}, err
	}

	runID := uuid.New().String()
	started := r.now().UTC()
	r.state = model.RefreshRun{
		RunID:       runID,
		Status:      model.RefreshStarting,
		Mode:        opts.Mode,
		TriggeredBy: opts.TriggeredBy,
		StartedAt:   &started,
		Command:     argv,
		LogPath:     filepath.Join(r.cfg.DataDir, "refresh_"+runID+".log"),
	}
	if err := r.save(); err != nil {
		r.releaseSupervisor()
		return r.snapshot(), err
	}

	if err := os.MkdirAll(r.cfg.DataDir, 0o755); err != nil {
		return r.finish(-1), eris.Wrapf(err, "refresh: create %s", r.cfg.DataDir)
	}
	logFile, err := os.Create(r.state.LogPath)
	if err != nil {
		return r.finish(-1), eris.Wrapf(err, "refresh: create log %s", r.state.LogPath)
	}

	proc, err := r.launcher.Launch(argv, r.cfg.WorkDir, logFile)
	if err != nil {
		logFile.Close()
		return r.finish(-1), err
	}

	r.proc = proc
	r.done = make(chan struct{})
	r.state.Status = model.RefreshRunning
	r.state.PID = proc.PID()
	if err := r.save(); err != nil {
		zap.L().Error("refresh: save state", zap.Error(err))
	}

	zap.L().Info("refresh: started",
		zap.String("run_id", runID),
		zap.String("mode", string(opts.Mode)),
		zap.String("triggered_by", opts.TriggeredBy),
		zap.Int("pid", r.state.PID),
	)

	go r.wait(proc, logFile, r.done)
	return r.snapshot(), nil
}

// Wait blocks until the supervised child exits or ctx is done and returns the
// resulting state. It returns immediately when nothing is running.
func (r *Runner) Wait(ctx context.Context) (model.RefreshRun, error) {
	r.mu.Lock()
	done := r.done
	r.mu.Unlock()

	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return r.Status(), eris.Wrap(ctx.Err(), "refresh: wait")
		}
	}
	return r.Status(), nil
}

// TailLog returns the last lines of the current run's log. A missing log
// yields an empty tail.
func (r *Runner) TailLog(lines int) LogTail {
	st := r.Status()
	out := LogTail{RunID: st.RunID}
	if strings.TrimSpace(st.LogPath) == "" {
		return out
	}
	data, err := os.ReadFile(st.LogPath)
	if err != nil {
		return out
	}
	out.LogTail = tail(string(data), lines)
	return out
}

func (r *Runner) wait(proc Process, logFile *os.File, done chan struct{}) {
	code, err := proc.Wait()
	if err != nil {
		zap.L().Error("refresh: child wait", zap.String("run_id", r.Status().RunID), zap.Error(err))
	}
	if cerr := logFile.Close(); cerr != nil {
		zap.L().Warn("refresh: close log", zap.Error(cerr))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.proc = nil
	if err != nil {
		code = -1
	}
	st := r.finish(code)
	close(done)

	zap.L().Info("refresh: finished",
		zap.String("run_id", st.RunID),
		zap.String("status", string(st.Status)),
		zap.Int("exit_code", code),
	)
}

// finish records the terminal state. Callers hold mu.
func (r *Runner) finish(code int) model.RefreshRun {
	finished := r.now().UTC()
	r.state.ExitCode = &code
	r.state.FinishedAt = &finished
	r.state.PID = 0
	if code == 0 {
		r.state.Status = model.RefreshSuccess
	} else {
		r.state.Status = model.RefreshFailed
	}
	if err := r.save(); err != nil {
		zap.L().Error("refresh: save state", zap.Error(err))
	}
	r.releaseSupervisor()
	return r.snapshot()
}

func (r *Runner) snapshot() model.RefreshRun {
	st := r.state
	st.Command = slices.Clone(r.state.Command)
	return st
}

// acquireSupervisor takes the supervisor lock. It returns nil without an
// error when another runner holds it.
func (r *Runner) acquireSupervisor() (*flock.Flock, error) {
	path := r.SupervisorLockPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, eris.Wrapf(err, "refresh: create lock dir for %s", path)
	}
	lk := flock.New(path)
	ok, err := lk.TryLock()
	if err != nil {
		return nil, eris.Wrapf(err, "refresh: lock %s", path)
	}
	if !ok {
		return nil, nil
	}
	return lk, nil
}

// releaseSupervisor drops the supervisor lock if held. Callers hold mu.
func (r *Runner) releaseSupervisor() {
	if r.supervisor == nil {
		return
	}
	if err := r.supervisor.Unlock(); err != nil {
		zap.L().Warn("refresh: release supervisor lock", zap.Error(err))
	}
	r.supervisor = nil
}

// reload replaces the in-memory state with the persisted one, which another
// runner sharing the data dir may have written. Callers hold mu.
func (r *Runner) reload() {
	st, err := loadState(r.cfg.StatePath)
	if err != nil {
		zap.L().Warn("refresh: reload state", zap.String("path", r.cfg.StatePath), zap.Error(err))
		return
	}
	r.state = st
}

// lockHeld reports whether some other holder has path locked.
func lockHeld(path string) bool {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		zap.L().Warn("refresh: create lock dir", zap.Error(err))
		return false
	}
	lk := flock.New(path)
	ok, err := lk.TryLock()
	if err != nil {
		zap.L().Warn("refresh: probe lock", zap.String("path", path), zap.Error(err))
		return false
	}
	if ok {
		_ = lk.Unlock()
		return false
	}
	return true
}

func (r *Runner) save() error {
	data, err := json.MarshalIndent(r.state, "", "  ")
	if err != nil {
		return eris.Wrap(err, "refresh: marshal state")
	}
	path := r.cfg.StatePath
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrapf(err, "refresh: create dir for %s", path)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return eris.Wrapf(err, "refresh: write %s", tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return eris.Wrapf(err, "refresh: rename %s", tmp)
	}
	return nil
}

// loadState reads the state file. Missing or corrupt content is idle.
func loadState(path string) (model.RefreshRun, error) {
	idle := model.RefreshRun{Status: model.RefreshIdle}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return idle, nil
		}
		return idle, eris.Wrapf(err, "refresh: read %s", path)
	}
	var st model.RefreshRun
	if err := json.Unmarshal(data, &st); err != nil || st.Status == "" {
		zap.L().Warn("refresh: ignoring unreadable state", zap.String("path", path))
		return idle, nil
	}
	return st, nil
}

func tail(content string, lines int) string {
	if lines <= 0 || content == "" {
		return ""
	}
	parts := strings.SplitAfter(content, "\n")
	if parts[len(parts)-1] == "" {
		parts = parts[:len(parts)-1]
	}
	if len(parts) > lines {
		parts = parts[len(parts)-lines:]
	}
	return strings.Join(parts, "")
}

package main

import (
	"context"
	"errors"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/grandcru/winematch/internal/config"
	"github.com/grandcru/winematch/internal/model"
	"github.com/grandcru/winematch/internal/refresh"
)

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Run or inspect supervised data refreshes",
}

var (
	refreshMode         string
	refreshHealthURL    string
	refreshStrictHealth bool
	refreshLogLines     int
)

func newRunner(c *config.Config) (*refresh.Runner, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, eris.Wrap(err, "resolve executable")
	}
	wd, err := os.Getwd()
	if err != nil {
		return nil, eris.Wrap(err, "working directory")
	}
	return refresh.NewRunner(refresh.RunnerConfig{
		DataDir:          c.Refresh.DataDir,
		StatePath:        c.Refresh.StateFile,
		LockPath:         c.Refresh.LockFile,
		Executable:       exe,
		WorkDir:          wd,
		Provider:         c.Refresh.Provider,
		DefaultHealthURL: c.Refresh.HealthURL,
	}, refresh.ExecLauncher{})
}

var refreshStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a refresh child and wait for it to finish",
	RunE: func(cmd *cobra.Command, _ []string) error {
		mode, err := refresh.ParseMode(refreshMode)
		if err != nil {
			return err
		}
		runner, err := newRunner(cfg)
		if err != nil {
			return err
		}

		st, err := runner.Start(cmd.Context(), refresh.Options{
			Mode:         mode,
			HealthURL:    refreshHealthURL,
			StrictHealth: refreshStrictHealth || cfg.Refresh.StrictHealth,
			TriggeredBy:  refresh.TriggerCLI,
		})
		if errors.Is(err, refresh.ErrAlreadyRunning) {
			if perr := printJSON(cmd.ErrOrStderr(), st); perr != nil {
				zap.L().Warn("print state", zap.Error(perr))
			}
			return err
		}
		if err != nil {
			return err
		}
		zap.L().Info("refresh started", zap.String("run_id", st.RunID), zap.String("log", st.LogPath))

		final, err := runner.Wait(cmd.Context())
		if err != nil {
			return err
		}
		if err := printJSON(cmd.OutOrStdout(), final); err != nil {
			return err
		}
		if final.Status != model.RefreshSuccess {
			return eris.Errorf("refresh %s finished with status %s", final.RunID, final.Status)
		}
		return nil
	},
}

var refreshStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the current or last refresh state",
	RunE: func(cmd *cobra.Command, _ []string) error {
		runner, err := newRunner(cfg)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), runner.Status())
	},
}

var refreshLogCmd = &cobra.Command{
	Use:   "log",
	Short: "Print the tail of the current refresh log",
	RunE: func(cmd *cobra.Command, _ []string) error {
		runner, err := newRunner(cfg)
		if err != nil {
			return err
		}
		tl := runner.TailLog(refreshLogLines)
		_, err = cmd.OutOrStdout().Write([]byte(tl.LogTail))
		return err
	},
}

var refreshRunOpts resolveFlags

var refreshRunCmd = &cobra.Command{
	Use:    "run",
	Short:  "Execute the refresh pipeline in the foreground",
	Hidden: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		mode, err := refresh.ParseMode(refreshMode)
		if err != nil {
			return err
		}
		refreshRunOpts.apply(cmd, cfg)
		if err := cfg.Validate("refresh"); err != nil {
			return err
		}

		healthURL := refreshHealthURL
		if healthURL == "" {
			healthURL = cfg.Refresh.HealthURL
		}
		lockPath := cfg.Refresh.LockFile
		if lockPath == "" {
			lockPath = refresh.DefaultLockPath(cfg.Refresh.DataDir)
		}

		p := refresh.NewPipeline(refresh.PipelineConfig{
			Mode:         mode,
			LockPath:     lockPath,
			PreCommands:  cfg.Refresh.PreCommands[string(mode)],
			HealthURL:    healthURL,
			StrictHealth: refreshStrictHealth || cfg.Refresh.StrictHealth,
		},
			func(ctx context.Context) error {
				_, err := runResolve(ctx, cfg)
				return err
			},
			func(ctx context.Context) error {
				_, err := runImport(ctx, cfg)
				return err
			},
		)
		return p.Run(cmd.Context())
	},
}

func init() {
	for _, c := range []*cobra.Command{refreshStartCmd, refreshRunCmd} {
		c.Flags().StringVar(&refreshMode, "mode", string(model.ModeDaily), "refresh mode: daily, weekly, import_only")
		c.Flags().StringVar(&refreshHealthURL, "health-url", "", "GET this URL after import")
		c.Flags().BoolVar(&refreshStrictHealth, "strict-health", false, "fail the run when the health check fails")
	}
	refreshRunOpts.register(refreshRunCmd)
	refreshLogCmd.Flags().IntVar(&refreshLogLines, "lines", 200, "number of log lines")

	refreshCmd.AddCommand(refreshStartCmd, refreshStatusCmd, refreshLogCmd, refreshRunCmd)
	rootCmd.AddCommand(refreshCmd)
}

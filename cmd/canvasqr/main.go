/*
 * Copyright (c) 2025 by the canvasqr authors.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */


// Command canvasqr runs the design editor API and its offline tools.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"canvasqr/internal/config"
	"canvasqr/internal/crash"
	applog "canvasqr/internal/log"
	"canvasqr/internal/storage"
	"canvasqr/internal/version"
)

// crashOpts is filled in as collaborators come up; Recover reads it at panic time.
var crashOpts crash.Options

func main() {
	defer crash.Recover(&crashOpts)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "canvasqr: %v\n", err)
		stop()
		os.Exit(1)
	}
}

// app carries the resolved configuration to subcommands.
type app struct {
	configPath string
	envFile    string
	cfg        config.AppConfig
	sec        config.Secrets
	l          *slog.Logger
}

func newRootCommand() *cobra.Command {
	a := &app{}
	cmd := &cobra.Command{
		Use:           "canvasqr",
		Short:         "Canvas design editor backend",
		Long:          `canvasqr serves the design editor API (canvas sessions, rendering, QR codes, templates) and offers offline render, QR and workspace tools.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
	}
	cmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "Config file (default: per-user config.yaml)")
	cmd.PersistentFlags().StringVar(&a.envFile, "env-file", ".env", "Dotenv file loaded before config resolution")
	cmd.AddCommand(
		newVersionCmd(),
		newServeCmd(a),
		newWorkerCmd(a),
		newInitCmd(a),
		newRenderCmd(a),
		newQRCmd(a),
		newImportCmd(a),
		newTemplatesCmd(a),
		newPushCmd(a),
		newTokenCmd(a),
		newSecretCmd(a),
	)
	return cmd
}

func (a *app) setup() error {
	if a.envFile != "" {
		if err := godotenv.Load(a.envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load %s: %w", a.envFile, err)
		}
	}
	var err error
	if a.configPath != "" {
		a.cfg, a.sec, err = config.LoadFrom(a.configPath)
	} else {
		a.cfg, a.sec, err = config.Load()
		if errors.Is(err, config.ErrNoConfigDir) {
			err = nil
		}
	}
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	applog.Init(applog.Options{
		Level:     a.cfg.Logging.Level,
		Format:    a.cfg.Logging.Format,
		AddSource: a.cfg.Logging.Source,
		File:      a.cfg.Logging.File,
		Rotate: applog.Rotation{
			MaxSizeMB:  a.cfg.Logging.MaxSizeMB,
			MaxBackups: a.cfg.Logging.MaxBackups,
			MaxAgeDays: a.cfg.Logging.MaxAgeDays,
		},
	})
	a.l = applog.WithComponent("cli")
	crashOpts.Dir = filepath.Join(a.cfg.General.DataDir, "crash")
	return nil
}

// workspace opens the local workspace under the configured data dir.
func (a *app) workspace(ctx context.Context) (*storage.Workspace, error) {
	ws, err := storage.Open(ctx, a.cfg.General.DataDir, storage.Options{
		KeepSnapshots:   a.cfg.Storage.SnapshotKeep,
		PreviewCapBytes: a.cfg.Storage.PreviewMaxBytes,
	})
	if err != nil {
		return nil, fmt.Errorf("open workspace %s: %w", a.cfg.General.DataDir, err)
	}
	return ws, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), version.String())
			return err
		},
	}
}

func newInitCmd(a *app) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default config file and create the data directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := a.configPath
			if path == "" {
				p, err := config.ConfigPath()
				if err != nil {
					return err
				}
				path = p
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := config.Save(path, a.cfg, ""); err != nil {
				return fmt.Errorf("write config: %w", err)
			}
			if err := os.MkdirAll(a.cfg.General.DataDir, 0o755); err != nil {
				return fmt.Errorf("create data dir: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "config written to %s\ndata dir %s\n", path, a.cfg.General.DataDir)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing config file")
	return cmd
}

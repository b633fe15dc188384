package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"smtm/internal/app"
	"smtm/internal/config"
	"smtm/internal/logger"
)

const defaultConfigPath = "configs/config.yaml"

var rootCmd = &cobra.Command{
	Use:   "smtm",
	Short: "Trading bot operator for Upbit",
	Long: `smtm runs a trading strategy against Upbit candles.

  console   interactive simulator (default)
  simulate  one simulation over the configured window, results saved
  live      trade the live budget with real orders`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		envFile, _ := cmd.Flags().GetString("env-file")
		if err := loadEnvFile(envFile); err != nil {
			return err
		}
		cfgPath, _ := cmd.Flags().GetString("config")
		cfgPath = resolveConfigPath(cfgPath)
		modeRaw, _ := cmd.Flags().GetString("mode")
		mode, err := app.ParseMode(modeRaw)
		if err != nil {
			return err
		}

		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		logFile, err := setupLogOutput(cfg.App.LogPath)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		if logFile != nil {
			defer logFile.Close()
		}
		logger.SetLevel(cfg.App.LogLevel)
		if cfgPath == "" {
			logger.Infof("no config file, using defaults and environment (env=%s)", cfg.App.Env)
		} else {
			logger.Infof("config loaded from %s (env=%s)", cfgPath, cfg.App.Env)
		}

		a, err := app.New(cfg, mode, app.WithConfigPath(cfgPath))
		if err != nil {
			return err
		}
		defer a.Close()
		return a.Run(context.Background())
	},
}

func main() {
	rootCmd.Flags().StringP("config", "c", "", "config file; defaults to $SMTM_CONFIG, then "+defaultConfigPath+" if present")
	rootCmd.Flags().StringP("mode", "m", string(app.ModeConsole), "console, simulate or live")
	rootCmd.Flags().String("env-file", ".env", "dotenv file with Upbit keys; missing files are ignored")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadEnvFile(path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func resolveConfigPath(flag string) string {
	if p := strings.TrimSpace(flag); p != "" {
		return p
	}
	if p := strings.TrimSpace(os.Getenv("SMTM_CONFIG")); p != "" {
		return p
	}
	if _, err := os.Stat(defaultConfigPath); err == nil {
		return defaultConfigPath
	}
	return ""
}

func setupLogOutput(path string) (*os.File, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, nil
	}
	dir := filepath.Dir(trimmed)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	file, err := os.OpenFile(trimmed, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	mw := io.MultiWriter(os.Stdout, file)
	log.SetOutput(mw)
	logger.SetOutput(mw)
	return file, nil
}

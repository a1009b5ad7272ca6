// transcriptctl 转录宿主的命令行入口: 无界面服务、日志回放、数据库迁移。
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/multi-agent/agent-shell/internal/config"
	"github.com/multi-agent/agent-shell/pkg/logger"
)

var (
	envFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "transcriptctl",
	Short: "Headless transcript host and tooling",
	Long: `Runs the transcript host without a window, replays recorded agent
event logs into the terminal, and manages the history database.

Example:
  transcriptctl serve --listen 127.0.0.1:4600
  transcriptctl replay session.jsonl --width 100
  transcriptctl replay agent.log --follow
  transcriptctl migrate
  transcriptctl sessions --limit 20`,
	SilenceUsage: true,
}

func main() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env", ".env", ".env file to load before reading configuration")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newReplayCmd())
	rootCmd.AddCommand(newMigrateCmd())
	rootCmd.AddCommand(newSessionsCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig 加载配置并初始化日志。
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadWithDotenv(envFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger.Init(cfg.LogEnv)
	if verbose {
		logger.SetLevel("DEBUG")
	} else {
		logger.SetLevel(cfg.LogLevel)
	}
	return cfg, nil
}

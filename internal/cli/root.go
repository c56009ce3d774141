// Package cli sharedash 命令行
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"sharedash/internal/config"
	"sharedash/internal/metrics"
	"sharedash/pkg/logger"
)

var (
	// 全局参数
	cfgFile  string
	logLevel string

	// 在 PersistentPreRunE 中加载
	cfg *config.Config

	// 全局 context，收到信号时取消
	rootContext context.Context
	cancelFunc  context.CancelFunc
)

// Version 构建时注入
var Version = "v0.1.0-dev"

// NewRootCmd 创建根命令
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "sharedash",
		Short: "Browse a SharePoint document library, select files and batch-process them",
		Long: `sharedash ` + Version + `
Navigate the folders of a SharePoint / OneDrive document library,
select files across folders, pick an upload destination and run
download -> transform -> upload for every selected file.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.LoadConfig(cfgFile)
			if err != nil {
				return fmt.Errorf("配置加载失败: %w", err)
			}
			if logLevel != "" {
				loaded.System.LogLevel = logLevel
			}
			if _, err := logger.Setup(loaded.System.LogLevel, loaded.System.LogFile, loaded.System.LogFormat); err != nil {
				return fmt.Errorf("日志初始化失败: %w", err)
			}
			cfg = loaded

			if cfg.Metrics.Listen != "" {
				go func() {
					if err := metrics.Serve(GetContext(), cfg.Metrics.Listen); err != nil {
						slog.Error("metrics 服务异常退出", "err", err)
					}
				}()
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "config/config.yaml", "Configuration file path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides config)")
	rootCmd.Version = Version
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	return rootCmd
}

// Execute 运行命令行
func Execute() error {
	rootContext, cancelFunc = context.WithCancel(context.Background())
	defer cancelFunc()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		for sig := range sigChan {
			if sig != nil {
				slog.Warn("接收到信号，正在取消当前操作...", "signal", sig)
				cancelFunc()
			}
		}
	}()

	rootCmd := NewRootCmd()
	AddCommands(rootCmd)
	err := rootCmd.Execute()

	signal.Stop(sigChan)
	close(sigChan)

	return err
}

// AddCommands 注册所有子命令
func AddCommands(rootCmd *cobra.Command) {
	rootCmd.AddCommand(newBrowseCmd())
	rootCmd.AddCommand(newLsCmd())
	rootCmd.AddCommand(newStatsCmd())
	rootCmd.AddCommand(newLoginCmd())
}

// GetContext 返回全局 context，未初始化时返回 Background
func GetContext() context.Context {
	if rootContext == nil {
		return context.Background()
	}
	return rootContext
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"nox-backend/internal/app"
	"nox-backend/internal/config"
	"nox-backend/internal/logging"
	"nox-backend/internal/player"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "nox-backend",
	Short:         "音乐搜索、播放和歌词同步服务",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withServices(cmd.Context(), func(ctx context.Context, svc *app.Services) error {
			log.Info().Msg("Starting nox-backend daemon...")
			return app.New(svc.Config, svc, player.NewPlayerctl(nil)).Run(ctx)
		})
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "配置文件路径（默认 $XDG_CONFIG_HOME/nox/config.toml）")
}

// withServices 加载配置、初始化日志并创建组件
func withServices(ctx context.Context, fn func(ctx context.Context, svc *app.Services) error) error {
	cfg := config.Load()
	if configPath != "" {
		cfg = config.LoadFile(configPath)
	}

	closer := logging.Setup(logging.Config(cfg.Log))
	defer closer.Close()

	svc, err := app.NewServices(ctx, cfg)
	if err != nil {
		return err
	}
	defer svc.Close()
	return fn(ctx, svc)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

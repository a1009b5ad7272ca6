// cmd/agent-shell: Wails v3 原生转录窗口。
//
// 统一架构:
//   - 内嵌 apiserver: agent 通过 /ws/agent 或 POST /api/events 推送事件
//   - 转录视图通过 Wails Events 推送到前端, 前端通过绑定方法回传滚动/中断/发送
//
// 构建:
//
//	go build -tags "production" -o agent-shell ./cmd/agent-shell/
package main

import (
	"context"
	"embed"
	"flag"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"

	"github.com/wailsapp/wails/v3/pkg/application"

	"github.com/multi-agent/agent-shell/internal/config"
	"github.com/multi-agent/agent-shell/internal/host"
	"github.com/multi-agent/agent-shell/pkg/logger"
	"github.com/multi-agent/agent-shell/pkg/util"
)

//go:embed frontend/dist/*
var assets embed.FS

// frontendAssets 返回前端静态资源 FS, 去掉 "frontend/dist" 前缀。
func frontendAssets() http.FileSystem {
	sub, err := fs.Sub(assets, "frontend/dist")
	if err != nil {
		logger.Error("embed: failed to sub frontend/dist", logger.FieldError, err)
		return http.FS(assets)
	}
	return http.FS(sub)
}

func main() {
	envFile := flag.String("env", ".env", ".env 文件路径")
	session := flag.String("session", "", "恢复指定会话 (覆盖 AGENT_SHELL_SESSION_ID)")
	flag.Parse()

	cfg, err := config.LoadWithDotenv(*envFile)
	if err != nil {
		logger.Fatal("config load failed", logger.FieldError, err)
	}
	if *session != "" {
		cfg.SessionID = *session
	}

	// 日志持久化: stdout + 文件
	if err := logger.InitWithFile(cfg.LogEnv, cfg.LogDir); err != nil {
		logger.Warn("file logging unavailable", logger.FieldError, err)
	}
	logger.SetLevel(cfg.LogLevel)

	info := currentBuildInfo()
	logger.Info("build info",
		logger.FieldVersion, info.Version,
		"commit", info.Commit,
		"build_time", info.BuildTime,
		"runtime", info.Runtime,
	)

	// ─── 上下文 & 优雅关停 ───
	ctx, cancel, shutdownReason, cancelWithReason, signalCleanup := setupShutdownSignals()
	defer cancel()
	defer signalCleanup()

	h, err := host.Build(ctx, cfg)
	if err != nil {
		logger.Fatal("host build failed", logger.FieldError, err)
	}
	util.SafeGo(func() {
		if err := h.Run(ctx); err != nil {
			logger.Error("host run failed", logger.FieldError, err)
			cancelWithReason("host_run_failed")
		}
	})

	appSvc := NewApp(h)
	var shuttingDown atomic.Bool
	app := application.New(application.Options{
		Name: "Agent Shell",
		Assets: application.AssetOptions{
			Handler: http.FileServer(frontendAssets()),
		},
		Services: []application.Service{
			application.NewService(appSvc),
		},
		Mac: application.MacOptions{
			ApplicationShouldTerminateAfterLastWindowClosed: true,
		},
		OnShutdown: func() {
			shuttingDown.Store(true)
			cancelWithReason("wails_on_shutdown")
			reason, _ := shutdownReason.Load().(string)
			logger.Warn("on-shutdown: begin", "reason", reason)
			h.Close()
			logger.ShutdownFileHandler()
			logger.Warn("on-shutdown: completed", "reason", reason)
		},
	})
	appSvc.wailsApp = app

	// OS 信号到达时让 Wails 退出主循环
	util.SafeGo(func() {
		<-ctx.Done()
		if !shuttingDown.Load() {
			app.Quit()
		}
	})

	app.Window.NewWithOptions(application.WebviewWindowOptions{
		Title:           "Agent Shell",
		Width:           1100,
		Height:          820,
		MinWidth:        560,
		MinHeight:       420,
		InitialPosition: application.WindowCentered,
		BackgroundColour: application.RGBA{
			Red: 12, Green: 16, Blue: 23, Alpha: 255,
		},
		Mac: application.MacWindow{
			TitleBar: application.MacTitleBarDefault,
		},
	})

	if err := app.Run(); err != nil {
		logger.Error("wails app failed", logger.FieldError, err)
	}
	reason, _ := shutdownReason.Load().(string)
	logger.Warn("wails app exited", "reason", reason)
}

// setupShutdownSignals 初始化上下文 + 优雅关停信号处理。
func setupShutdownSignals() (ctx context.Context, cancel context.CancelFunc, shutdownReason *atomic.Value, cancelWithReason func(string), cleanup func()) {
	ctx, cancel = signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	shutdownReason = &atomic.Value{}
	shutdownReason.Store("unknown")

	recordShutdownReason := func(reason string) {
		if strings.TrimSpace(reason) == "" {
			return
		}
		current, _ := shutdownReason.Load().(string)
		if strings.TrimSpace(current) == "" || current == "unknown" {
			shutdownReason.Store(reason)
		}
	}
	cancelWithReason = func(reason string) {
		recordShutdownReason(reason)
		cancel()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	util.SafeGo(func() {
		for sig := range sigCh {
			if sig == nil {
				continue
			}
			recordShutdownReason("os_signal:" + sig.String())
			logger.Warn("shutdown trigger: OS signal received", "signal", sig.String())
			cancel()
		}
	})

	cleanup = func() { signal.Stop(sigCh); close(sigCh) }
	return ctx, cancel, shutdownReason, cancelWithReason, cleanup
}

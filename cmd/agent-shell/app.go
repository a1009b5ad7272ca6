// app.go: Wails 绑定: 转录视图推送 + 用户交互回传。
//
// 前端通过 wails.Call.ByName("main.App.XXX") 调用, 订阅 "transcript:changed" 事件。
package main

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/wailsapp/wails/v3/pkg/application"

	"github.com/multi-agent/agent-shell/internal/apiserver"
	"github.com/multi-agent/agent-shell/internal/host"
	"github.com/multi-agent/agent-shell/internal/store"
	"github.com/multi-agent/agent-shell/internal/transcript"
	apperrors "github.com/multi-agent/agent-shell/pkg/errors"
	"github.com/multi-agent/agent-shell/pkg/logger"
	"github.com/multi-agent/agent-shell/pkg/util"
)

const (
	// EventTranscriptChanged 每次转录重绘推送一次, 负载为 transcript.View。
	EventTranscriptChanged = "transcript:changed"

	busSubscriberID = "wails"
	restoreTimeout  = 8 * time.Second
)

// App Wails 绑定服务。
type App struct {
	host     *host.Host
	wailsApp *application.App
	// history 未配置持久化时为 nil
	history apiserver.HistoryReader

	// emit 测试时替换为记录器
	emit func(name string, data any)

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewApp 创建 App 实例。
func NewApp(h *host.Host) *App {
	a := &App{
		host: h,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	if h.Store != nil {
		a.history = h.Store
	}
	a.emit = a.emitWails
	return a
}

func (a *App) emitWails(name string, data any) {
	if a.wailsApp == nil || a.wailsApp.Event == nil {
		return
	}
	a.wailsApp.Event.Emit(name, data)
}

// ServiceStartup Wails v3 Service 生命周期: 订阅总线并转发视图。
func (a *App) ServiceStartup(_ context.Context, _ application.ServiceOptions) error {
	views := a.host.Bus.Subscribe(busSubscriberID)
	util.SafeGo(func() { a.forward(views) })
	return nil
}

// ServiceShutdown Wails v3 Service 生命周期: 停止转发。
func (a *App) ServiceShutdown() error {
	a.stopOnce.Do(func() {
		close(a.stop)
		a.host.Bus.Unsubscribe(busSubscriberID)
	})
	select {
	case <-a.done:
	case <-time.After(2 * time.Second):
		logger.Warn("wails: forward loop did not stop in time")
	}
	return nil
}

func (a *App) forward(views <-chan transcript.View) {
	defer close(a.done)
	for {
		select {
		case <-a.stop:
			return
		case v, ok := <-views:
			if !ok {
				return
			}
			a.emit(EventTranscriptChanged, v)
		}
	}
}

// ========================================
// 绑定方法
// ========================================

// GetTranscript 返回当前完整视图, 前端首次加载时调用。
func (a *App) GetTranscript() transcript.View {
	return a.host.Session.CurrentTranscript()
}

// SendMessage 提交用户消息。空白文本返回 false。
func (a *App) SendMessage(text string) bool {
	if strings.TrimSpace(text) == "" {
		return false
	}
	return a.host.Session.BeginUserTurn(text)
}

// StartTurn 为即将到来的回复预建条目, 返回条目 ID。
func (a *App) StartTurn() string {
	return a.host.Session.StartTurn()
}

// Interrupt 中断当前运行中的工具步骤。
func (a *App) Interrupt() bool {
	return a.host.Session.Interrupt()
}

// ReportScroll 上报视口距底部的像素距离, 返回新的跟随状态。
func (a *App) ReportScroll(distanceFromBottom int) string {
	return string(a.host.Session.ReportScroll(distanceFromBottom))
}

// AttachArtifact 把媒体附加到最近完成的助手条目。
func (a *App) AttachArtifact(url, kind string) (string, error) {
	if strings.TrimSpace(url) == "" {
		return "", apperrors.WithCode(apperrors.ErrInvalidInput, "App.AttachArtifact", apperrors.CodeValidation, "url is required")
	}
	id, ok := a.host.Session.AttachArtifact(url, kind)
	if !ok {
		return "", apperrors.WithCode(apperrors.ErrNotFound, "App.AttachArtifact", apperrors.CodeNotFound, "no finalized assistant entry")
	}
	return id, nil
}

// Restore 从持久化历史重新加载当前会话, 返回恢复的条目数。
func (a *App) Restore() (int, error) {
	if a.history == nil {
		return 0, apperrors.WithCode(apperrors.ErrUnavailable, "App.Restore", apperrors.CodeUnavailable, "history persistence is not configured")
	}
	ctx, cancel := context.WithTimeout(context.Background(), restoreTimeout)
	defer cancel()
	entries, err := a.history.Load(ctx, a.host.Session.ID())
	if err != nil {
		return 0, err
	}
	if len(entries) == 0 {
		return 0, apperrors.WithCode(apperrors.ErrNotFound, "App.Restore", apperrors.CodeNotFound, "no persisted history for this session")
	}
	if !a.host.Session.Hydrate(entries) {
		return 0, apperrors.New("App.Restore", "cannot restore while a response is streaming")
	}
	return len(entries), nil
}

// ListSessions 列出已持久化的会话。
func (a *App) ListSessions(limit int) ([]store.SessionInfo, error) {
	if a.history == nil {
		return nil, apperrors.WithCode(apperrors.ErrUnavailable, "App.ListSessions", apperrors.CodeUnavailable, "history persistence is not configured")
	}
	ctx, cancel := context.WithTimeout(context.Background(), restoreTimeout)
	defer cancel()
	return a.history.Sessions(ctx, limit)
}

// GetBuildInfo 返回构建信息。
func (a *App) GetBuildInfo() BuildInfo {
	return currentBuildInfo()
}

// Package host 组装宿主进程: 配置 → 指标 → 持久化 → 会话 → API 服务。
//
// 桌面应用 (cmd/agent-shell) 与命令行 (cmd/transcriptctl serve) 共用同一套装配。
package host

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/multi-agent/agent-shell/internal/apiserver"
	"github.com/multi-agent/agent-shell/internal/config"
	"github.com/multi-agent/agent-shell/internal/database"
	"github.com/multi-agent/agent-shell/internal/markup"
	"github.com/multi-agent/agent-shell/internal/metrics"
	"github.com/multi-agent/agent-shell/internal/store"
	"github.com/multi-agent/agent-shell/internal/transcript"
	"github.com/multi-agent/agent-shell/pkg/logger"
)

// Host 持有一个会话及其全部协作者。
type Host struct {
	Config  *config.Config
	Metrics *metrics.Metrics
	Bus     *apiserver.EventBus
	Session *transcript.Session
	Server  *apiserver.Server

	// 以下在未配置 PostgreSQL 时为 nil
	Store   *store.TranscriptStore
	History *store.HistoryWriter
	pool    *pgxpool.Pool
}

// Build 装配宿主。数据库不可用时降级为不持久化, 不返回错误。
func Build(ctx context.Context, cfg *config.Config) (*Host, error) {
	h := &Host{Config: cfg, Metrics: metrics.NewDefault()}
	h.Bus = apiserver.NewEventBus(cfg.SSEBufferSize, func(_, dropped int) {
		h.Metrics.ViewPublished(dropped)
	})

	h.setupPersistence(ctx)

	sessionID := cfg.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	deps := transcript.Deps{
		SessionID: sessionID,
		Markup:    markup.New(),
		Observer:  h.Metrics,
		Sink:      h.Bus,
	}
	if h.History != nil {
		deps.OnFinalize = h.History.Hook(sessionID)
	}
	h.Session = transcript.NewSession(cfg.Transcript(), deps)

	if cfg.SessionID != "" && h.Store != nil {
		h.resume(ctx)
	}

	var history apiserver.HistoryReader
	if h.Store != nil {
		history = h.Store
	}
	h.Server = apiserver.New(apiserver.Deps{
		Config:  cfg,
		Session: h.Session,
		Bus:     h.Bus,
		Metrics: h.Metrics,
		History: history,
	})
	return h, nil
}

func (h *Host) setupPersistence(ctx context.Context) {
	if !h.Config.PersistenceEnabled() {
		logger.Info("host: no POSTGRES_CONNECTION_STRING, history persistence disabled")
		return
	}
	pool, err := database.NewPool(ctx, h.Config)
	if err != nil {
		logger.Warn("host: DB not available, history persistence disabled", logger.FieldError, err)
		return
	}
	if err := database.Migrate(ctx, pool, database.Migrations()); err != nil {
		logger.Warn("host: DB migration failed, history persistence disabled", logger.FieldError, err)
		pool.Close()
		return
	}
	h.pool = pool
	h.Store = store.NewTranscriptStore(pool)
	h.History = store.NewHistoryWriter(h.Store, h.Config.HistoryQueueSize, h.Metrics)
}

// resume 从历史恢复指定会话。失败只记日志, 会话以空转录启动。
func (h *Host) resume(ctx context.Context) {
	entries, err := h.Store.Load(ctx, h.Session.ID())
	if err != nil {
		logger.Warn("host: load history failed", logger.FieldSessionID, h.Session.ID(), logger.FieldError, err)
		return
	}
	if len(entries) > 0 && h.Session.Hydrate(entries) {
		logger.Info("host: session resumed", logger.FieldSessionID, h.Session.ID(), logger.FieldCount, len(entries))
	}
}

// Run 运行 API 服务与历史写入器, 任一失败或 ctx 取消时全部退出。
func (h *Host) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return h.Server.ListenAndServe(gctx) })
	if h.History != nil {
		g.Go(func() error { return h.History.Run(gctx) })
	}
	return g.Wait()
}

// Close 关闭会话并释放资源。可在 Run 返回后调用。
func (h *Host) Close() {
	h.Session.Close()
	h.Bus.Close()
	if h.History != nil {
		h.History.Close()
	}
	if h.pool != nil {
		h.pool.Close()
	}
}

package store

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/multi-agent/agent-shell/internal/transcript"
	"github.com/multi-agent/agent-shell/pkg/logger"
	"github.com/multi-agent/agent-shell/pkg/util"
)

// Saver 是 HistoryWriter 的落盘目标 (TranscriptStore 或测试替身)。
type Saver interface {
	Save(ctx context.Context, sessionID string, e transcript.Entry) error
}

// Recorder 接收写入结果计数, 可为 nil。
type Recorder interface {
	HistoryWritten(ok bool)
}

const (
	historyFlushDelay   = 500 * time.Millisecond
	historyBatchSize    = 64
	historyWriteTimeout = 5 * time.Second
)

type historyItem struct {
	sessionID string
	entry     transcript.Entry
}

// ========================================
// HistoryWriter: 收尾条目 → PG 异步写入
// ========================================

// HistoryWriter 将收尾条目异步写入 Saver。
//
// Enqueue 从不阻塞: 队列满时丢弃并告警, 转录渲染不因数据库变慢而卡顿。
// 批次内同一条目只保留最新 revision。
type HistoryWriter struct {
	saver    Saver
	recorder Recorder
	buf      chan historyItem
	done     chan struct{}
	closed   atomic.Bool
}

// NewHistoryWriter 创建并启动后台写入 goroutine。
func NewHistoryWriter(saver Saver, queueSize int, recorder Recorder) *HistoryWriter {
	if queueSize <= 0 {
		queueSize = 256
	}
	w := &HistoryWriter{
		saver:    saver,
		recorder: recorder,
		buf:      make(chan historyItem, queueSize),
		done:     make(chan struct{}),
	}
	util.SafeGo(w.consumeLoop)
	return w
}

// Hook 返回绑定到会话的 transcript.FinalizedHook。
func (w *HistoryWriter) Hook(sessionID string) transcript.FinalizedHook {
	return func(e transcript.Entry) { w.Enqueue(sessionID, e) }
}

// Enqueue 非阻塞推入, 返回是否入队。
func (w *HistoryWriter) Enqueue(sessionID string, e transcript.Entry) bool {
	if w.closed.Load() {
		return false
	}
	queued := false
	func() {
		defer func() {
			if recover() != nil {
				// Close 与 Enqueue 竞争时通道可能已关闭
				queued = false
			}
		}()
		select {
		case w.buf <- historyItem{sessionID: sessionID, entry: e}:
			queued = true
		default:
		}
	}()
	if !queued {
		logger.Warn("history: queue full, entry dropped",
			logger.FieldSessionID, sessionID, logger.FieldEntryID, e.ID)
		w.record(false)
	}
	return queued
}

// Close 停止后台 goroutine 并 flush 剩余条目。可重复调用。
func (w *HistoryWriter) Close() {
	if !w.closed.CompareAndSwap(false, true) {
		<-w.done
		return
	}
	close(w.buf)
	<-w.done
}

// Run 阻塞直到 ctx 取消, 然后关闭写入器。供 errgroup 托管。
func (w *HistoryWriter) Run(ctx context.Context) error {
	select {
	case <-ctx.Done():
	case <-w.done:
	}
	w.Close()
	return nil
}

func (w *HistoryWriter) consumeLoop() {
	defer close(w.done)

	batch := make([]historyItem, 0, historyBatchSize)
	ticker := time.NewTicker(historyFlushDelay)
	defer ticker.Stop()

	for {
		select {
		case item, ok := <-w.buf:
			if !ok {
				if len(batch) > 0 {
					w.flush(batch)
				}
				return
			}
			batch = append(batch, item)
			if len(batch) >= historyBatchSize {
				w.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				w.flush(batch)
				batch = batch[:0]
			}
		}
	}
}

// flush 合并同一条目的多次保存后逐条写入。写入失败只记日志。
func (w *HistoryWriter) flush(batch []historyItem) {
	ctx, cancel := context.WithTimeout(context.Background(), historyWriteTimeout)
	defer cancel()

	for _, item := range coalesce(batch) {
		err := w.saver.Save(ctx, item.sessionID, item.entry)
		if err != nil {
			logger.Warn("history: save failed",
				logger.FieldSessionID, item.sessionID,
				logger.FieldEntryID, item.entry.ID,
				logger.FieldError, err)
		}
		w.record(err == nil)
	}
}

func (w *HistoryWriter) record(ok bool) {
	if w.recorder != nil {
		w.recorder.HistoryWritten(ok)
	}
}

// coalesce 保留每个 (session, entry) 的最高 revision, 顺序按首次出现。
func coalesce(batch []historyItem) []historyItem {
	type key struct{ session, entry string }
	index := make(map[key]int, len(batch))
	out := make([]historyItem, 0, len(batch))
	for _, item := range batch {
		k := key{item.sessionID, item.entry.ID}
		if i, ok := index[k]; ok {
			if item.entry.Revision >= out[i].entry.Revision {
				out[i] = item
			}
			continue
		}
		index[k] = len(out)
		out = append(out, item)
	}
	return out
}

// Package eventlog 读取按行分隔的后端事件日志 (JSONL), 支持 tail -f 式跟随。
//
// 用于离线回放录制的会话, 以及跟随正在写入的日志驱动转录。
package eventlog

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	apperrors "github.com/multi-agent/agent-shell/pkg/errors"
	"github.com/multi-agent/agent-shell/pkg/logger"
)

// DefaultMaxLine 单行上限, 超出的行被丢弃。
const DefaultMaxLine = 1 << 20

// LineFunc 处理一行 (不含换行符)。切片仅在调用期间有效。
type LineFunc func(line []byte)

// splitter 将任意分块的字节流切成完整行, 保留未结束的尾部。
type splitter struct {
	maxLine  int
	partial  []byte
	skipping bool // 当前行已超长, 丢弃直到下一个换行
	dropped  int
}

func newSplitter(maxLine int) *splitter {
	if maxLine <= 0 {
		maxLine = DefaultMaxLine
	}
	return &splitter{maxLine: maxLine}
}

// feed 返回交付的行数。
func (s *splitter) feed(data []byte, fn LineFunc) int {
	n := 0
	for len(data) > 0 {
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			s.buffer(data)
			return n
		}
		s.buffer(data[:i])
		data = data[i+1:]
		if s.skipping {
			s.skipping = false
			s.partial = s.partial[:0]
			continue
		}
		if line := bytes.TrimSpace(s.partial); len(line) > 0 {
			fn(line)
			n++
		}
		s.partial = s.partial[:0]
	}
	return n
}

func (s *splitter) buffer(chunk []byte) {
	if s.skipping {
		return
	}
	if len(s.partial)+len(chunk) > s.maxLine {
		s.skipping = true
		s.dropped++
		s.partial = s.partial[:0]
		logger.Warn("eventlog: line exceeds limit, dropped", logger.FieldLen, s.maxLine)
		return
	}
	s.partial = append(s.partial, chunk...)
}

// flush 交付没有换行结尾的最后一行。
func (s *splitter) flush(fn LineFunc) int {
	defer s.reset()
	if s.skipping {
		return 0
	}
	if line := bytes.TrimSpace(s.partial); len(line) > 0 {
		fn(line)
		return 1
	}
	return 0
}

func (s *splitter) reset() {
	s.partial = s.partial[:0]
	s.skipping = false
}

// ReadAll 逐行读取 r 直到 EOF, 返回交付的行数。ctx 取消时提前返回。
func ReadAll(ctx context.Context, r io.Reader, maxLine int, fn LineFunc) (int, error) {
	sp := newSplitter(maxLine)
	buf := make([]byte, 32*1024)
	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, err := r.Read(buf)
		total += sp.feed(buf[:n], fn)
		if errors.Is(err, io.EOF) {
			return total + sp.flush(fn), nil
		}
		if err != nil {
			return total, apperrors.Wrap(err, "eventlog.ReadAll", "read")
		}
	}
}

// ReadFile 回放整个文件。
func ReadFile(ctx context.Context, path string, maxLine int, fn LineFunc) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, apperrors.Wrap(err, "eventlog.ReadFile", "open")
	}
	defer f.Close()
	return ReadAll(ctx, f, maxLine, fn)
}

// ========================================
// Follow: tail -f
// ========================================

type tail struct {
	path   string
	offset int64
	sp     *splitter
}

// drain 读取 offset 之后新增的内容。文件被截断时从头开始。
func (t *tail) drain(fn LineFunc) (int, error) {
	f, err := os.Open(t.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	if info.Size() < t.offset {
		logger.Info("eventlog: file truncated, restarting", logger.FieldFile, t.path)
		t.offset = 0
		t.sp.reset()
	}
	if _, err := f.Seek(t.offset, io.SeekStart); err != nil {
		return 0, err
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return 0, err
	}
	t.offset += int64(len(data))
	return t.sp.feed(data, fn), nil
}

// Follow 回放 path 的现有内容, 然后跟随追加写入直到 ctx 取消。
//
// 监听父目录而非文件本身, 文件被替换 (rename/re-create) 后继续跟随新文件。
// 未以换行结尾的半行会等到换行写入后才交付。
func Follow(ctx context.Context, path string, maxLine int, fn LineFunc) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return apperrors.Wrap(err, "eventlog.Follow", "resolve path")
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return apperrors.Wrap(err, "eventlog.Follow", "create watcher")
	}
	defer w.Close()
	if err := w.Add(filepath.Dir(abs)); err != nil {
		return apperrors.Wrap(err, "eventlog.Follow", "watch directory")
	}

	t := &tail{path: abs, sp: newSplitter(maxLine)}
	if _, err := t.drain(fn); err != nil {
		return apperrors.Wrap(err, "eventlog.Follow", "initial read")
	}
	logger.Info("eventlog: following", logger.FieldFile, abs)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs {
				continue
			}
			switch {
			case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
				t.offset = 0
				t.sp.reset()
			case ev.Has(fsnotify.Write), ev.Has(fsnotify.Create):
				if _, err := t.drain(fn); err != nil {
					logger.Warn("eventlog: read failed", logger.FieldFile, abs, logger.FieldError, err)
				}
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warn("eventlog: watcher error", logger.FieldError, err)
		}
	}
}

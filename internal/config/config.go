// Package config 全局配置加载与管理。
//
// 所有字段通过 struct tag 声明环境变量映射:
//
//	`env:"VAR_NAME" default:"value" min:"0"`
//
// Load() 先读取 .env 文件 (不覆盖已存在的环境变量), 再用反射自动填充。
package config

import (
	"errors"
	"io/fs"
	"time"

	"github.com/joho/godotenv"

	"github.com/multi-agent/agent-shell/internal/transcript"
	pkgerr "github.com/multi-agent/agent-shell/pkg/errors"
	"github.com/multi-agent/agent-shell/pkg/util"
)

// Config 应用全局配置，字段名与 .env 变量一一对应。
type Config struct {
	// 日志
	LogEnv   string `env:"LOG_ENV" default:"production"`
	LogLevel string `env:"LOG_LEVEL" default:"INFO"`
	LogDir   string `env:"LOG_DIR"`

	// 宿主 API (HTTP + WebSocket)
	ListenAddr       string `env:"AGENT_SHELL_LISTEN" default:"127.0.0.1:4600"`
	SSEBufferSize    int    `env:"AGENT_SHELL_SSE_BUFFER" default:"64" min:"1"`
	WSOutboxSize     int    `env:"AGENT_SHELL_WS_OUTBOX" default:"256" min:"8"`
	MaxEventBytes    int    `env:"AGENT_SHELL_MAX_EVENT_BYTES" default:"1048576" min:"1024"`
	MetricsEnabled   bool   `env:"AGENT_SHELL_METRICS_ENABLED" default:"true"`
	ShutdownGraceSec int    `env:"AGENT_SHELL_SHUTDOWN_GRACE_SEC" default:"5" min:"1"`
	WSMaxConns       int    `env:"AGENT_SHELL_WS_MAX_CONNS" default:"32" min:"1"`

	// SessionID 为空时新建会话; 指定时启动后从历史恢复该会话。
	SessionID string `env:"AGENT_SHELL_SESSION_ID"`

	// 转录核心; TRANSCRIPT_NOISE_MIN_ALNUM=-1 关闭噪声过滤, 0 取默认值
	NoiseMinAlnum      int `env:"TRANSCRIPT_NOISE_MIN_ALNUM" default:"2" min:"-1"`
	ResultPreviewLimit int `env:"TRANSCRIPT_RESULT_PREVIEW_LIMIT" default:"4000" min:"64"`
	ScrollThresholdPx  int `env:"TRANSCRIPT_SCROLL_THRESHOLD_PX" default:"48" min:"0"`

	// PostgreSQL (可选, 为空时不持久化历史)
	PostgresConnStr        string `env:"POSTGRES_CONNECTION_STRING"`
	PostgresSchema         string `env:"POSTGRES_SCHEMA" default:"public"`
	PostgresPoolMinSize    int    `env:"POSTGRES_POOL_MIN_SIZE" default:"1" min:"1"`
	PostgresPoolMaxSize    int    `env:"POSTGRES_POOL_MAX_SIZE" default:"10" min:"1"`
	PostgresPoolTimeoutSec int    `env:"POSTGRES_POOL_TIMEOUT_SEC" default:"10" min:"1"`
	HistoryQueueSize       int    `env:"HISTORY_QUEUE_SIZE" default:"256" min:"1"`
}

// Load 从环境变量加载配置 (通过反射读取 struct tag)。
func Load() *Config {
	var cfg Config
	util.LoadFromEnv(&cfg)
	return &cfg
}

// LoadWithDotenv 读取 .env 文件后加载配置。files 为空时读取当前目录 .env。
// 文件不存在不视为错误。
func LoadWithDotenv(files ...string) (*Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, pkgerr.Wrapf(err, "Config.Load", "read %s", f)
		}
	}
	return Load(), nil
}

// Transcript 返回注入转录核心的只读选项快照。
func (c *Config) Transcript() transcript.Options {
	return transcript.Options{
		NoiseMinAlnum:      c.NoiseMinAlnum,
		ResultPreviewLimit: c.ResultPreviewLimit,
		ScrollThresholdPx:  c.ScrollThresholdPx,
	}
}

// ShutdownGrace 优雅退出等待时长。
func (c *Config) ShutdownGrace() time.Duration {
	return time.Duration(c.ShutdownGraceSec) * time.Second
}

// PersistenceEnabled 是否配置了历史持久化。
func (c *Config) PersistenceEnabled() bool { return c.PostgresConnStr != "" }

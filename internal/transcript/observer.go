package transcript

// NoiseFilterDisabled 作为 Options.NoiseMinAlnum 时关闭噪声过滤。
const NoiseFilterDisabled = -1

// Options 是注入转录核心的只读配置快照。零值字段取默认值。
type Options struct {
	// NoiseMinAlnum 文本负载去除非字母数字后的最小长度;
	// 0 取默认值, 负数 (NoiseFilterDisabled) 关闭过滤。
	NoiseMinAlnum int
	// ResultPreviewLimit 投影中工具结果的最大 rune 数, 超出截断。
	ResultPreviewLimit int
	// ScrollThresholdPx 视口距底部超过该像素数即视为脱离底部。
	ScrollThresholdPx int
}

// DefaultOptions 返回默认选项。
func DefaultOptions() Options {
	return Options{
		NoiseMinAlnum:      2,
		ResultPreviewLimit: 4000,
		ScrollThresholdPx:  48,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.NoiseMinAlnum == 0 {
		o.NoiseMinAlnum = def.NoiseMinAlnum
	} else if o.NoiseMinAlnum < 0 {
		o.NoiseMinAlnum = NoiseFilterDisabled
	}
	if o.ResultPreviewLimit <= 0 {
		o.ResultPreviewLimit = def.ResultPreviewLimit
	}
	if o.ScrollThresholdPx < 0 {
		o.ScrollThresholdPx = def.ScrollThresholdPx
	}
	return o
}

// Observer 接收核心内部的计数信号, 由宿主接入指标系统。实现必须非阻塞。
type Observer interface {
	EventDecoded(kind Kind)
	EventRejected(reason string)
	Anomaly(name string)
	EntryFinalized(role Role)
	EntryDropped()
}

// NopObserver 丢弃所有信号。
type NopObserver struct{}

func (NopObserver) EventDecoded(Kind)    {}
func (NopObserver) EventRejected(string) {}
func (NopObserver) Anomaly(string)       {}
func (NopObserver) EntryFinalized(Role)  {}
func (NopObserver) EntryDropped()        {}

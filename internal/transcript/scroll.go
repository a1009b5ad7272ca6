package transcript

// ScrollState 视口跟随状态。
type ScrollState string

const (
	ScrollPinned   ScrollState = "pinned"
	ScrollDetached ScrollState = "detached"
)

// ScrollPolicy 记录用户是否手动离开底部。脱离期间无论追加多少内容都不强制滚动。
type ScrollPolicy struct {
	threshold int
	state     ScrollState
}

// NewScrollPolicy 创建初始为 pinned 的策略。
func NewScrollPolicy(thresholdPx int) *ScrollPolicy {
	if thresholdPx < 0 {
		thresholdPx = 0
	}
	return &ScrollPolicy{threshold: thresholdPx, state: ScrollPinned}
}

// UserScrolled 报告一次用户滚动后视口距底部的距离 (像素)。
func (p *ScrollPolicy) UserScrolled(distanceFromBottom int) ScrollState {
	if distanceFromBottom > p.threshold {
		p.state = ScrollDetached
	} else {
		p.state = ScrollPinned
	}
	return p.state
}

// OnRender 在每次渲染后调用, 返回是否应滚动到末尾。
func (p *ScrollPolicy) OnRender() bool { return p.state == ScrollPinned }

func (p *ScrollPolicy) State() ScrollState { return p.state }

package engine

import "time"

type Outcome int

const (
	RetryImmediate Outcome = iota
	RetryAfterDelay
	RefreshToken
	TerminalSuccess
	TerminalFailure
	SwitchTarget
)

func (o Outcome) String() string {
	switch o {
	case RetryImmediate:
		return "retry_immediate"
	case RetryAfterDelay:
		return "retry_after_delay"
	case RefreshToken:
		return "refresh_token"
	case TerminalSuccess:
		return "terminal_success"
	case TerminalFailure:
		return "terminal_failure"
	case SwitchTarget:
		return "switch_target"
	default:
		return "unknown"
	}
}

// Retry 为 true 表示当前步骤可以原地重试。
func (o Outcome) Retry() bool {
	return o == RetryImmediate || o == RetryAfterDelay
}

// Kind 是错误码的归类，用于日志与指标。
type Kind string

const (
	KindTransient        Kind = "transient"
	KindTokenStale       Kind = "token_stale"
	KindTerminalBenign   Kind = "terminal_benign"
	KindTerminalConfig   Kind = "terminal_config"
	KindTerminalInternal Kind = "terminal_internal"
)

type Verdict struct {
	Outcome Outcome
	Delay   time.Duration
	Reason  string
	Kind    Kind
	// Unknown 表示错误码不在表中，需要留意日志。
	Unknown bool
}

var verdicts = map[int]Verdict{
	100001:   {Outcome: RetryImmediate, Reason: "平台限速，正常现象", Kind: KindTransient},
	429:      {Outcome: RetryImmediate, Reason: "平台限速，正常现象", Kind: KindTransient},
	900001:   {Outcome: RetryImmediate, Reason: "平台限速，正常现象", Kind: KindTransient},
	100009:   {Outcome: RetryAfterDelay, Delay: 600 * time.Millisecond, Reason: "当前票种库存不足", Kind: KindTransient},
	211:      {Outcome: RetryImmediate, Reason: "差一点点抢到票，继续重试", Kind: KindTransient},
	3:        {Outcome: RetryAfterDelay, Delay: 4800 * time.Millisecond, Reason: "抢票速度过快，暂停4.8秒", Kind: KindTransient},
	100041:   {Outcome: RefreshToken, Reason: "token失效，重新获取token", Kind: KindTokenStale},
	100050:   {Outcome: RefreshToken, Reason: "token失效，重新获取token", Kind: KindTokenStale},
	900002:   {Outcome: RefreshToken, Reason: "token失效，重新获取token", Kind: KindTokenStale},
	100017:   {Outcome: TerminalFailure, Reason: "当前项目/类型/场次已停售", Kind: KindTerminalBenign},
	100016:   {Outcome: TerminalFailure, Reason: "当前项目/类型/场次已停售", Kind: KindTerminalBenign},
	100039:   {Outcome: TerminalFailure, Reason: "活动收摊啦，下次要快点哦", Kind: KindTerminalBenign},
	1:        {Outcome: TerminalFailure, Reason: "当前项目只能选择一个购票人", Kind: KindTerminalConfig},
	83000004: {Outcome: TerminalFailure, Reason: "没有配置购票人信息", Kind: KindTerminalConfig},
	100079:   {Outcome: TerminalFailure, Reason: "购票人存在待付款订单，请前往支付或取消后重新下单", Kind: KindTerminalBenign},
	100003:   {Outcome: TerminalFailure, Reason: "购票人存在待付款订单，请前往支付或取消后重新下单", Kind: KindTerminalBenign},
	100048:   {Outcome: TerminalFailure, Reason: "购票人存在待付款订单，请前往支付或取消后重新下单", Kind: KindTerminalBenign},
	209001:   {Outcome: TerminalFailure, Reason: "当前项目不支持多选购票人", Kind: KindTerminalConfig},
	919:      {Outcome: TerminalFailure, Reason: "程序内部错误，实名类型不受支持", Kind: KindTerminalInternal},
	999:      {Outcome: TerminalFailure, Reason: "程序内部错误，传参错误", Kind: KindTerminalInternal},
	737:      {Outcome: RetryImmediate, Reason: "平台返回737，继续重试", Kind: KindTransient},
}

// Classify 把平台错误码映射为处理方式。表外错误码一律视为终止失败。
func Classify(code int) Verdict {
	if v, ok := verdicts[code]; ok {
		return v
	}
	return Verdict{
		Outcome: TerminalFailure,
		Reason:  "未知错误码",
		Kind:    KindTerminalInternal,
		Unknown: true,
	}
}

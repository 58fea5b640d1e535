package model

import "time"

type GrabMode int

const (
	ModeTimed GrabMode = iota
	ModeDirect
	ModeLeak
)

func (m GrabMode) String() string {
	switch m {
	case ModeTimed:
		return "timed"
	case ModeDirect:
		return "direct"
	case ModeLeak:
		return "leak"
	default:
		return "unknown"
	}
}

func (m GrabMode) Valid() bool {
	return m >= ModeTimed && m <= ModeLeak
}

func ParseGrabMode(s string) (GrabMode, bool) {
	switch s {
	case "timed", "0":
		return ModeTimed, true
	case "direct", "1":
		return ModeDirect, true
	case "leak", "2":
		return ModeLeak, true
	default:
		return 0, false
	}
}

// RetryBudget 限定每个步骤的最大重试次数。
type RetryBudget struct {
	MaxTokenRetry     int `json:"maxTokenRetry"`
	MaxConfirmRetry   int `json:"maxConfirmRetry"`
	MaxOrderRetry     int `json:"maxOrderRetry"`
	MaxFakeCheckRetry int `json:"maxFakeCheckRetry"`
	RetryIntervalMs   int `json:"retryIntervalMs"`
}

func (b RetryBudget) RetryInterval() time.Duration {
	return time.Duration(b.RetryIntervalMs) * time.Millisecond
}

// Merge 用 fallback 补齐未设置(<=0)的字段。
func (b RetryBudget) Merge(fallback RetryBudget) RetryBudget {
	pick := func(v, def int) int {
		if v > 0 {
			return v
		}
		return def
	}
	return RetryBudget{
		MaxTokenRetry:     pick(b.MaxTokenRetry, fallback.MaxTokenRetry),
		MaxConfirmRetry:   pick(b.MaxConfirmRetry, fallback.MaxConfirmRetry),
		MaxOrderRetry:     pick(b.MaxOrderRetry, fallback.MaxOrderRetry),
		MaxFakeCheckRetry: pick(b.MaxFakeCheckRetry, fallback.MaxFakeCheckRetry),
		RetryIntervalMs:   pick(b.RetryIntervalMs, fallback.RetryIntervalMs),
	}
}

type TaskState string

const (
	TaskPending   TaskState = "pending"
	TaskRunning   TaskState = "running"
	TaskCompleted TaskState = "completed"
	TaskFailed    TaskState = "failed"
	TaskCancelled TaskState = "cancelled"
)

func (s TaskState) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskCancelled
}

type TaskStatus struct {
	State TaskState `json:"state"`
	Error string    `json:"error,omitempty"`
}

// TaskInfo 是任务的只读快照，供 API 与持久化使用。
type TaskInfo struct {
	ID        string     `json:"id"`
	Kind      string     `json:"kind"`
	AccountID string     `json:"accountId,omitempty"`
	UID       int64      `json:"uid,omitempty"`
	ProjectID string     `json:"projectId,omitempty"`
	ScreenID  string     `json:"screenId,omitempty"`
	TicketID  string     `json:"ticketId,omitempty"`
	Mode      string     `json:"mode,omitempty"`
	Status    TaskStatus `json:"status"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// GrabResult 是一个抢票任务的最终结果，每个任务最多一条。
type GrabResult struct {
	TaskID        string         `json:"taskId"`
	UID           int64          `json:"uid"`
	Success       bool           `json:"success"`
	Message       string         `json:"message"`
	OrderID       string         `json:"orderId,omitempty"`
	PayToken      string         `json:"payToken,omitempty"`
	ConfirmResult *ConfirmResult `json:"confirmResult,omitempty"`
	PayResult     *PayParam      `json:"payResult,omitempty"`
	At            time.Time      `json:"at"`
}

// AuxResult 是辅助任务（项目详情、购票人列表等）的结果。
type AuxResult struct {
	TaskID string `json:"taskId"`
	Kind   string `json:"kind"`
	Data   any    `json:"data,omitempty"`
	Error  string `json:"error,omitempty"`
}

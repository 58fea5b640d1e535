package engine

import (
	"errors"
	"strings"

	"ticket_grabber/internal/captcha"
	"ticket_grabber/internal/ctoken"
	"ticket_grabber/internal/model"
	"ticket_grabber/internal/provider"
)

var (
	ErrTaskNotFound   = errors.New("task not found")
	ErrInvalidRequest = errors.New("invalid grab request")
	ErrShuttingDown   = errors.New("supervisor is shutting down")
)

// GrabRequest 是一次抢票提交的全部输入，提交后不再修改。
type GrabRequest struct {
	AccountID   string
	UID         int64
	CSRF        string
	ProjectID   string
	ScreenID    string
	TicketID    string
	Count       int
	Buyers      []model.Buyer
	NoBindBuyer *model.NoBindBuyer
	IDBind      int
	IsHot       bool
	// SaleBegin 为 0 时定时模式会先拉取项目详情。
	SaleBegin int64
	Mode      model.GrabMode
	Budget    model.RetryBudget
	SkipWords []string

	Session provider.Session
	Solver  captcha.Solver
	Tokens  ctoken.Factory
}

func (r GrabRequest) validate() error {
	if r.Session == nil {
		return wrapInvalid("session is required")
	}
	if !r.Mode.Valid() {
		return wrapInvalid("unknown grab mode")
	}
	if strings.TrimSpace(r.ProjectID) == "" {
		return wrapInvalid("projectId is required")
	}
	if r.Mode != model.ModeLeak && (r.ScreenID == "" || r.TicketID == "") {
		return wrapInvalid("screenId and ticketId are required")
	}
	if r.Count < 0 {
		return wrapInvalid("count must not be negative")
	}
	return nil
}

// normalized 补齐可推导的字段。
func (r GrabRequest) normalized(fallback model.RetryBudget) GrabRequest {
	r.Budget = r.Budget.Merge(fallback)
	if r.Count == 0 {
		r.Count = 1
		if len(r.Buyers) > 0 {
			r.Count = len(r.Buyers)
		}
	}
	if r.Tokens == nil {
		r.Tokens = ctoken.Empty()
	}
	return r
}

type invalidError struct{ msg string }

func (e invalidError) Error() string        { return "invalid grab request: " + e.msg }
func (e invalidError) Is(target error) bool { return target == ErrInvalidRequest }

func wrapInvalid(msg string) error { return invalidError{msg: msg} }

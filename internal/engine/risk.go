package engine

import (
	"context"

	"github.com/pkg/errors"

	"ticket_grabber/internal/captcha"
	"ticket_grabber/internal/model"
	"ticket_grabber/internal/showapi"
)

var errNoSolver = errors.New("未配置验证码求解器")

// verifyRisk 完成 register → 求解 → validate，成功后账号可重新获取 token。
func (t *grabTask) verifyRisk(ctx context.Context, risk model.TokenRiskParam) (err error) {
	defer func() { t.metrics.riskVerified(err == nil) }()

	if t.req.Solver == nil {
		return errNoSolver
	}
	g, err := t.api.RegisterRisk(ctx, risk.Raw)
	if err != nil {
		return err
	}
	res, err := t.req.Solver.Solve(ctx, captcha.Challenge{
		GT:        g.GT,
		Challenge: g.Challenge,
		ItemID:    captcha.ItemIDGeetestV3,
		Referer:   t.api.ValidateURL(),
	})
	if err != nil {
		return errors.Wrap(err, "solve captcha")
	}

	challenge := res.Challenge
	if challenge == "" {
		challenge = g.Challenge
	}
	buvid := risk.Buvid
	if buvid == "" {
		buvid, _ = t.req.Session.Cookie("buvid3")
	}
	csrf := t.req.CSRF
	if csrf == "" {
		csrf, _ = t.req.Session.Cookie("bili_jct")
	}
	return t.api.ValidateRisk(ctx, showapi.ValidateParams{
		Buvid:     buvid,
		CSRF:      csrf,
		Challenge: challenge,
		Seccode:   res.Seccode,
		Validate:  res.Validate,
		Token:     g.Token,
	})
}

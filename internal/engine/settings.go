package engine

import "ticket_grabber/internal/model"

const maxBudgetRetry = 1000

// normalizeBudget 把运行期修改的重试上限限制在合理范围内，未设置的字段沿用 fallback。
func normalizeBudget(in, fallback model.RetryBudget) model.RetryBudget {
	out := in.Merge(fallback)
	clamp := func(v int) int {
		if v > maxBudgetRetry {
			return maxBudgetRetry
		}
		return v
	}
	out.MaxTokenRetry = clamp(out.MaxTokenRetry)
	out.MaxConfirmRetry = clamp(out.MaxConfirmRetry)
	out.MaxOrderRetry = clamp(out.MaxOrderRetry)
	out.MaxFakeCheckRetry = clamp(out.MaxFakeCheckRetry)
	if out.RetryIntervalMs > 60_000 {
		out.RetryIntervalMs = 60_000
	}
	return out
}

// Budget 返回新任务使用的默认重试上限。
func (s *Supervisor) Budget() model.RetryBudget {
	if v, ok := s.budget.Load().(model.RetryBudget); ok {
		return v
	}
	return s.opts.Budget
}

// SetBudget 修改之后提交的任务的默认重试上限，已运行的任务不受影响。
func (s *Supervisor) SetBudget(next model.RetryBudget) model.RetryBudget {
	next = normalizeBudget(next, s.opts.Budget)
	s.budget.Store(next)
	return next
}

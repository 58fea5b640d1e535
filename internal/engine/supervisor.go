package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"ticket_grabber/internal/model"
	"ticket_grabber/internal/showapi"
)

const (
	KindGrab = "grab"
)

// AuxFunc 是辅助任务的执行体，返回值作为 AuxResult.Data 发布。
type AuxFunc func(ctx context.Context) (any, error)

type Options struct {
	Sink      Sink
	Metrics   *Metrics
	Endpoints showapi.Endpoints
	// Budget 补齐请求中未设置的重试上限。
	Budget           model.RetryBudget
	Click            ClickSettings
	LeakPollInterval time.Duration
	LeakSaleFlags    []int

	// OnResult 在结果入队后按顺序调用，用于持久化与通知。
	OnResult []func(model.GrabResult)
	// OnTaskUpdate 在任务状态变化后调用。
	OnTaskUpdate func(model.TaskInfo)

	Sleep func(ctx context.Context, d time.Duration) error
	Now   func() time.Time
}

type job struct {
	info   model.TaskInfo
	cancel context.CancelFunc
}

// Supervisor 为每个任务启动一个 goroutine，并汇总状态与结果。
type Supervisor struct {
	opts Options

	baseCtx    context.Context
	baseCancel context.CancelFunc
	wg         sync.WaitGroup
	budget     atomic.Value // model.RetryBudget

	mu      sync.Mutex
	closed  bool
	jobs    map[string]*job
	order   []string
	results []model.GrabResult
	aux     map[string]model.AuxResult
}

func NewSupervisor(opts Options) *Supervisor {
	if opts.Sink == nil {
		opts.Sink = nopSink{}
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepCtx
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.LeakPollInterval <= 0 {
		opts.LeakPollInterval = 2 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		opts:       opts,
		baseCtx:    ctx,
		baseCancel: cancel,
		jobs:       make(map[string]*job),
		aux:        make(map[string]model.AuxResult),
	}
}

func (s *Supervisor) register(info model.TaskInfo) (context.Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrShuttingDown
	}
	ctx, cancel := context.WithCancel(s.baseCtx)
	s.jobs[info.ID] = &job{info: info, cancel: cancel}
	s.order = append(s.order, info.ID)
	s.wg.Add(1)
	return ctx, nil
}

func (s *Supervisor) Submit(req GrabRequest) (string, error) {
	if err := req.validate(); err != nil {
		return "", err
	}
	req = req.normalized(s.Budget())

	now := s.opts.Now()
	info := model.TaskInfo{
		ID:        uuid.NewString(),
		Kind:      KindGrab,
		AccountID: req.AccountID,
		UID:       req.UID,
		ProjectID: req.ProjectID,
		ScreenID:  req.ScreenID,
		TicketID:  req.TicketID,
		Mode:      req.Mode.String(),
		Status:    model.TaskStatus{State: model.TaskPending},
		CreatedAt: now,
		UpdatedAt: now,
	}
	ctx, err := s.register(info)
	if err != nil {
		return "", err
	}
	s.opts.Metrics.taskSubmitted(KindGrab)
	s.opts.Sink.Log("info", "抢票任务已提交", map[string]any{
		"taskId":    info.ID,
		"uid":       req.UID,
		"projectId": req.ProjectID,
		"mode":      info.Mode,
	})
	s.notifyUpdate(info)

	go s.runGrab(ctx, info.ID, req)
	return info.ID, nil
}

func (s *Supervisor) SubmitAux(kind string, fn AuxFunc) (string, error) {
	now := s.opts.Now()
	info := model.TaskInfo{
		ID:        uuid.NewString(),
		Kind:      kind,
		Status:    model.TaskStatus{State: model.TaskPending},
		CreatedAt: now,
		UpdatedAt: now,
	}
	ctx, err := s.register(info)
	if err != nil {
		return "", err
	}
	s.opts.Metrics.taskSubmitted(kind)
	s.notifyUpdate(info)

	go s.runAux(ctx, info.ID, kind, fn)
	return info.ID, nil
}

func (s *Supervisor) runGrab(ctx context.Context, id string, req GrabRequest) {
	defer s.wg.Done()
	if !s.transition(id, model.TaskRunning, "") {
		return
	}
	s.opts.Metrics.taskStarted()
	defer s.opts.Metrics.taskFinished()

	sink := taskSink{sink: s.opts.Sink, fields: map[string]any{"taskId": id, "uid": req.UID}}
	t := &grabTask{
		id:            id,
		req:           req,
		api:           showapi.New(req.Session, s.opts.Endpoints),
		sink:          sink,
		metrics:       s.opts.Metrics,
		click:         s.opts.Click,
		sleep:         s.opts.Sleep,
		now:           s.opts.Now,
		leakPoll:      s.opts.LeakPollInterval,
		leakSaleFlags: s.opts.LeakSaleFlags,
	}
	t.countdown = NewCountdown(t.api, s.opts.Sleep, sink)
	t.countdown.now = s.opts.Now

	res, err := t.run(ctx)
	if err != nil || res == nil {
		// 取消或关闭导致的退出不产生结果。
		s.transition(id, model.TaskCancelled, "")
		return
	}
	s.emit(*res)
}

func (s *Supervisor) runAux(ctx context.Context, id, kind string, fn AuxFunc) {
	defer s.wg.Done()
	if !s.transition(id, model.TaskRunning, "") {
		return
	}
	data, err := fn(ctx)
	out := model.AuxResult{TaskID: id, Kind: kind, Data: data}
	state := model.TaskCompleted
	if err != nil {
		out.Data = nil
		out.Error = err.Error()
		state = model.TaskFailed
	}

	s.mu.Lock()
	j := s.jobs[id]
	if j == nil || j.info.Status.State == model.TaskCancelled {
		s.mu.Unlock()
		return
	}
	s.aux[id] = out
	s.mu.Unlock()

	s.transition(id, state, out.Error)
	s.opts.Sink.Publish("aux_result", out)
}

// emit 把结果入队。任务已被取消时丢弃，保证 Cancel 之后不再有结果。
func (s *Supervisor) emit(res model.GrabResult) {
	res.At = s.opts.Now()

	s.mu.Lock()
	j := s.jobs[res.TaskID]
	if j == nil || j.info.Status.State.Terminal() {
		s.mu.Unlock()
		return
	}
	s.results = append(s.results, res)
	j.info.Status = model.TaskStatus{State: model.TaskCompleted}
	if !res.Success {
		j.info.Status = model.TaskStatus{State: model.TaskFailed, Error: res.Message}
	}
	j.info.UpdatedAt = res.At
	info := j.info
	s.mu.Unlock()

	s.opts.Metrics.result(res.Success)
	level := "info"
	if !res.Success {
		level = "warn"
	}
	s.opts.Sink.Log(level, "抢票任务结束", map[string]any{
		"taskId":  res.TaskID,
		"success": res.Success,
		"message": res.Message,
		"orderId": res.OrderID,
	})
	s.opts.Sink.Publish("grab_result", res)
	s.notifyUpdate(info)
	for _, h := range s.opts.OnResult {
		h(res)
	}
}

// transition 更新非终态任务的状态，任务不存在或已终止时返回 false。
func (s *Supervisor) transition(id string, state model.TaskState, errText string) bool {
	s.mu.Lock()
	j := s.jobs[id]
	if j == nil || j.info.Status.State.Terminal() {
		s.mu.Unlock()
		return false
	}
	j.info.Status = model.TaskStatus{State: state, Error: errText}
	j.info.UpdatedAt = s.opts.Now()
	info := j.info
	s.mu.Unlock()

	s.notifyUpdate(info)
	return true
}

func (s *Supervisor) notifyUpdate(info model.TaskInfo) {
	s.opts.Sink.Publish("task_state", info)
	if s.opts.OnTaskUpdate != nil {
		s.opts.OnTaskUpdate(info)
	}
}

func (s *Supervisor) Cancel(id string) error {
	s.mu.Lock()
	j := s.jobs[id]
	if j == nil {
		s.mu.Unlock()
		return ErrTaskNotFound
	}
	if j.info.Status.State.Terminal() {
		s.mu.Unlock()
		return nil
	}
	j.info.Status = model.TaskStatus{State: model.TaskCancelled}
	j.info.UpdatedAt = s.opts.Now()
	info := j.info
	cancel := j.cancel
	s.mu.Unlock()

	cancel()
	s.opts.Sink.Log("info", "任务已取消", map[string]any{"taskId": id})
	s.notifyUpdate(info)
	return nil
}

// DrainResults 取出并清空已入队的结果，不阻塞。
func (s *Supervisor) DrainResults() []model.GrabResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.results
	s.results = nil
	return out
}

func (s *Supervisor) Status(id string) (model.TaskStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j := s.jobs[id]
	if j == nil {
		return model.TaskStatus{}, false
	}
	return j.info.Status, true
}

func (s *Supervisor) AuxResult(id string) (model.AuxResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.aux[id]
	return r, ok
}

// Tasks 按提交顺序返回所有任务。
func (s *Supervisor) Tasks() []model.TaskInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.TaskInfo, 0, len(s.order))
	for _, id := range s.order {
		if j := s.jobs[id]; j != nil {
			out = append(out, j.info)
		}
	}
	return out
}

// Shutdown 取消所有任务并等待退出。
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	for _, j := range s.jobs {
		if !j.info.Status.State.Terminal() {
			j.info.Status = model.TaskStatus{State: model.TaskCancelled}
			j.info.UpdatedAt = s.opts.Now()
		}
	}
	s.mu.Unlock()
	s.baseCancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.opts.Sink.Log("info", "任务调度已停止", nil)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

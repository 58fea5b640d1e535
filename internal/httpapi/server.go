package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ticket_grabber/internal/captcha"
	"ticket_grabber/internal/config"
	"ticket_grabber/internal/ctoken"
	"ticket_grabber/internal/engine"
	"ticket_grabber/internal/logbus"
	"ticket_grabber/internal/model"
	"ticket_grabber/internal/notify"
	"ticket_grabber/internal/provider"
	"ticket_grabber/internal/showapi"
	"ticket_grabber/internal/store/sqlite"
	"ticket_grabber/internal/ws"
)

const (
	AuxProject  = "project"
	AuxBuyers   = "buyers"
	AuxPushTest = "push_test"
)

type Options struct {
	Cfg        config.Config
	Bus        *logbus.Bus
	Store      *sqlite.Store
	Supervisor *engine.Supervisor
	Sessions   SessionFactory
	Solver     captcha.Solver
	Tokens     ctoken.Factory
	Push       *notify.Push
	Gatherer   prometheus.Gatherer
	// SendTestEmail 为空时使用 notify.SendTestEmail。
	SendTestEmail func(ctx context.Context, settings model.EmailSettings) error
}

type Server struct {
	cfg       config.Config
	bus       *logbus.Bus
	store     *sqlite.Store
	sup       *engine.Supervisor
	sessions  *sessionPool
	solver    captcha.Solver
	tokens    ctoken.Factory
	push      *notify.Push
	gatherer  prometheus.Gatherer
	endpoints showapi.Endpoints
	testEmail func(ctx context.Context, settings model.EmailSettings) error
	ws        *ws.Handler
}

func New(opts Options) *Server {
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	if opts.SendTestEmail == nil {
		opts.SendTestEmail = notify.SendTestEmail
	}
	return &Server{
		cfg:      opts.Cfg,
		bus:      opts.Bus,
		store:    opts.Store,
		sup:      opts.Supervisor,
		sessions: newSessionPool(opts.Sessions),
		solver:   opts.Solver,
		tokens:   opts.Tokens,
		push:     opts.Push,
		gatherer: opts.Gatherer,
		endpoints: showapi.Endpoints{
			ShowBaseURL: opts.Cfg.Provider.ShowBaseURL,
			APIBaseURL:  opts.Cfg.Provider.APIBaseURL,
		},
		testEmail: opts.SendTestEmail,
		ws:        ws.NewHandler(opts.Bus, opts.Cfg.Server.Cors.AllowOrigins),
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	mux.Handle("/ws", s.ws)

	api := http.NewServeMux()
	api.HandleFunc("/api/v1/accounts", s.handleAccounts)
	api.HandleFunc("/api/v1/tasks", s.handleTasks)
	api.HandleFunc("/api/v1/tasks/cancel", s.handleTaskCancel)
	api.HandleFunc("/api/v1/tasks/status", s.handleTaskStatus)
	api.HandleFunc("/api/v1/results", s.handleResults)
	api.HandleFunc("/api/v1/results/history", s.handleResultHistory)
	api.HandleFunc("/api/v1/aux", s.handleAux)
	api.HandleFunc("/api/v1/captcha/state", s.handleCaptchaState)
	api.HandleFunc("/api/v1/settings/grab", s.handleGrabSettings)
	api.HandleFunc("/api/v1/settings/email", s.handleEmailSettings)
	api.HandleFunc("/api/v1/settings/email/test", s.handleEmailTest)
	api.HandleFunc("/api/v1/settings/push", s.handlePushSettings)

	mux.Handle("/api/", corsMiddleware(s.cfg.Server.Cors, api))
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleCaptchaState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	st, ok := s.solver.(interface{ Status() captcha.EngineStatus })
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{"mode": s.cfg.Captcha.Mode}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{
		"mode":   s.cfg.Captcha.Mode,
		"status": st.Status(),
	}})
}

type accountUpsertPayload struct {
	ID        string  `json:"id,omitempty"`
	UID       int64   `json:"uid,omitempty"`
	Name      *string `json:"name,omitempty"`
	CSRF      *string `json:"csrf,omitempty"`
	UserAgent *string `json:"userAgent,omitempty"`
	Proxy     *string `json:"proxy,omitempty"`
	// Cookie 是浏览器里复制的 "a=1; b=2"，会写入 show 与 api 两个域。
	Cookie  string                 `json:"cookie,omitempty"`
	Cookies []model.CookieJarEntry `json:"cookies,omitempty"`
}

func (s *Server) handleAccounts(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		accounts, err := s.store.ListAccounts(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": accounts})
	case http.MethodPost:
		var body accountUpsertPayload
		if err := readJSON(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		var next model.Account
		if id := strings.TrimSpace(body.ID); id != "" {
			found, err := s.store.GetAccount(r.Context(), id)
			if err != nil && !errors.Is(err, sqlite.ErrNotFound) {
				writeError(w, http.StatusInternalServerError, err)
				return
			}
			next = found
			next.ID = id
		}
		if body.Cookie != "" {
			next.Cookies = []model.CookieJarEntry{
				model.ParseCookieHeader(s.cfg.Provider.ShowBaseURL, "", body.Cookie),
				model.ParseCookieHeader(s.cfg.Provider.APIBaseURL, "", body.Cookie),
			}
		} else if body.Cookies != nil {
			next.Cookies = body.Cookies
		}
		if body.UID > 0 {
			next.UID = body.UID
		}
		if next.UID <= 0 {
			if v, ok := model.CookieValue(next.Cookies, "DedeUserID"); ok {
				next.UID, _ = strconv.ParseInt(v, 10, 64)
			}
		}
		if next.UID <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "uid is required (or DedeUserID cookie)"})
			return
		}
		if body.Name != nil {
			next.Name = strings.TrimSpace(*body.Name)
		}
		if body.CSRF != nil {
			next.CSRF = strings.TrimSpace(*body.CSRF)
		}
		if body.UserAgent != nil {
			next.UserAgent = strings.TrimSpace(*body.UserAgent)
		}
		if body.Proxy != nil {
			next.Proxy = strings.TrimSpace(*body.Proxy)
		}

		acc, err := s.store.UpsertAccount(r.Context(), next)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		s.sessions.Forget(acc.ID)
		writeJSON(w, http.StatusOK, map[string]any{"data": acc})
	case http.MethodDelete:
		id := r.URL.Query().Get("id")
		if id == "" {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "id is required"})
			return
		}
		if err := s.store.DeleteAccount(r.Context(), id); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		s.sessions.Forget(id)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	default:
		methodNotAllowed(w)
	}
}

type submitPayload struct {
	AccountID   string             `json:"accountId"`
	ProjectID   string             `json:"projectId"`
	ScreenID    string             `json:"screenId,omitempty"`
	TicketID    string             `json:"ticketId,omitempty"`
	Count       int                `json:"count,omitempty"`
	Buyers      []model.Buyer      `json:"buyers,omitempty"`
	NoBindBuyer *model.NoBindBuyer `json:"noBindBuyer,omitempty"`
	// IDBind 与 IsHot 未提供时从项目详情读取。
	IDBind    *int              `json:"idBind,omitempty"`
	IsHot     *bool             `json:"isHot,omitempty"`
	SaleBegin int64             `json:"saleBegin,omitempty"`
	Mode      string            `json:"mode"`
	Budget    model.RetryBudget `json:"budget"`
	SkipWords []string          `json:"skipWords,omitempty"`
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if r.URL.Query().Get("history") == "1" {
			limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
			tasks, err := s.store.ListTasks(r.Context(), limit)
			if err != nil {
				writeError(w, http.StatusInternalServerError, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"data": tasks})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": s.sup.Tasks()})
	case http.MethodPost:
		var body submitPayload
		if err := readJSON(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		req, status, err := s.buildGrabRequest(r.Context(), body)
		if err != nil {
			writeError(w, status, err)
			return
		}
		id, err := s.sup.Submit(req)
		if err != nil {
			writeError(w, submitStatus(err), err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{"taskId": id}})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) buildGrabRequest(ctx context.Context, body submitPayload) (engine.GrabRequest, int, error) {
	mode, ok := model.ParseGrabMode(strings.ToLower(strings.TrimSpace(body.Mode)))
	if !ok {
		return engine.GrabRequest{}, http.StatusBadRequest, fmt.Errorf("unknown mode %q", body.Mode)
	}
	acc, sess, status, err := s.accountSession(ctx, body.AccountID)
	if err != nil {
		return engine.GrabRequest{}, status, err
	}

	req := engine.GrabRequest{
		AccountID:   acc.ID,
		UID:         acc.UID,
		CSRF:        acc.ResolveCSRF(),
		ProjectID:   strings.TrimSpace(body.ProjectID),
		ScreenID:    strings.TrimSpace(body.ScreenID),
		TicketID:    strings.TrimSpace(body.TicketID),
		Count:       body.Count,
		Buyers:      body.Buyers,
		NoBindBuyer: body.NoBindBuyer,
		SaleBegin:   body.SaleBegin,
		Mode:        mode,
		Budget:      body.Budget,
		SkipWords:   body.SkipWords,
		Session:     sess,
		Solver:      s.solver,
		Tokens:      s.tokens,
	}

	if body.IDBind == nil || body.IsHot == nil {
		if req.ProjectID == "" {
			return engine.GrabRequest{}, http.StatusBadRequest, errors.New("projectId is required")
		}
		lookupCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		p, err := showapi.New(sess, s.endpoints).Project(lookupCtx, req.ProjectID)
		if err != nil {
			return engine.GrabRequest{}, http.StatusBadGateway, fmt.Errorf("获取项目详情失败: %w", err)
		}
		req.IDBind = p.IDBind
		req.IsHot = p.HotProject
		if req.SaleBegin == 0 {
			req.SaleBegin = p.SaleBegin
		}
	}
	if body.IDBind != nil {
		req.IDBind = *body.IDBind
	}
	if body.IsHot != nil {
		req.IsHot = *body.IsHot
	}
	return req, http.StatusOK, nil
}

func (s *Server) accountSession(ctx context.Context, accountID string) (model.Account, provider.Session, int, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return model.Account{}, nil, http.StatusBadRequest, errors.New("accountId is required")
	}
	acc, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		if errors.Is(err, sqlite.ErrNotFound) {
			return model.Account{}, nil, http.StatusNotFound, errors.New("account not found")
		}
		return model.Account{}, nil, http.StatusInternalServerError, err
	}
	sess, err := s.sessions.Get(acc)
	if err != nil {
		return model.Account{}, nil, http.StatusInternalServerError, err
	}
	return acc, sess, http.StatusOK, nil
}

func submitStatus(err error) int {
	switch {
	case errors.Is(err, engine.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrShuttingDown):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleTaskCancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var body struct {
		ID string `json:"id"`
	}
	if err := readJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.sup.Cancel(strings.TrimSpace(body.ID)); err != nil {
		if errors.Is(err, engine.ErrTaskNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleTaskStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	id := r.URL.Query().Get("id")
	st, ok := s.sup.Status(id)
	if !ok {
		writeError(w, http.StatusNotFound, engine.ErrTaskNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": st})
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	results := s.sup.DrainResults()
	if results == nil {
		results = []model.GrabResult{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": results})
}

func (s *Server) handleResultHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	results, err := s.store.ListResults(r.Context(), r.URL.Query().Get("taskId"), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": results})
}

type auxPayload struct {
	Kind      string `json:"kind"`
	AccountID string `json:"accountId,omitempty"`
	ProjectID string `json:"projectId,omitempty"`
}

func (s *Server) handleAux(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		res, ok := s.sup.AuxResult(r.URL.Query().Get("id"))
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]any{"error": "aux result not ready"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": res})
	case http.MethodPost:
		var body auxPayload
		if err := readJSON(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		fn, status, err := s.auxFunc(r.Context(), body)
		if err != nil {
			writeError(w, status, err)
			return
		}
		id, err := s.sup.SubmitAux(body.Kind, fn)
		if err != nil {
			writeError(w, submitStatus(err), err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{"taskId": id}})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) auxFunc(ctx context.Context, body auxPayload) (engine.AuxFunc, int, error) {
	switch body.Kind {
	case AuxPushTest:
		if s.push == nil {
			return nil, http.StatusServiceUnavailable, errors.New("push is not configured")
		}
		return func(ctx context.Context) (any, error) {
			settings, _, err := s.store.GetPushSettings(ctx)
			if err != nil {
				return nil, err
			}
			if err := s.push.Send(ctx, settings, "抢票助手测试推送", "收到这条消息说明推送配置正确", ""); err != nil {
				return nil, err
			}
			return map[string]any{"methods": settings.Methods}, nil
		}, http.StatusOK, nil
	case AuxProject, AuxBuyers:
	default:
		return nil, http.StatusBadRequest, fmt.Errorf("unknown aux kind %q", body.Kind)
	}

	_, sess, status, err := s.accountSession(ctx, body.AccountID)
	if err != nil {
		return nil, status, err
	}
	api := showapi.New(sess, s.endpoints)
	if body.Kind == AuxBuyers {
		return func(ctx context.Context) (any, error) { return api.Buyers(ctx) }, http.StatusOK, nil
	}
	projectID := strings.TrimSpace(body.ProjectID)
	if projectID == "" {
		return nil, http.StatusBadRequest, errors.New("projectId is required")
	}
	return func(ctx context.Context) (any, error) { return api.Project(ctx, projectID) }, http.StatusOK, nil
}

func (s *Server) handleGrabSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{"data": s.sup.Budget()})
	case http.MethodPost:
		var body model.RetryBudget
		if err := readJSON(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		saved := s.sup.SetBudget(body)
		if s.bus != nil {
			s.bus.Log("info", "默认重试上限已更新", map[string]any{"budget": saved})
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": saved})
	default:
		methodNotAllowed(w)
	}
}

type emailSettingsPayload struct {
	Enabled  *bool   `json:"enabled,omitempty"`
	Email    *string `json:"email,omitempty"`
	AuthCode *string `json:"authCode,omitempty"`
}

const maskedSecret = "******"

func maskEmail(v model.EmailSettings) model.EmailSettings {
	if v.AuthCode != "" {
		v.AuthCode = maskedSecret
	}
	return v
}

func (s *Server) handleEmailSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		val, _, err := s.store.GetEmailSettings(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": maskEmail(val)})
	case http.MethodPost:
		var body emailSettingsPayload
		if err := readJSON(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		current, _, err := s.store.GetEmailSettings(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}

		next := current
		if body.Enabled != nil {
			next.Enabled = *body.Enabled
		}
		if body.Email != nil {
			next.Email = strings.TrimSpace(*body.Email)
		}
		if body.AuthCode != nil {
			if ac := strings.TrimSpace(*body.AuthCode); ac != maskedSecret {
				next.AuthCode = ac
			}
		}

		saved, err := s.store.UpsertEmailSettings(r.Context(), next)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": maskEmail(saved)})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleEmailTest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var body struct {
		Email    string `json:"email,omitempty"`
		AuthCode string `json:"authCode,omitempty"`
	}
	if r.ContentLength != 0 {
		if err := readJSON(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}

	val, _, err := s.store.GetEmailSettings(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if v := strings.TrimSpace(body.Email); v != "" {
		val.Email = v
	}
	if v := strings.TrimSpace(body.AuthCode); v != "" && v != maskedSecret {
		val.AuthCode = v
	}

	ctx, cancel := context.WithTimeout(r.Context(), 20*time.Second)
	defer cancel()
	if err := s.testEmail(ctx, val); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type pushSettingsPayload struct {
	Enabled       *bool     `json:"enabled,omitempty"`
	Methods       *[]string `json:"methods,omitempty"`
	BarkToken     *string   `json:"barkToken,omitempty"`
	PushPlusToken *string   `json:"pushplusToken,omitempty"`
	GotifyURL     *string   `json:"gotifyUrl,omitempty"`
	GotifyToken   *string   `json:"gotifyToken,omitempty"`
}

func (s *Server) handlePushSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		val, _, err := s.store.GetPushSettings(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		if val.Methods == nil {
			val.Methods = []string{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": val})
	case http.MethodPost:
		var body pushSettingsPayload
		if err := readJSON(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		next, _, err := s.store.GetPushSettings(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		if body.Enabled != nil {
			next.Enabled = *body.Enabled
		}
		if body.Methods != nil {
			next.Methods = nil
			for _, m := range *body.Methods {
				switch m = strings.ToLower(strings.TrimSpace(m)); m {
				case notify.MethodBark, notify.MethodPushPlus, notify.MethodGotify:
					next.Methods = append(next.Methods, m)
				default:
					writeJSON(w, http.StatusBadRequest, map[string]any{"error": "unknown push method: " + m})
					return
				}
			}
		}
		setTrimmed(&next.BarkToken, body.BarkToken)
		setTrimmed(&next.PushPlusToken, body.PushPlusToken)
		setTrimmed(&next.GotifyURL, body.GotifyURL)
		setTrimmed(&next.GotifyToken, body.GotifyToken)

		saved, err := s.store.UpsertPushSettings(r.Context(), next)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": saved})
	default:
		methodNotAllowed(w)
	}
}

func setTrimmed(dst *string, v *string) {
	if v != nil {
		*dst = strings.TrimSpace(*v)
	}
}

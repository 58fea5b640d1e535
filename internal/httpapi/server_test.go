package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"ticket_grabber/internal/config"
	"ticket_grabber/internal/engine"
	"ticket_grabber/internal/logbus"
	"ticket_grabber/internal/model"
	"ticket_grabber/internal/provider"
	"ticket_grabber/internal/store/sqlite"
)

// fakeSession 按路径返回固定响应，未登记的路径返回 404。
type fakeSession struct {
	mu       sync.Mutex
	routes   map[string]string
	calls    []string
	exported []model.CookieJarEntry
}

func (f *fakeSession) ExportCookies() []model.CookieJarEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.exported
}

func (f *fakeSession) serve(raw string) (*provider.Response, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, u.Path)
	body, ok := f.routes[u.Path]
	if !ok {
		return &provider.Response{StatusCode: http.StatusNotFound}, nil
	}
	return &provider.Response{StatusCode: http.StatusOK, Body: []byte(body)}, nil
}

func (f *fakeSession) Get(_ context.Context, u string) (*provider.Response, error) {
	return f.serve(u)
}

func (f *fakeSession) Post(_ context.Context, u string, _ any) (*provider.Response, error) {
	return f.serve(u)
}

func (f *fakeSession) PostWithHeaders(_ context.Context, u string, _ map[string]string, _ any) (*provider.Response, error) {
	return f.serve(u)
}

func (f *fakeSession) Cookie(string) (string, bool) { return "", false }

func (f *fakeSession) called(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == path {
			n++
		}
	}
	return n
}

type testEnv struct {
	api     *Server
	srv     *httptest.Server
	store   *sqlite.Store
	sup     *engine.Supervisor
	session *fakeSession

	mu      sync.Mutex
	emailed []model.EmailSettings
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg, err := config.Parse([]byte("provider:\n  showBaseURL: http://show.test\n  apiBaseURL: http://api.test\n"))
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	st, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("sqlite: %v", err)
	}
	bus := logbus.New(50)
	reg := prometheus.NewRegistry()
	env := &testEnv{store: st, session: &fakeSession{routes: map[string]string{}}}

	env.sup = engine.NewSupervisor(engine.Options{
		Sink:    bus,
		Metrics: engine.NewMetrics(reg),
		Budget:  cfg.Grab.Budget(),
		Sleep:   func(context.Context, time.Duration) error { return nil },
		OnResult: []func(model.GrabResult){func(r model.GrabResult) {
			_ = st.InsertResult(context.Background(), r)
		}},
	})
	env.api = New(Options{
		Cfg:        cfg,
		Bus:        bus,
		Store:      st,
		Supervisor: env.sup,
		Sessions: func(model.Account) (provider.Session, error) {
			return env.session, nil
		},
		Gatherer: reg,
		SendTestEmail: func(_ context.Context, s model.EmailSettings) error {
			env.mu.Lock()
			env.emailed = append(env.emailed, s)
			env.mu.Unlock()
			if s.Email == "" {
				return errors.New("email is required")
			}
			return nil
		},
	})
	env.srv = httptest.NewServer(env.api.Handler())
	t.Cleanup(func() {
		env.srv.Close()
		_ = env.sup.Shutdown(context.Background())
		_ = st.Close()
		bus.Close()
	})
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body any) (int, map[string]any) {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rd)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func (e *testEnv) addAccount(t *testing.T) string {
	t.Helper()
	status, out := e.do(t, http.MethodPost, "/api/v1/accounts", map[string]any{
		"name":   "alice",
		"cookie": "SESSDATA=s; bili_jct=csrf1; DedeUserID=42",
	})
	if status != http.StatusOK {
		t.Fatalf("add account: %d %v", status, out)
	}
	data := out["data"].(map[string]any)
	if data["uid"].(float64) != 42 {
		t.Fatalf("uid should come from DedeUserID: %v", data)
	}
	return data["id"].(string)
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t)
	if status, out := env.do(t, http.MethodGet, "/health", nil); status != http.StatusOK || out["ok"] != true {
		t.Fatalf("health: %d %v", status, out)
	}
	resp, err := http.Get(env.srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics status = %d", resp.StatusCode)
	}
}

func TestAccountsLifecycle(t *testing.T) {
	env := newTestEnv(t)
	id := env.addAccount(t)

	acc, err := env.store.GetAccount(context.Background(), id)
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if acc.ResolveCSRF() != "csrf1" || len(acc.Cookies) != 2 {
		t.Fatalf("cookies should be stored for both hosts: %+v", acc)
	}

	status, out := env.do(t, http.MethodGet, "/api/v1/accounts", nil)
	if status != http.StatusOK || len(out["data"].([]any)) != 1 {
		t.Fatalf("list: %d %v", status, out)
	}
	if status, _ := env.do(t, http.MethodPost, "/api/v1/accounts", map[string]any{"name": "x"}); status != http.StatusBadRequest {
		t.Fatalf("missing uid status = %d", status)
	}
	if status, _ := env.do(t, http.MethodDelete, "/api/v1/accounts?id="+id, nil); status != http.StatusOK {
		t.Fatalf("delete status = %d", status)
	}
}

func TestSubmitValidation(t *testing.T) {
	env := newTestEnv(t)
	id := env.addAccount(t)

	cases := []struct {
		name string
		body map[string]any
		want int
	}{
		{"unknown mode", map[string]any{"accountId": id, "projectId": "1", "mode": "fast"}, http.StatusBadRequest},
		{"missing account", map[string]any{"accountId": "nope", "projectId": "1", "mode": "direct"}, http.StatusNotFound},
		{"missing ticket", map[string]any{"accountId": id, "projectId": "1", "mode": "direct", "idBind": 0, "isHot": false}, http.StatusBadRequest},
		{"unknown field", map[string]any{"accountId": id, "bogus": 1}, http.StatusBadRequest},
	}
	for _, tc := range cases {
		if status, out := env.do(t, http.MethodPost, "/api/v1/tasks", tc.body); status != tc.want {
			t.Errorf("%s: status = %d, want %d (%v)", tc.name, status, tc.want, out)
		}
	}
}

func TestSubmitRunsToResult(t *testing.T) {
	env := newTestEnv(t)
	id := env.addAccount(t)
	env.session.routes["/api/ticket/project/getV2"] = `{"errno":0,"data":{"id":1,"name":"演唱会","id_bind":2,"hotProject":false}}`
	env.session.routes["/api/ticket/order/prepare"] = `{"errno":100039,"msg":"活动收摊"}`

	status, out := env.do(t, http.MethodPost, "/api/v1/tasks", map[string]any{
		"accountId": id,
		"projectId": "1",
		"screenId":  "2",
		"ticketId":  "3",
		"mode":      "direct",
		"buyers":    []model.Buyer{{ID: 7, Name: "张三"}},
	})
	if status != http.StatusOK {
		t.Fatalf("submit: %d %v", status, out)
	}
	taskID := out["data"].(map[string]any)["taskId"].(string)
	if env.session.called("/api/ticket/project/getV2") != 1 {
		t.Fatalf("project lookup should fill idBind/isHot")
	}

	var results []any
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		_, out := env.do(t, http.MethodGet, "/api/v1/results", nil)
		results = append(results, out["data"].([]any)...)
		if len(results) > 0 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if len(results) != 1 {
		t.Fatalf("results = %v", results)
	}
	res := results[0].(map[string]any)
	if res["taskId"] != taskID || res["success"] != false || !strings.Contains(res["message"].(string), "100039") {
		t.Fatalf("unexpected result: %v", res)
	}

	status, out = env.do(t, http.MethodGet, "/api/v1/tasks/status?id="+taskID, nil)
	if status != http.StatusOK || out["data"].(map[string]any)["state"] != string(model.TaskFailed) {
		t.Fatalf("status: %d %v", status, out)
	}
	// 持久化在结果入队之后执行
	var history []any
	for deadline := time.Now().Add(5 * time.Second); time.Now().Before(deadline); time.Sleep(20 * time.Millisecond) {
		_, out = env.do(t, http.MethodGet, "/api/v1/results/history?taskId="+taskID, nil)
		if history, _ = out["data"].([]any); len(history) > 0 {
			break
		}
	}
	if len(history) != 1 {
		t.Fatalf("history should be persisted: %v", out)
	}
}

func TestCancelUnknownTask(t *testing.T) {
	env := newTestEnv(t)
	if status, _ := env.do(t, http.MethodPost, "/api/v1/tasks/cancel", map[string]any{"id": "missing"}); status != http.StatusNotFound {
		t.Fatalf("status = %d", status)
	}
	if status, _ := env.do(t, http.MethodGet, "/api/v1/tasks/status?id=missing", nil); status != http.StatusNotFound {
		t.Fatalf("status = %d", status)
	}
}

func TestAuxBuyers(t *testing.T) {
	env := newTestEnv(t)
	id := env.addAccount(t)
	env.session.routes["/api/ticket/buyer/list"] = `{"errno":0,"data":{"list":[{"id":7,"name":"张三"}]}}`

	status, out := env.do(t, http.MethodPost, "/api/v1/aux", map[string]any{"kind": AuxBuyers, "accountId": id})
	if status != http.StatusOK {
		t.Fatalf("aux submit: %d %v", status, out)
	}
	taskID := out["data"].(map[string]any)["taskId"].(string)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		status, out = env.do(t, http.MethodGet, "/api/v1/aux?id="+taskID, nil)
		if status == http.StatusOK {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if status != http.StatusOK {
		t.Fatalf("aux result not ready: %v", out)
	}
	list := out["data"].(map[string]any)["data"].([]any)
	if len(list) != 1 || list[0].(map[string]any)["name"] != "张三" {
		t.Fatalf("buyers = %v", list)
	}

	if status, _ := env.do(t, http.MethodPost, "/api/v1/aux", map[string]any{"kind": "weather"}); status != http.StatusBadRequest {
		t.Fatalf("unknown kind status = %d", status)
	}
	if status, _ := env.do(t, http.MethodPost, "/api/v1/aux", map[string]any{"kind": AuxPushTest}); status != http.StatusServiceUnavailable {
		t.Fatalf("push test without push status = %d", status)
	}
}

func TestGrabSettings(t *testing.T) {
	env := newTestEnv(t)
	status, out := env.do(t, http.MethodPost, "/api/v1/settings/grab", map[string]any{"maxOrderRetry": 5000})
	if status != http.StatusOK {
		t.Fatalf("post: %d %v", status, out)
	}
	data := out["data"].(map[string]any)
	if data["maxOrderRetry"].(float64) != 1000 || data["maxTokenRetry"].(float64) != 5 {
		t.Fatalf("budget = %v", data)
	}
	if env.sup.Budget().MaxOrderRetry != 1000 {
		t.Fatalf("supervisor budget not updated")
	}
}

func TestEmailSettingsMasksAuthCode(t *testing.T) {
	env := newTestEnv(t)
	status, out := env.do(t, http.MethodPost, "/api/v1/settings/email", map[string]any{
		"enabled": true, "email": "a@qq.com", "authCode": "secret",
	})
	if status != http.StatusOK || out["data"].(map[string]any)["authCode"] != maskedSecret {
		t.Fatalf("post: %d %v", status, out)
	}
	// 回传掩码不覆盖已保存的授权码
	env.do(t, http.MethodPost, "/api/v1/settings/email", map[string]any{"authCode": maskedSecret})
	saved, _, _ := env.store.GetEmailSettings(context.Background())
	if saved.AuthCode != "secret" {
		t.Fatalf("auth code overwritten: %q", saved.AuthCode)
	}

	if status, _ := env.do(t, http.MethodPost, "/api/v1/settings/email/test", nil); status != http.StatusOK {
		t.Fatalf("email test status = %d", status)
	}
	env.mu.Lock()
	defer env.mu.Unlock()
	if len(env.emailed) != 1 || env.emailed[0].AuthCode != "secret" {
		t.Fatalf("test email settings = %+v", env.emailed)
	}
}

func TestPushSettings(t *testing.T) {
	env := newTestEnv(t)
	status, out := env.do(t, http.MethodPost, "/api/v1/settings/push", map[string]any{
		"enabled": true, "methods": []string{"Bark", "gotify"}, "barkToken": " bk ",
	})
	if status != http.StatusOK {
		t.Fatalf("post: %d %v", status, out)
	}
	saved, ok, _ := env.store.GetPushSettings(context.Background())
	if !ok || saved.BarkToken != "bk" || !saved.Has("bark") || !saved.Has("gotify") {
		t.Fatalf("saved = %+v", saved)
	}
	if status, _ := env.do(t, http.MethodPost, "/api/v1/settings/push", map[string]any{"methods": []string{"sms"}}); status != http.StatusBadRequest {
		t.Fatalf("unknown method status = %d", status)
	}
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t)
	req, _ := http.NewRequest(http.MethodOptions, env.srv.URL+"/api/v1/tasks", nil)
	req.Header.Set("Origin", "http://ui.test")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if resp.Header.Get("Access-Control-Allow-Origin") != "" {
		t.Fatalf("origin should not be allowed without config")
	}
}

func TestAllowedOrigin(t *testing.T) {
	cases := []struct {
		name   string
		cfg    config.CorsConfig
		origin string
		want   string
	}{
		{"no origin", config.CorsConfig{AllowOrigins: []string{"*"}}, "", ""},
		{"wildcard", config.CorsConfig{AllowOrigins: []string{"*"}}, "http://ui.test", "*"},
		{"wildcard with credentials", config.CorsConfig{AllowOrigins: []string{"*"}, AllowCredentials: true}, "http://ui.test", "http://ui.test"},
		{"listed", config.CorsConfig{AllowOrigins: []string{"HTTP://UI.test"}}, "http://ui.test", "http://ui.test"},
		{"not listed", config.CorsConfig{AllowOrigins: []string{"http://other"}}, "http://ui.test", ""},
	}
	for _, tc := range cases {
		if got := allowedOrigin(tc.cfg, tc.origin); got != tc.want {
			t.Errorf("%s: got %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestSaveSessionCookies(t *testing.T) {
	env := newTestEnv(t)
	id := env.addAccount(t)
	ctx := context.Background()

	// 会话尚未创建时什么也不做
	if err := env.api.SaveSessionCookies(ctx, id); err != nil {
		t.Fatalf("SaveSessionCookies: %v", err)
	}

	if _, _, _, err := env.api.accountSession(ctx, id); err != nil {
		t.Fatalf("accountSession: %v", err)
	}
	env.session.exported = []model.CookieJarEntry{
		model.ParseCookieHeader("http://show.test", "", "SESSDATA=fresh; bili_jct=csrf2; DedeUserID=42"),
	}
	if err := env.api.SaveSessionCookies(ctx, id); err != nil {
		t.Fatalf("SaveSessionCookies: %v", err)
	}
	acc, err := env.store.GetAccount(ctx, id)
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if v, _ := model.CookieValue(acc.Cookies, "SESSDATA"); v != "fresh" {
		t.Fatalf("cookies not refreshed: %+v", acc.Cookies)
	}
	if _, ok := env.api.sessions.lookup(id); !ok {
		t.Fatalf("session should stay pooled")
	}
	if it := env.api.sessions.items[id]; it.updatedAt != acc.UpdatedAt.UnixMilli() {
		t.Fatalf("pool entry not touched")
	}
}

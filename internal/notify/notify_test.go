package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"ticket_grabber/internal/model"
)

type staticSettings struct {
	email model.EmailSettings
	push  model.PushSettings
}

func (s staticSettings) GetEmailSettings(context.Context) (model.EmailSettings, bool, error) {
	return s.email, true, nil
}

func (s staticSettings) GetPushSettings(context.Context) (model.PushSettings, bool, error) {
	return s.push, true, nil
}

func sampleResult() model.GrabResult {
	return model.GrabResult{
		TaskID:  "t1",
		UID:     42,
		Success: true,
		OrderID: "9001",
		ConfirmResult: &model.ConfirmResult{
			Count:       1,
			PayMoney:    68050,
			ProjectName: "演唱会",
			ScreenName:  "第一场",
			TicketInfo:  model.ConfirmTicket{Name: "VIP"},
		},
		PayResult: &model.PayParam{CodeURL: "https://pay/1"},
	}
}

func TestEventFromResult(t *testing.T) {
	if _, ok := EventFromResult(model.GrabResult{Success: false}, ""); ok {
		t.Fatalf("failure result should not notify")
	}
	evt, ok := EventFromResult(sampleResult(), "alice")
	if !ok {
		t.Fatalf("expected event")
	}
	if evt.ProjectName != "演唱会" || evt.TicketName != "VIP" || evt.PayURL != "https://pay/1" {
		t.Fatalf("unexpected event: %+v", evt)
	}
	msg := evt.Message()
	for _, want := range []string{"项目: 演唱会", "场次: 第一场", "票种: VIP", "订单号: 9001", "680.50元"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("message missing %q:\n%s", want, msg)
		}
	}

	soft := sampleResult()
	soft.PayResult = nil
	evt, _ = EventFromResult(soft, "")
	if !strings.Contains(evt.Message(), "请前往订单中心支付") {
		t.Fatalf("soft success message = %q", evt.Message())
	}
	if !strings.HasSuffix(OrderDetailURL("9001"), "order_id=9001") {
		t.Fatalf("detail url = %q", OrderDetailURL("9001"))
	}
}

func TestEmailNotifierBatchesWithinWindow(t *testing.T) {
	var (
		mu      sync.Mutex
		batches [][]OrderEvent
	)
	send := func(_ context.Context, _ model.EmailSettings, events []OrderEvent) error {
		mu.Lock()
		defer mu.Unlock()
		batches = append(batches, events)
		return nil
	}
	settings := staticSettings{email: model.EmailSettings{Enabled: true, Email: "a@qq.com", AuthCode: "x"}}
	n := newEmailNotifier(settings, nil, time.Hour, send)

	n.NotifyOrder(context.Background(), OrderEvent{OrderID: "1"})
	n.NotifyOrder(context.Background(), OrderEvent{OrderID: "2"})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := n.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(batches) != 1 || len(batches[0]) != 2 {
		t.Fatalf("batches = %v", batches)
	}
}

func TestEmailNotifierSkipsWhenDisabled(t *testing.T) {
	called := false
	send := func(context.Context, model.EmailSettings, []OrderEvent) error {
		called = true
		return nil
	}
	n := newEmailNotifier(staticSettings{}, nil, 0, send)
	n.NotifyOrder(context.Background(), OrderEvent{OrderID: "1"})
	if err := n.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if called {
		t.Fatalf("disabled email should not send")
	}
}

func TestSummaryBody(t *testing.T) {
	evt, _ := EventFromResult(sampleResult(), "<alice>")
	html, text, err := buildSummaryEmailBody([]OrderEvent{evt})
	if err != nil {
		t.Fatalf("buildSummaryEmailBody: %v", err)
	}
	if !strings.Contains(html, "&lt;alice&gt;") {
		t.Fatalf("account should be escaped")
	}
	if !strings.Contains(text, "订单 9001") {
		t.Fatalf("text body = %q", text)
	}
	if buildSummarySubject([]OrderEvent{evt}) != "抢票成功: 演唱会" {
		t.Fatalf("subject = %q", buildSummarySubject([]OrderEvent{evt}))
	}
}

func TestSMTPConfig(t *testing.T) {
	cases := []struct {
		email string
		host  string
		ssl   bool
	}{
		{"a@qq.com", "smtp.qq.com", true},
		{"a@vip.163.com", "smtp.163.com", true},
		{"a@gmail.com", "smtp.gmail.com", false},
		{"a@example.org", "smtp.example.org", true},
	}
	for _, tc := range cases {
		host, _, ssl, err := smtpConfigForEmail(tc.email)
		if err != nil || host != tc.host || ssl != tc.ssl {
			t.Errorf("%s: host=%s ssl=%v err=%v", tc.email, host, ssl, err)
		}
	}
	if _, _, _, err := smtpConfigForEmail("nope"); err == nil {
		t.Errorf("expected error for malformed address")
	}
}

func TestPushSendsToEnabledChannels(t *testing.T) {
	var (
		mu   sync.Mutex
		hits = map[string]map[string]any{}
		auth string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		hits[r.URL.Path] = body
		if r.URL.Path == "/gotify/message" {
			auth = r.Header.Get("Authorization")
		}
		mu.Unlock()
		if r.URL.Path == "/pushplus" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	p := NewPush(nil, nil, PushOptions{BarkBaseURL: srv.URL, PushPlusURL: srv.URL + "/pushplus", Timeout: 2 * time.Second})
	settings := model.PushSettings{
		Enabled:       true,
		Methods:       []string{MethodBark, MethodPushPlus, MethodGotify},
		BarkToken:     "bk",
		PushPlusToken: "pp",
		GotifyURL:     srv.URL + "/gotify",
		GotifyToken:   "gt",
	}
	err := p.Send(context.Background(), settings, "标题", "内容", OrderDetailURL("1"))
	if err == nil || !strings.Contains(err.Error(), MethodPushPlus) {
		t.Fatalf("expected pushplus failure, got %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if hits["/bk/"]["body"] != "内容" {
		t.Fatalf("bark body = %v", hits["/bk/"])
	}
	if hits["/pushplus"]["token"] != "pp" {
		t.Fatalf("pushplus body = %v", hits["/pushplus"])
	}
	if hits["/gotify/message"]["message"] != "内容" || auth != "Bearer gt" {
		t.Fatalf("gotify body = %v auth = %q", hits["/gotify/message"], auth)
	}
}

func TestPushWithoutChannels(t *testing.T) {
	p := NewPush(nil, nil, PushOptions{})
	err := p.Send(context.Background(), model.PushSettings{Enabled: true, Methods: []string{MethodBark}}, "t", "m", "")
	if !errors.Is(err, ErrNoPushChannel) {
		t.Fatalf("err = %v", err)
	}
}

func TestPushNotifyOrderUsesStoredSettings(t *testing.T) {
	got := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		title, _ := body["title"].(string)
		got <- title
	}))
	defer srv.Close()

	settings := staticSettings{push: model.PushSettings{Enabled: true, Methods: []string{MethodBark}, BarkToken: "bk"}}
	p := NewPush(settings, nil, PushOptions{BarkBaseURL: srv.URL})
	evt, _ := EventFromResult(sampleResult(), "")
	p.NotifyOrder(context.Background(), evt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	select {
	case title := <-got:
		if title != "抢票成功: 演唱会" {
			t.Fatalf("title = %q", title)
		}
	default:
		t.Fatalf("push not delivered")
	}
}

package captcha

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"ticket_grabber/internal/config"
)

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func TestTTOCRSolve(t *testing.T) {
	var polls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		switch r.URL.Path {
		case "/api/recognize":
			if body["appkey"] != "k" || body["gt"] != "g" || body["itemid"] != float64(33) || body["referer"] != "https://ref" {
				t.Errorf("recognize body = %v", body)
			}
			writeJSON(w, map[string]any{"status": 1, "resultid": "r1"})
		case "/api/results":
			if body["resultid"] != "r1" {
				t.Errorf("results body = %v", body)
			}
			if polls.Add(1) < 3 {
				writeJSON(w, map[string]any{"status": 0, "msg": "pending"})
				return
			}
			writeJSON(w, map[string]any{"status": 1, "data": map[string]string{
				"challenge": "c2", "validate": "v", "seccode": "v|jordan",
			}})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	s := NewTTOCR(TTOCROptions{AppKey: "k", BaseURL: srv.URL, PollInterval: 5 * time.Millisecond})
	res, err := s.Solve(context.Background(), Challenge{GT: "g", Challenge: "c", Referer: "https://ref"})
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	if res.Challenge != "c2" || res.Seccode != "v|jordan" {
		t.Fatalf("result = %+v", res)
	}
	if polls.Load() != 3 {
		t.Fatalf("polls = %d", polls.Load())
	}
}

func TestTTOCRRejectAndTimeout(t *testing.T) {
	var reject atomic.Bool
	reject.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/recognize" {
			if reject.Load() {
				writeJSON(w, map[string]any{"status": 0, "msg": "余额不足"})
				return
			}
			writeJSON(w, map[string]any{"status": 1, "resultid": "r"})
			return
		}
		writeJSON(w, map[string]any{"status": 0})
	}))
	defer srv.Close()

	s := NewTTOCR(TTOCROptions{AppKey: "k", BaseURL: srv.URL, PollInterval: time.Millisecond, MaxPolls: 3})
	if _, err := s.Solve(context.Background(), Challenge{GT: "g", Challenge: "c"}); !errors.Is(err, ErrRejected) {
		t.Fatalf("err = %v", err)
	}
	reject.Store(false)
	if _, err := s.Solve(context.Background(), Challenge{GT: "g", Challenge: "c"}); !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v", err)
	}
}

func TestTTOCRHonorsContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/recognize" {
			writeJSON(w, map[string]any{"status": 1, "resultid": "r"})
			return
		}
		writeJSON(w, map[string]any{"status": 0})
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	s := NewTTOCR(TTOCROptions{AppKey: "k", BaseURL: srv.URL, PollInterval: 10 * time.Millisecond, MaxPolls: 1000})
	if _, err := s.Solve(ctx, Challenge{GT: "g", Challenge: "c"}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v", err)
	}
}

func TestRenderGeetestPageEscapes(t *testing.T) {
	html, err := renderGeetestPage(Challenge{GT: `g"</script>`, Challenge: "c"})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if strings.Contains(html, `g"</script>`) {
		t.Fatalf("gt was not escaped")
	}
	if _, err := renderGeetestPage(Challenge{GT: "g"}); err == nil {
		t.Fatalf("expected error for missing challenge")
	}
}

func TestParsePageResult(t *testing.T) {
	res, err := parsePageResult(`{"geetest_challenge":"c","geetest_validate":"v","geetest_seccode":"v|jordan"}`)
	if err != nil || !res.Complete() {
		t.Fatalf("res = %+v err=%v", res, err)
	}
	if _, err := parsePageResult(`{"error":"closed"}`); !errors.Is(err, ErrRejected) {
		t.Fatalf("err = %v", err)
	}
	if _, err := parsePageResult(`{"geetest_challenge":"c"}`); !errors.Is(err, ErrRejected) {
		t.Fatalf("err = %v", err)
	}
}

func TestNewSelectsSolver(t *testing.T) {
	s, closer, err := New(config.CaptchaConfig{Mode: config.CaptchaModeTTOCR, TTOCRKey: "k"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok := s.(*TTOCR); !ok {
		t.Fatalf("solver = %T", s)
	}
	_ = closer()

	s, closer, err = New(config.CaptchaConfig{Mode: config.CaptchaModeBrowser})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	b, ok := s.(*Browser)
	if !ok {
		t.Fatalf("solver = %T", s)
	}
	if st := b.Status(); st.State != EngineStopped {
		t.Fatalf("state = %s", st.State)
	}
	_ = closer()

	if _, _, err := New(config.CaptchaConfig{Mode: "other"}); err == nil {
		t.Fatalf("expected error")
	}
}

// 需要本地浏览器，设置 TICKET_GRABBER_BROWSER_TEST=1 时运行。
func TestBrowserWarmup(t *testing.T) {
	if os.Getenv("TICKET_GRABBER_BROWSER_TEST") != "1" {
		t.Skip("未设置 TICKET_GRABBER_BROWSER_TEST=1")
	}
	b := NewBrowser(BrowserOptions{Headless: true, Timeout: 200 * time.Millisecond})
	defer func() { _ = b.Close() }()
	if err := b.Warmup(); err != nil {
		t.Fatalf("Warmup: %v", err)
	}
	if st := b.Status(); st.State != EngineReady {
		t.Fatalf("state = %s", st.State)
	}
	_, err := b.Solve(context.Background(), Challenge{GT: "g", Challenge: "c"})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v", err)
	}
}

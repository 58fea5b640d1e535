package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte("server:\n  addr: \":9000\"\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Server.Addr != ":9000" {
		t.Fatalf("addr = %q", cfg.Server.Addr)
	}
	if cfg.Captcha.Mode != CaptchaModeBrowser {
		t.Fatalf("captcha mode = %q", cfg.Captcha.Mode)
	}
	b := cfg.Grab.Budget()
	if b.MaxTokenRetry != 5 || b.MaxConfirmRetry != 4 || b.MaxOrderRetry != 30 || b.MaxFakeCheckRetry != 5 || b.RetryIntervalMs != 300 {
		t.Fatalf("unexpected budget: %+v", b)
	}
	if got := cfg.Grab.LeakPollInterval(); got != 2*time.Second {
		t.Fatalf("leak poll = %v", got)
	}
	if len(cfg.Grab.LeakSaleFlags) != 0 {
		t.Fatalf("sale flag gate should default to off")
	}
	if got := cfg.Notify.EmailSummaryWindow(); got != 20*time.Second {
		t.Fatalf("summary window = %v", got)
	}
}

func TestParseRejectsTTOCRWithoutKey(t *testing.T) {
	if _, err := Parse([]byte("captcha:\n  mode: ttocr\n")); err == nil {
		t.Fatalf("expected error for missing ttocr key")
	}
	if _, err := Parse([]byte("captcha:\n  mode: TTOCR\n  ttocrKey: k\n")); err != nil {
		t.Fatalf("Parse: %v", err)
	}
}

func TestParseRejectsUnknownCaptchaMode(t *testing.T) {
	if _, err := Parse([]byte("captcha:\n  mode: local\n")); err == nil {
		t.Fatalf("expected error")
	}
}

func TestLoad(t *testing.T) {
	p := filepath.Join(t.TempDir(), "config.yaml")
	body := "grab:\n  maxOrderRetry: 3\n  leakSaleFlags: [2]\nnotify:\n  emailSummarySeconds: -1\n"
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Grab.MaxOrderRetry != 3 {
		t.Fatalf("maxOrderRetry = %d", cfg.Grab.MaxOrderRetry)
	}
	if len(cfg.Grab.LeakSaleFlags) != 1 || cfg.Grab.LeakSaleFlags[0] != 2 {
		t.Fatalf("leakSaleFlags = %v", cfg.Grab.LeakSaleFlags)
	}
	if cfg.Notify.EmailSummaryWindow() != 0 {
		t.Fatalf("negative summary seconds should disable batching")
	}
}

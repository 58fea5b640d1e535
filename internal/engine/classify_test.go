package engine

import (
	"testing"
	"time"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		code    int
		outcome Outcome
		delay   time.Duration
	}{
		{100001, RetryImmediate, 0},
		{429, RetryImmediate, 0},
		{900001, RetryImmediate, 0},
		{100009, RetryAfterDelay, 600 * time.Millisecond},
		{211, RetryImmediate, 0},
		{3, RetryAfterDelay, 4800 * time.Millisecond},
		{100041, RefreshToken, 0},
		{100050, RefreshToken, 0},
		{900002, RefreshToken, 0},
		{100017, TerminalFailure, 0},
		{100016, TerminalFailure, 0},
		{100039, TerminalFailure, 0},
		{1, TerminalFailure, 0},
		{83000004, TerminalFailure, 0},
		{100079, TerminalFailure, 0},
		{100003, TerminalFailure, 0},
		{100048, TerminalFailure, 0},
		{209001, TerminalFailure, 0},
		{919, TerminalFailure, 0},
		{999, TerminalFailure, 0},
		{737, RetryImmediate, 0},
	}
	for _, tc := range cases {
		v := Classify(tc.code)
		if v.Outcome != tc.outcome || v.Delay != tc.delay {
			t.Errorf("Classify(%d) = %s/%v, want %s/%v", tc.code, v.Outcome, v.Delay, tc.outcome, tc.delay)
		}
		if v.Unknown {
			t.Errorf("Classify(%d) marked unknown", tc.code)
		}
	}
}

func TestClassifyUnknownIsTerminal(t *testing.T) {
	v := Classify(123456)
	if v.Outcome != TerminalFailure || !v.Unknown {
		t.Fatalf("verdict = %+v", v)
	}
}

package cli

import (
	"context"
	"os"
	"syscall"
	"testing"
	"time"
)

func TestParseDate(t *testing.T) {
	got, err := parseDate("since", "")
	if err != nil || got != nil {
		t.Fatalf("empty flag should be nil, got %v %v", got, err)
	}

	got, err = parseDate("since", "2025-09-01")
	if err != nil || !got.Equal(time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected date %v %v", got, err)
	}

	if _, err := parseDate("until", "01.09.2025"); err == nil {
		t.Fatal("non ISO date should be rejected")
	}
}

func TestCommandTree(t *testing.T) {
	for _, path := range [][]string{
		{"run"}, {"serve"}, {"migrate"}, {"load", "ozon"}, {"load", "wb"},
		{"rebuild"}, {"reap"}, {"kpi"}, {"runs"}, {"export"}, {"version"},
	} {
		cmd, _, err := rootCmd.Find(path)
		if err != nil || cmd == rootCmd {
			t.Fatalf("command %v not registered: %v", path, err)
		}
	}
}

func TestSignalContextCancelledByInterrupt(t *testing.T) {
	ctx, stop := signalContext(context.Background())
	defer stop()

	if err := syscall.Kill(os.Getpid(), syscall.SIGINT); err != nil {
		t.Fatalf("send SIGINT: %v", err)
	}

	select {
	case <-ctx.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("SIGINT should cancel the command context")
	}
}

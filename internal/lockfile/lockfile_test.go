package lockfile

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestAcquireLock_WritesHolder(t *testing.T) {
	dir := t.TempDir()
	lock, err := AcquireLock(dir, "telegram")
	if err != nil {
		t.Fatalf("Failed to acquire lock: %v", err)
	}
	defer lock.Release()

	f, err := os.Open(filepath.Join(dir, LockFileName))
	if err != nil {
		t.Fatalf("lock file missing: %v", err)
	}
	defer f.Close()
	h := parseHolder(f)
	if h.PID != os.Getpid() || h.Channel != "telegram" || h.Since.IsZero() {
		t.Errorf("unexpected holder %+v", h)
	}
	if !h.Running() {
		t.Error("our own process should be running")
	}
}

func TestAcquireLock_Conflict(t *testing.T) {
	dir := t.TempDir()
	lock1, err := AcquireLock(dir, "whatsapp")
	if err != nil {
		t.Fatalf("Failed to acquire first lock: %v", err)
	}
	defer lock1.Release()

	lock2, err := AcquireLock(dir, "whatsapp")
	if err == nil {
		lock2.Release()
		t.Fatal("second acquisition should fail")
	}
	var lockErr *LockError
	if !errors.As(err, &lockErr) {
		t.Fatalf("expected *LockError, got %T", err)
	}
	if lockErr.Holder.PID != os.Getpid() || lockErr.Holder.Channel != "whatsapp" {
		t.Errorf("holder not reported: %+v", lockErr.Holder)
	}
	if !strings.Contains(err.Error(), dir) {
		t.Errorf("error should name the lock path: %s", err)
	}
}

func TestRelease(t *testing.T) {
	dir := t.TempDir()
	lock, err := AcquireLock(dir, "twilio")
	if err != nil {
		t.Fatal(err)
	}
	if err := lock.Release(); err != nil {
		t.Errorf("Release: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, LockFileName)); !os.IsNotExist(err) {
		t.Error("lock file should be removed after release")
	}
	if err := lock.Release(); err != nil {
		t.Errorf("second Release should be a no-op: %v", err)
	}

	again, err := AcquireLock(dir, "twilio")
	if err != nil {
		t.Fatalf("reacquire after release: %v", err)
	}
	again.Release()
}

func TestAcquireLock_CreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "state", "nested")
	lock, err := AcquireLock(dir, "")
	if err != nil {
		t.Fatalf("Should create directory and acquire lock: %v", err)
	}
	defer lock.Release()
	if _, err := os.Stat(dir); err != nil {
		t.Errorf("directory not created: %v", err)
	}
}

func TestParseHolder(t *testing.T) {
	tests := []struct {
		name    string
		content string
		pid     int
		channel string
	}{
		{"full", "pid=12345\nchannel=telegram\nsince=2025-03-01T10:00:00Z\n", 12345, "telegram"},
		{"pid only", "pid=67890\n", 67890, ""},
		{"invalid pid", "pid=abc\nchannel=twilio", 0, "twilio"},
		{"garbage", "no equals here", 0, ""},
		{"empty", "", 0, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := parseHolder(strings.NewReader(tt.content))
			if h.PID != tt.pid || h.Channel != tt.channel {
				t.Errorf("parseHolder(%q) = %+v", tt.content, h)
			}
		})
	}
	if s := (Holder{}).String(); s != "unknown process" {
		t.Errorf("empty holder String = %q", s)
	}
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	// Point at a path that does not exist: defaults apply.
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 5111 {
		t.Errorf("default port = %d, want 5111", cfg.Port)
	}
	if cfg.SummarizeTimeout.Std() != 300*time.Second {
		t.Errorf("default timeout = %v", cfg.SummarizeTimeout)
	}
	if cfg.DedupWindow.Std() != 24*time.Hour {
		t.Errorf("default dedup window = %v", cfg.DedupWindow)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tabtriage.yaml")
	data := "port: 6222\nmax_content_length: 1000\nsummarize_timeout: 30s\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 6222 {
		t.Errorf("port = %d, want 6222", cfg.Port)
	}
	if cfg.MaxContentLength != 1000 {
		t.Errorf("max_content_length = %d, want 1000", cfg.MaxContentLength)
	}
	if cfg.SummarizeTimeout.Std() != 30*time.Second {
		t.Errorf("summarize_timeout = %v, want 30s", cfg.SummarizeTimeout)
	}
	// Untouched fields keep defaults.
	if cfg.Host != "127.0.0.1" {
		t.Errorf("host = %q", cfg.Host)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("TABTRIAGE_PORT", "7001")
	t.Setenv("TABTRIAGE_DB", "/tmp/other.db")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 7001 {
		t.Errorf("port = %d, want 7001 from env", cfg.Port)
	}
	if cfg.DBPath != "/tmp/other.db" {
		t.Errorf("db path = %q", cfg.DBPath)
	}
}

func TestLoadRejectsBadPort(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tabtriage.yaml")
	os.WriteFile(path, []byte("port: -1\n"), 0o644)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for invalid port")
	}
}

func TestStoreSubscribe(t *testing.T) {
	st := NewStore(Default())
	ch := st.Subscribe()

	next := Default()
	next.Port = 9999
	st.Set(next)

	select {
	case got := <-ch:
		if got.Port != 9999 {
			t.Errorf("subscriber saw port %d, want 9999", got.Port)
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber not notified")
	}

	if st.Get().Port != 9999 {
		t.Errorf("Get() port = %d, want 9999", st.Get().Port)
	}
}

func TestStoreSlowSubscriberSeesLatest(t *testing.T) {
	st := NewStore(Default())
	ch := st.Subscribe()

	a := Default()
	a.Port = 1
	b := Default()
	b.Port = 2
	st.Set(a)
	st.Set(b) // overwrites the undelivered value

	got := <-ch
	if got.Port != 2 {
		t.Errorf("slow subscriber saw port %d, want latest 2", got.Port)
	}
}

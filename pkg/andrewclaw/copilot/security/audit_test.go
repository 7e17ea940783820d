package security

import (
	"os"
	"path/filepath"
	"testing"
)

func findingIDs(r *AuditReport) map[string]bool {
	ids := make(map[string]bool)
	for _, f := range r.Findings {
		ids[f.CheckID] = true
	}
	return ids
}

func TestRunAudit_Clean(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfg := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(cfg, []byte("name: x\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	data := filepath.Join(dir, "data")
	if err := os.Mkdir(data, 0o700); err != nil {
		t.Fatal(err)
	}

	r := RunAudit(AuditOptions{
		ConfigPath:     cfg,
		DataDir:        data,
		RawAPIKey:      "${DEEPSEEK_API_KEY}",
		APIKeyResolved: true,
	})
	if len(r.Findings) != 0 {
		t.Errorf("expected no findings, got %+v", r.Findings)
	}
	if r.TotalChecks != len(auditChecks) {
		t.Errorf("TotalChecks = %d", r.TotalChecks)
	}
}

func TestRunAudit_Findings(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfg := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(cfg, []byte("name: x\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	data := filepath.Join(dir, "data")
	if err := os.Mkdir(data, 0o755); err != nil {
		t.Fatal(err)
	}
	// Umask may have stripped the bits.
	_ = os.Chmod(cfg, 0o644)
	_ = os.Chmod(data, 0o755)

	r := RunAudit(AuditOptions{
		ConfigPath:  cfg,
		DataDir:     data,
		RawAPIKey:   "sk-1234567890abcdef1234",
		RawBotToken: "123456789:AAHdqTcvCH1vGWJxfSeofSAs0K5PALDsaw",
	})

	ids := findingIDs(r)
	for _, want := range []string{"config.raw_api_key", "config.raw_bot_token", "config.no_api_key", "fs.config_permissions", "fs.data_dir_permissions"} {
		if !ids[want] {
			t.Errorf("missing finding %s", want)
		}
	}
	if r.CriticalCount != 1 {
		t.Errorf("CriticalCount = %d, want 1", r.CriticalCount)
	}
}

func TestLooksLikeSecret(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want bool
	}{
		{"", false},
		{"${DEEPSEEK_API_KEY}", false},
		{"$DEEPSEEK_API_KEY", false},
		{"your-api-key-here-please", false},
		{"short", false},
		{"sk-abcdefghijklmnopqrstuvwxyz", true},
	}
	for _, tt := range tests {
		if got := looksLikeSecret(tt.in); got != tt.want {
			t.Errorf("looksLikeSecret(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

// Package security – audit.go checks a deployment for exposed credentials
// and readable data directories. Run by `andrewclaw config audit`.
package security

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Severity levels for audit findings.
const (
	SeverityCritical = "critical"
	SeverityWarning  = "warning"
	SeverityInfo     = "info"
)

// AuditFinding is a single problem found by an audit check.
type AuditFinding struct {
	CheckID     string `json:"check_id"`
	Severity    string `json:"severity"`
	Title       string `json:"title"`
	Detail      string `json:"detail"`
	Remediation string `json:"remediation"`
}

// AuditReport collects the findings of one audit run.
type AuditReport struct {
	Timestamp     time.Time      `json:"timestamp"`
	TotalChecks   int            `json:"total_checks"`
	CriticalCount int            `json:"critical_count"`
	WarningCount  int            `json:"warning_count"`
	InfoCount     int            `json:"info_count"`
	Findings      []AuditFinding `json:"findings"`
}

// Summary returns a one-line description of the report.
func (r *AuditReport) Summary() string {
	if len(r.Findings) == 0 {
		return fmt.Sprintf("Security audit passed: %d checks, no findings.", r.TotalChecks)
	}
	return fmt.Sprintf("Security audit: %d checks, %d critical, %d warnings, %d info.",
		r.TotalChecks, r.CriticalCount, r.WarningCount, r.InfoCount)
}

// AuditOptions describes the deployment being audited. Secret fields hold
// the raw config values, before env expansion.
type AuditOptions struct {
	ConfigPath     string
	DataDir        string
	LogsDir        string
	RawAPIKey      string
	RawBotToken    string
	KeyringHasKey  bool
	APIKeyResolved bool
}

type auditCheck func(AuditOptions) *AuditFinding

var auditChecks = []auditCheck{
	checkPlaintextAPIKey,
	checkPlaintextBotToken,
	checkMissingAPIKey,
	checkConfigPermissions,
	checkDirPermissions("fs.data_dir_permissions", "Data directory", func(o AuditOptions) string { return o.DataDir }),
	checkDirPermissions("fs.logs_dir_permissions", "Logs directory", func(o AuditOptions) string { return o.LogsDir }),
}

// RunAudit executes every check and returns the report.
func RunAudit(opts AuditOptions) *AuditReport {
	report := &AuditReport{Timestamp: time.Now(), TotalChecks: len(auditChecks)}
	for _, check := range auditChecks {
		finding := check(opts)
		if finding == nil {
			continue
		}
		report.Findings = append(report.Findings, *finding)
		switch finding.Severity {
		case SeverityCritical:
			report.CriticalCount++
		case SeverityWarning:
			report.WarningCount++
		case SeverityInfo:
			report.InfoCount++
		}
	}
	return report
}

func checkPlaintextAPIKey(opts AuditOptions) *AuditFinding {
	if !looksLikeSecret(opts.RawAPIKey) {
		return nil
	}
	return &AuditFinding{
		CheckID:     "config.raw_api_key",
		Severity:    SeverityCritical,
		Title:       "API key in plaintext",
		Detail:      "The model API key is written directly in the config file.",
		Remediation: "Use 'api_key: ${DEEPSEEK_API_KEY}' or run 'andrewclaw config set-key'.",
	}
}

func checkPlaintextBotToken(opts AuditOptions) *AuditFinding {
	if !looksLikeSecret(opts.RawBotToken) {
		return nil
	}
	return &AuditFinding{
		CheckID:     "config.raw_bot_token",
		Severity:    SeverityWarning,
		Title:       "Telegram token in plaintext",
		Detail:      "The Telegram bot token is written directly in the config file.",
		Remediation: "Use 'token: ${TELEGRAM_BOT_TOKEN}' and keep the value in .env.",
	}
}

func checkMissingAPIKey(opts AuditOptions) *AuditFinding {
	if opts.APIKeyResolved || opts.KeyringHasKey {
		return nil
	}
	return &AuditFinding{
		CheckID:     "config.no_api_key",
		Severity:    SeverityInfo,
		Title:       "No API key configured",
		Detail:      "No model API key was found in the keyring, environment or config.",
		Remediation: "Run 'andrewclaw config set-key' or set DEEPSEEK_API_KEY.",
	}
}

func checkConfigPermissions(opts AuditOptions) *AuditFinding {
	if opts.ConfigPath == "" {
		return nil
	}
	info, err := os.Stat(opts.ConfigPath)
	if err != nil {
		return nil
	}
	perm := info.Mode().Perm()
	if perm&0o004 == 0 {
		return nil
	}
	return &AuditFinding{
		CheckID:     "fs.config_permissions",
		Severity:    SeverityWarning,
		Title:       "Config file is world-readable",
		Detail:      fmt.Sprintf("Config file %s has permissions %o.", opts.ConfigPath, perm),
		Remediation: fmt.Sprintf("chmod 600 %s", opts.ConfigPath),
	}
}

func checkDirPermissions(id, label string, dir func(AuditOptions) string) auditCheck {
	return func(opts AuditOptions) *AuditFinding {
		path := dir(opts)
		if path == "" {
			return nil
		}
		info, err := os.Stat(path)
		if err != nil || !info.IsDir() {
			return nil
		}
		perm := info.Mode().Perm()
		if perm&0o004 == 0 {
			return nil
		}
		return &AuditFinding{
			CheckID:     id,
			Severity:    SeverityWarning,
			Title:       label + " is world-readable",
			Detail:      fmt.Sprintf("%s %s has permissions %o. It holds conversation transcripts and profiles.", label, path, perm),
			Remediation: fmt.Sprintf("chmod 700 %s", path),
		}
	}
}

// looksLikeSecret reports whether a raw config value is a literal
// credential rather than empty or an env reference.
func looksLikeSecret(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" || strings.HasPrefix(s, "$") {
		return false
	}
	lower := strings.ToLower(s)
	if strings.HasPrefix(lower, "test") || strings.Contains(lower, "your-") || strings.Contains(lower, "changeme") {
		return false
	}
	return len(s) >= 15
}

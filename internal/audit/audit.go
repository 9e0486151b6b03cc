// Package audit records every permission decision the coordination core
// makes (ticket mutation checks, escalation approvals) to a JSONL file
// and, once a database is attached, to the audit_log table. A deny
// decision is always recorded even if the writes to disk or the table
// fail, since DenyCount is read by the retention sweep's health check.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/amperehq/ampere/internal/shared"
)

type entry struct {
	Timestamp      string `json:"timestamp"`
	TraceID        string `json:"trace_id,omitempty"`
	Decision       string `json:"decision"`
	Action         string `json:"action"`
	Reason         string `json:"reason"`
	RulesetVersion string `json:"ruleset_version"`
	Subject        string `json:"subject,omitempty"`
}

// Recorder writes audit entries to a JSONL file and, once a database is
// attached, to the audit_log table. The zero value is usable once
// Init has opened its log file.
type Recorder struct {
	mu        sync.Mutex
	file      *os.File
	db        *sql.DB
	denyCount atomic.Int64
}

// Init opens <homeDir>/logs/audit.jsonl, creating it and its parent
// directory if needed. Calling Init again on an already-open Recorder
// is a no-op.
func (r *Recorder) Init(homeDir string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file != nil {
		return nil
	}
	logDir := filepath.Join(homeDir, "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(logDir, "audit.jsonl"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	r.file = f
	return nil
}

// SetDB attaches the database Record writes audit_log rows into.
func (r *Recorder) SetDB(d *sql.DB) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.db = d
}

// Close closes the JSONL file. Safe to call on a Recorder that was
// never Init'd.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}

// DenyCount returns the total number of deny decisions recorded since
// startup.
func (r *Recorder) DenyCount() int64 {
	return r.denyCount.Load()
}

// Record persists one audit entry. The trace ID, if ctx carries a
// sampled span, is recorded alongside the decision so an audit row can
// be cross-referenced with the span that produced it. reason and
// subject are redacted before either write, since both are free-form
// strings an actor controls (a block reason, a ticket title) and may
// carry a pasted credential.
func (r *Recorder) Record(ctx context.Context, decision, action, reason, rulesetVersion, subject string) {
	if decision == "deny" {
		r.denyCount.Add(1)
	}

	reason = shared.Redact(reason)
	subject = shared.Redact(subject)
	traceID := traceIDFromContext(ctx)

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file != nil {
		ev := entry{
			Timestamp:      time.Now().UTC().Format(time.RFC3339Nano),
			TraceID:        traceID,
			Decision:       decision,
			Action:         action,
			Reason:         reason,
			RulesetVersion: rulesetVersion,
			Subject:        subject,
		}
		if b, err := json.Marshal(ev); err == nil {
			_, _ = r.file.Write(append(b, '\n'))
		}
	}

	if r.db != nil {
		_, _ = r.db.ExecContext(context.Background(), `
			INSERT INTO audit_log (trace_id, subject, action, decision, reason, ruleset_version)
			VALUES (?, ?, ?, ?, ?, ?);
		`, traceID, subject, action, decision, reason, rulesetVersion)
	}
}

func traceIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}

// Default is the process-wide Recorder main wires through Init/SetDB.
// Record/DenyCount/Close are exposed as package functions delegating to
// it, so most callers never need to hold a *Recorder directly.
var Default = &Recorder{}

func Init(homeDir string) error { return Default.Init(homeDir) }
func SetDB(d *sql.DB)           { Default.SetDB(d) }
func Close() error              { return Default.Close() }
func DenyCount() int64          { return Default.DenyCount() }

func Record(ctx context.Context, decision, action, reason, rulesetVersion, subject string) {
	Default.Record(ctx, decision, action, reason, rulesetVersion, subject)
}

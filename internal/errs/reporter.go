package errs

import (
	"sync"
	"time"

	"github.com/wgong/flowx/internal/logger"
)

// Severity grades a reported error
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Report is one recorded error
type Report struct {
	Message   string         `json:"message"`
	Context   map[string]any `json:"context"`
	Severity  Severity       `json:"severity"`
	Timestamp time.Time      `json:"timestamp"`
	Err       error          `json:"-"`
	ErrText   string         `json:"error,omitempty"`
}

// Summary counts recorded errors
type Summary struct {
	Total      int              `json:"total"`
	BySeverity map[Severity]int `json:"by_severity"`
	ByKind     map[Kind]int     `json:"by_kind"`
}

// Reporter collects errors raised during a run
type Reporter struct {
	mu      sync.Mutex
	reports []Report
	log     *logger.Logger
}

// NewReporter creates a reporter that also logs each report through log
func NewReporter(log *logger.Logger) *Reporter {
	if log == nil {
		log = logger.Nop()
	}
	return &Reporter{log: log.WithComponent("errors")}
}

// Report records err with its context
func (r *Reporter) Report(err error, context map[string]any, severity Severity) {
	if err == nil {
		return
	}
	if severity == "" {
		severity = SeverityMedium
	}

	rep := Report{
		Message:   err.Error(),
		Context:   context,
		Severity:  severity,
		Timestamp: time.Now(),
		Err:       err,
		ErrText:   err.Error(),
	}

	r.mu.Lock()
	r.reports = append(r.reports, rep)
	r.mu.Unlock()

	fields := logger.Fields{"severity": string(severity), "error": err}
	if kind := KindOf(err); kind != "" {
		fields["kind"] = string(kind)
	}
	switch severity {
	case SeverityHigh, SeverityCritical:
		r.log.Error("error reported", fields)
	default:
		r.log.Warn("error reported", fields)
	}
}

// Errors returns the recorded reports, filtered to severity when it is non-empty
func (r *Reporter) Errors(severity Severity) []Report {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Report, 0, len(r.reports))
	for _, rep := range r.reports {
		if severity == "" || rep.Severity == severity {
			out = append(out, rep)
		}
	}
	return out
}

// HasErrors reports whether anything was recorded
func (r *Reporter) HasErrors() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.reports) > 0
}

// Summary counts the recorded reports by severity and kind
func (r *Reporter) Summary() Summary {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := Summary{
		Total:      len(r.reports),
		BySeverity: make(map[Severity]int),
		ByKind:     make(map[Kind]int),
	}
	for _, rep := range r.reports {
		s.BySeverity[rep.Severity]++
		kind := KindOf(rep.Err)
		if kind == "" {
			kind = "Unclassified"
		}
		s.ByKind[kind]++
	}
	return s
}

// Clear drops every recorded report
func (r *Reporter) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = nil
}

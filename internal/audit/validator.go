// Package audit validates the recorded event trail.
//
// The validator is read-only: it loads outbox rows and their processed
// records and checks the invariants the settlement core promises, from
// field presence through timestamp ordering to causation-chain shape. It
// backs the ops audit endpoints and the trail tests.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/leduxro-prog/erp-dashboard-sub013/internal/domain"
	"github.com/leduxro-prog/erp-dashboard-sub013/internal/ledger"
)

type Severity string

const (
	SeverityError Severity = "error"
	SeverityWarn  Severity = "warn"
)

// Finding is one violated rule.
type Finding struct {
	Rule     string   `json:"rule"`
	Severity Severity `json:"severity"`
	EventID  string   `json:"event_id,omitempty"`
	Detail   string   `json:"detail"`
}

// Report collects the findings for one event or one correlation.
type Report struct {
	Subject   string    `json:"subject"`
	CheckedAt time.Time `json:"checked_at"`
	Events    int       `json:"events"`
	Findings  []Finding `json:"findings"`
}

// Clean reports whether every rule held.
func (r *Report) Clean() bool { return len(r.Findings) == 0 }

func (r *Report) add(rule string, sev Severity, eventID, format string, args ...any) {
	r.Findings = append(r.Findings, Finding{
		Rule:     rule,
		Severity: sev,
		EventID:  eventID,
		Detail:   fmt.Sprintf(format, args...),
	})
}

// Validator checks recorded trails against the store.
type Validator struct {
	store *ledger.Store
}

func NewValidator(store *ledger.Store) *Validator {
	return &Validator{store: store}
}

// ValidateEvent checks a single event row and its processed records.
// Returns ledger.ErrNotFound when no such event was ever recorded.
func (v *Validator) ValidateEvent(ctx context.Context, eventID string) (*Report, error) {
	e, err := v.store.OutboxEventByEventID(ctx, eventID)
	if err != nil {
		return nil, err
	}
	report := &Report{Subject: "event " + eventID, CheckedAt: time.Now().UTC(), Events: 1}
	v.checkEvent(ctx, report, e)
	return report, nil
}

// ValidateCorrelation checks every event of one workflow plus the shape of
// its causation chain. Returns ledger.ErrNotFound when the correlation has
// no events.
func (v *Validator) ValidateCorrelation(ctx context.Context, correlationID string) (*Report, error) {
	events, err := v.store.OutboxEventsByCorrelation(ctx, correlationID)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, ledger.ErrNotFound
	}
	report := &Report{Subject: "correlation " + correlationID, CheckedAt: time.Now().UTC(), Events: len(events)}
	byID := make(map[string]*domain.OutboxEvent, len(events))
	for i := range events {
		v.checkEvent(ctx, report, &events[i])
		byID[events[i].EventID] = &events[i]
	}
	checkChain(report, events, byID)
	return report, nil
}

// checkEvent applies the single-row rules.
func (v *Validator) checkEvent(ctx context.Context, report *Report, e *domain.OutboxEvent) {
	required := []struct {
		name  string
		value string
	}{
		{"event_type", e.EventType},
		{"event_version", e.EventVersion},
		{"event_domain", e.EventDomain},
		{"topic", e.Topic},
		{"correlation_id", e.CorrelationID},
	}
	for _, f := range required {
		if f.value == "" {
			report.add("required-field", SeverityError, e.EventID, "%s is empty", f.name)
		}
	}
	if len(e.Payload) == 0 {
		report.add("payload", SeverityError, e.EventID, "payload is empty")
	} else if !json.Valid(e.Payload) {
		report.add("payload", SeverityError, e.EventID, "payload is not valid JSON")
	}

	if e.OccurredAt.After(e.CreatedAt) {
		report.add("timestamps", SeverityError, e.EventID,
			"occurred_at %s is after created_at %s", e.OccurredAt.Format(time.RFC3339Nano), e.CreatedAt.Format(time.RFC3339Nano))
	}

	switch e.Status {
	case domain.OutboxPublished:
		if e.PublishedAt == nil {
			report.add("terminal-state", SeverityError, e.EventID, "published without published_at")
		} else if e.PublishedAt.Before(e.CreatedAt) {
			report.add("timestamps", SeverityError, e.EventID,
				"published_at %s precedes created_at %s", e.PublishedAt.Format(time.RFC3339Nano), e.CreatedAt.Format(time.RFC3339Nano))
		}
	case domain.OutboxFailed, domain.OutboxDiscarded:
		if e.FailedAt == nil {
			report.add("terminal-state", SeverityError, e.EventID, "%s without failed_at", e.Status)
		}
		if e.ErrorMessage == "" {
			report.add("terminal-state", SeverityError, e.EventID, "%s without error_message", e.Status)
		}
	}

	if e.Attempts > e.MaxAttempts {
		report.add("attempts", SeverityWarn, e.EventID, "attempts %d exceed budget %d", e.Attempts, e.MaxAttempts)
	}

	processed, err := v.store.ProcessedEventsByEventID(ctx, e.EventID)
	if err != nil {
		report.add("processed-records", SeverityWarn, e.EventID, "loading processed records: %v", err)
		return
	}
	for _, p := range processed {
		if p.ProcessedAt.Before(e.CreatedAt) {
			report.add("timestamps", SeverityError, e.EventID,
				"consumer %s processed_at %s precedes event created_at %s",
				p.ConsumerName, p.ProcessedAt.Format(time.RFC3339Nano), e.CreatedAt.Format(time.RFC3339Nano))
		}
		if p.Status == domain.ProcessedFailed && p.ErrorMessage == "" {
			report.add("processed-records", SeverityWarn, e.EventID,
				"consumer %s recorded a failure without an error message", p.ConsumerName)
		}
	}
}

// checkChain validates the causation edges inside one correlation: targets
// exist, chains terminate without cycles, and time never runs backwards
// from cause to effect.
func checkChain(report *Report, events []domain.OutboxEvent, byID map[string]*domain.OutboxEvent) {
	for i := range events {
		e := &events[i]
		if e.CausationID == "" {
			continue
		}
		cause, ok := byID[e.CausationID]
		if !ok {
			report.add("causation", SeverityError, e.EventID,
				"causation_id %s not found in correlation", e.CausationID)
			continue
		}
		if e.OccurredAt.Before(cause.OccurredAt) {
			report.add("causation", SeverityError, e.EventID,
				"occurred_at precedes its cause %s", cause.EventID)
		}
	}
	for i := range events {
		e := &events[i]
		if e.ParentEventID == "" {
			continue
		}
		if _, ok := byID[e.ParentEventID]; !ok {
			report.add("causation", SeverityWarn, e.EventID,
				"parent_event_id %s not found in correlation", e.ParentEventID)
		}
	}

	// Walk each chain with a step budget; exceeding it means a cycle.
	limit := len(events) + 1
	inCycle := map[string]bool{}
	for i := range events {
		start := &events[i]
		if inCycle[start.EventID] {
			continue
		}
		steps := 0
		for cur := start; cur != nil && cur.CausationID != ""; {
			steps++
			if steps > limit {
				report.add("causation", SeverityError, start.EventID, "causation chain does not terminate")
				inCycle[start.EventID] = true
				break
			}
			cur = byID[cur.CausationID]
		}
	}
}

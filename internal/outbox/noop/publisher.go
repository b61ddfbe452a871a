package noop

import (
	"context"

	"github.com/leduxro-prog/erp-dashboard-sub013/internal/domain"
)

// Publisher drops every envelope. Used when no broker is configured: the
// outbox still records the full event trail, it just goes nowhere.
type Publisher struct{}

func (Publisher) Publish(_ context.Context, _ domain.Envelope, _, _ string) error { return nil }

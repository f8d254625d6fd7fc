// Package casework applies reviewer actions to cases and serves the
// canned rejection templates.
package casework

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// DefaultRejectReason is recorded when a reviewer rejects without a reason.
const DefaultRejectReason = "No reason provided"

// ErrNoTemplate is returned when a case type has no reject template.
var ErrNoTemplate = errors.New("no reject template for case type")

// ActionRequest is a reviewer action on one case.
type ActionRequest struct {
	Action   domain.CaseAction `json:"action"`
	Comment  string            `json:"comment,omitempty"`
	Reason   string            `json:"reason,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// CaseUpdated is the payload of domain.TopicCaseUpdated.
type CaseUpdated struct {
	CaseID        string            `json:"caseId"`
	TransactionID string            `json:"transactionId"`
	CaseType      string            `json:"caseType"`
	Action        domain.CaseAction `json:"action"`
	Status        domain.CaseStatus `json:"status"`
	Timestamp     time.Time         `json:"timestamp"`
}

// Service applies case actions.
type Service struct {
	repo domain.Repository
	bus  domain.EventBus
	now  func() time.Time
}

// NewService creates a case service. eventBus may be nil.
func NewService(repo domain.Repository, eventBus domain.EventBus) *Service {
	return &Service{
		repo: repo,
		bus:  eventBus,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Apply moves the case to the action's target status and records the
// resolution. Actions on APPROVED or REJECTED cases fail with
// domain.ErrTerminalCase.
func (s *Service) Apply(ctx context.Context, tenantID, caseID string, req ActionRequest) (*domain.Case, error) {
	if _, err := req.Action.TargetStatus(); err != nil {
		return nil, fmt.Errorf("%w: %q", err, req.Action)
	}

	res := domain.CaseResolution{Action: req.Action, Comment: req.Comment}
	switch req.Action {
	case domain.ActionReject:
		res.Reason = req.Reason
		if res.Reason == "" {
			res.Reason = DefaultRejectReason
		}
		res.Metadata = req.Metadata
	case domain.ActionRequestReceipt:
		// The comment is the message sent to the employee.
		res.Metadata = map[string]string{"receipt_request_message": req.Comment}
	}

	at := s.now()
	c, err := s.repo.ApplyCaseAction(ctx, tenantID, caseID, res, at)
	if err != nil {
		return c, err
	}

	event := CaseUpdated{
		CaseID:        c.ID,
		TransactionID: c.TransactionID,
		CaseType:      c.CaseType,
		Action:        req.Action,
		Status:        c.Status,
		Timestamp:     at,
	}
	if err := bus.PublishJSON(ctx, s.bus, tenantID, domain.TopicCaseUpdated, event); err != nil {
		slog.Warn("failed to publish case update", "tenant", tenantID, "caseId", caseID, "error", err)
	}

	slog.Info("case action applied",
		"tenant", tenantID,
		"caseId", caseID,
		"action", req.Action,
		"status", c.Status,
	)
	return c, nil
}

// RejectTemplate returns the template matching the case's type.
func (s *Service) RejectTemplate(ctx context.Context, tenantID, caseID string) (*RejectTemplate, error) {
	c, err := s.repo.GetCase(ctx, tenantID, caseID)
	if err != nil {
		return nil, err
	}
	t, ok := TemplateFor(c.CaseType)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoTemplate, c.CaseType)
	}
	return &t, nil
}

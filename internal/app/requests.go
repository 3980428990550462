package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"docket/api/internal/rbac"
	"docket/api/internal/store"
	"docket/api/internal/util"
)

var requestScopes = map[string]bool{
	"record":   true,
	"fields":   true,
	"evidence": true,
}

var requestOutcomes = map[string]bool{
	"passed":  true,
	"failed":  true,
	"partial": true,
}

// RequestInput asks for an independent verification pass over a case.
type RequestInput struct {
	CaseID   string `json:"caseId"`
	Scope    string `json:"scope"`
	Priority int    `json:"priority"`
}

// ResultInput is one per-item verdict attached to a completion.
type ResultInput struct {
	ItemType string `json:"itemType"`
	ItemName string `json:"itemName"`
	Passed   bool   `json:"passed"`
	Notes    string `json:"notes"`
}

// CompletionInput closes out an assigned request.
type CompletionInput struct {
	Outcome     string        `json:"outcome"`
	IssuesFound string        `json:"issuesFound"`
	Notes       string        `json:"notes"`
	Level       string        `json:"level"`
	Results     []ResultInput `json:"results"`
}

func (s *Service) CreateVerificationRequest(ctx context.Context, actor Actor, input RequestInput) (map[string]any, error) {
	if err := requireAction(actor, rbac.ActionSubmit); err != nil {
		return nil, err
	}
	scope := input.Scope
	if scope == "" {
		scope = "record"
	}
	if !requestScopes[scope] {
		return nil, validationError(fmt.Sprintf("unrecognized scope %q", scope))
	}
	if _, err := s.store.GetCase(ctx, input.CaseID); err != nil {
		return nil, err
	}

	request := store.VerificationRequest{
		ID:          util.NewID("vr"),
		CaseID:      input.CaseID,
		Scope:       scope,
		Priority:    input.Priority,
		RequestedBy: actor.Name,
	}
	if err := s.store.InsertVerificationRequest(ctx, request); err != nil {
		return nil, err
	}
	saved, err := s.store.GetVerificationRequest(ctx, request.ID)
	if err != nil {
		return nil, err
	}
	return requestPayload(saved), nil
}

func (s *Service) GetVerificationRequest(ctx context.Context, requestID string) (map[string]any, error) {
	item, err := s.store.GetVerificationRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	return requestPayload(item), nil
}

func (s *Service) ListVerificationRequests(ctx context.Context, status, assignedTo string) ([]map[string]any, error) {
	items, err := s.store.ListVerificationRequests(ctx, status, assignedTo)
	if err != nil {
		return nil, err
	}
	payloads := make([]map[string]any, 0, len(items))
	for _, item := range items {
		payloads = append(payloads, requestPayload(item))
	}
	return payloads, nil
}

// verifierCapacity resolves the actor's concurrency limit, falling back to
// the configured default when no profile exists.
func (s *Service) verifierCapacity(ctx context.Context, verifier string) (int, error) {
	limit, err := s.store.GetVerifierMaxConcurrent(ctx, verifier)
	if errors.Is(err, sql.ErrNoRows) {
		return s.cfg.DefaultVerifierCapacity, nil
	}
	if err != nil {
		return 0, err
	}
	return limit, nil
}

// AssignVerificationRequest claims a pending request for the acting
// verifier, subject to the capacity cap and the own-case guard.
func (s *Service) AssignVerificationRequest(ctx context.Context, actor Actor, requestID string) (map[string]any, error) {
	if err := requireAction(actor, rbac.ActionVerify); err != nil {
		return nil, err
	}
	request, err := s.store.GetVerificationRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	item, err := s.store.GetCase(ctx, request.CaseID)
	if err != nil {
		return nil, err
	}
	if err := distinctFrom(actor, item.SubmittedBy, "Cannot verify a case you submitted"); err != nil {
		return nil, err
	}

	limit, err := s.verifierCapacity(ctx, actor.Name)
	if err != nil {
		return nil, err
	}
	assigned, err := s.store.AssignedRequestCount(ctx, actor.Name)
	if err != nil {
		return nil, err
	}
	if assigned >= limit {
		return nil, stateConflict(fmt.Sprintf("verifier at capacity (%d of %d assigned)", assigned, limit))
	}

	saved, err := s.store.AssignVerificationRequest(ctx, requestID, actor.Name)
	if err != nil {
		return nil, err
	}
	return requestPayload(saved), nil
}

// UnassignVerificationRequest returns a claimed request to the pool. Only
// the assignee (or an elevated actor) may do this.
func (s *Service) UnassignVerificationRequest(ctx context.Context, actor Actor, requestID string) (map[string]any, error) {
	if err := requireAction(actor, rbac.ActionVerify); err != nil {
		return nil, err
	}
	request, err := s.store.GetVerificationRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if actor.Name != request.AssignedTo && !rbac.Elevated(actor.Role) {
		return nil, forbidden("Only the assignee can unassign this request")
	}

	saved, err := s.store.UnassignVerificationRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	return requestPayload(saved), nil
}

// CompleteVerificationRequest records the verifier's outcome. A pass stamps
// the case's verification level and scope; a whole-record pass additionally
// fingerprints the field map so later drift is detectable.
func (s *Service) CompleteVerificationRequest(ctx context.Context, actor Actor, requestID string, input CompletionInput) (map[string]any, error) {
	if err := requireAction(actor, rbac.ActionVerify); err != nil {
		return nil, err
	}
	if !requestOutcomes[input.Outcome] {
		return nil, validationError("outcome must be passed, failed or partial")
	}
	request, err := s.store.GetVerificationRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}

	level := input.Level
	if level == "" {
		level = "standard"
	}
	complete := store.CompleteVerificationRequestInput{
		RequestID:   requestID,
		CaseID:      request.CaseID,
		Actor:       actor.Name,
		Outcome:     input.Outcome,
		IssuesFound: input.IssuesFound,
		Notes:       input.Notes,
		Level:       level,
		Scope:       request.Scope,
	}
	for _, result := range input.Results {
		complete.Results = append(complete.Results, store.VerificationResult{
			ItemType: result.ItemType,
			ItemName: result.ItemName,
			Passed:   result.Passed,
			Notes:    result.Notes,
		})
	}
	if input.Outcome == "passed" && request.Scope == "record" {
		complete.HashFields = func(item store.CaseRecord) string {
			return contentHash(fieldMap(item))
		}
	}

	saved, number, err := s.store.CompleteVerificationRequest(ctx, complete)
	if err != nil {
		return nil, err
	}
	s.recordActivity(ctx, request.CaseID, number, "verification_completed", actor.Name, input.Outcome)
	return requestPayload(saved), nil
}

// RejectVerificationRequest closes the request without verifying anything.
func (s *Service) RejectVerificationRequest(ctx context.Context, actor Actor, requestID, reason string) (map[string]any, error) {
	if err := requireAction(actor, rbac.ActionReview); err != nil {
		return nil, err
	}
	if strings.TrimSpace(reason) == "" {
		return nil, validationError("rejection requires a reason")
	}
	saved, err := s.store.RejectVerificationRequest(ctx, requestID, reason)
	if err != nil {
		return nil, err
	}
	return requestPayload(saved), nil
}

// ReviseVerificationRequest sends the work back to the assignee for another
// pass without closing the request.
func (s *Service) ReviseVerificationRequest(ctx context.Context, actor Actor, requestID, notes string) (map[string]any, error) {
	if err := requireAction(actor, rbac.ActionReview); err != nil {
		return nil, err
	}
	saved, err := s.store.ReviseVerificationRequest(ctx, requestID, notes)
	if err != nil {
		return nil, err
	}
	return requestPayload(saved), nil
}

// SetVerifierCapacity overrides a verifier's concurrency cap.
func (s *Service) SetVerifierCapacity(ctx context.Context, actor Actor, verifier string, maxConcurrent int) (map[string]any, error) {
	if err := requireAction(actor, rbac.ActionAdmin); err != nil {
		return nil, err
	}
	if maxConcurrent < 1 {
		return nil, validationError("maxConcurrent must be at least 1")
	}
	if err := s.store.UpsertVerifierProfile(ctx, verifier, maxConcurrent); err != nil {
		return nil, err
	}
	return map[string]any{"verifier": verifier, "maxConcurrent": maxConcurrent}, nil
}

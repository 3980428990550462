package app

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"docket/api/internal/rbac"
	"docket/api/internal/store"
	"docket/api/internal/util"
)

// SuggestionInput proposes a new value for one field, optionally carrying
// its own supporting quote.
type SuggestionInput struct {
	FieldName      string `json:"fieldName"`
	SuggestedValue any    `json:"suggestedValue"`
	QuoteText      string `json:"quoteText"`
	SourceURL      string `json:"sourceUrl"`
}

// ApprovalInput is the second-review payload. Evidence resolution order:
// an explicit quote id, then fresh quote text + source URL, then whatever
// the suggestion itself carried.
type ApprovalInput struct {
	Notes             string `json:"notes"`
	QuoteID           string `json:"quoteId"`
	QuoteText         string `json:"quoteText"`
	SourceURL         string `json:"sourceUrl"`
	SourceTitle       string `json:"sourceTitle"`
	SourcePublication string `json:"sourcePublication"`
}

func (s *Service) CreateSuggestion(ctx context.Context, actor Actor, caseID string, input SuggestionInput) (map[string]any, error) {
	if err := requireAction(actor, rbac.ActionSubmit); err != nil {
		return nil, err
	}
	if _, ok := store.CaseFieldColumn(input.FieldName); !ok {
		return nil, validationError(fmt.Sprintf("unknown field %q", input.FieldName))
	}
	item, err := s.store.GetCase(ctx, caseID)
	if err != nil {
		return nil, err
	}

	current, err := json.Marshal(fieldMap(item)[input.FieldName])
	if err != nil {
		return nil, fmt.Errorf("snapshot current value: %w", err)
	}
	suggested, err := json.Marshal(input.SuggestedValue)
	if err != nil {
		return nil, fmt.Errorf("encode suggested value: %w", err)
	}

	suggestion := store.EditSuggestion{
		ID:             util.NewID("sug"),
		CaseID:         caseID,
		FieldName:      input.FieldName,
		CurrentValue:   string(current),
		SuggestedValue: string(suggested),
		QuoteText:      input.QuoteText,
		SourceURL:      input.SourceURL,
		SuggestedBy:    actor.Name,
	}
	if err := s.store.InsertSuggestion(ctx, suggestion); err != nil {
		return nil, err
	}
	saved, err := s.store.GetSuggestion(ctx, suggestion.ID)
	if err != nil {
		return nil, err
	}
	return suggestionPayload(saved), nil
}

func (s *Service) GetSuggestion(ctx context.Context, suggestionID string) (map[string]any, error) {
	item, err := s.store.GetSuggestion(ctx, suggestionID)
	if err != nil {
		return nil, err
	}
	return suggestionPayload(item), nil
}

func (s *Service) ListSuggestions(ctx context.Context, caseID, status string) ([]map[string]any, error) {
	items, err := s.store.ListSuggestions(ctx, caseID, status)
	if err != nil {
		return nil, err
	}
	payloads := make([]map[string]any, 0, len(items))
	for _, item := range items {
		payloads = append(payloads, suggestionPayload(item))
	}
	return payloads, nil
}

// ReviewSuggestion records the first approval. The reviewer must not be the
// suggester unless elevated.
func (s *Service) ReviewSuggestion(ctx context.Context, actor Actor, suggestionID, notes string) (map[string]any, error) {
	if err := requireAction(actor, rbac.ActionReview); err != nil {
		return nil, err
	}
	item, err := s.store.GetSuggestion(ctx, suggestionID)
	if err != nil {
		return nil, err
	}
	if item.Status != "pending" {
		return nil, stateConflict(fmt.Sprintf("suggestion is %s, not pending", item.Status))
	}
	if err := distinctFrom(actor, item.SuggestedBy, "Suggester cannot review their own suggestion"); err != nil {
		return nil, err
	}

	saved, err := s.store.ReviewSuggestion(ctx, suggestionID, actor.Name, notes)
	if err != nil {
		return nil, err
	}
	return suggestionPayload(saved), nil
}

// ApproveSuggestion is the second approval plus the atomic apply. The
// approval must resolve to exactly one evidentiary quote or the whole
// operation is refused.
func (s *Service) ApproveSuggestion(ctx context.Context, actor Actor, suggestionID string, input ApprovalInput) (map[string]any, error) {
	if err := requireAction(actor, rbac.ActionReview); err != nil {
		return nil, err
	}
	item, err := s.store.GetSuggestion(ctx, suggestionID)
	if err != nil {
		return nil, err
	}
	if item.Status != "first_review" {
		return nil, stateConflict(fmt.Sprintf("suggestion is %s, not awaiting second review", item.Status))
	}
	if err := distinctFrom(actor, item.SuggestedBy, "Suggester cannot approve their own suggestion"); err != nil {
		return nil, err
	}
	if err := distinctFrom(actor, item.FirstReviewer, "Second review requires a different reviewer"); err != nil {
		return nil, err
	}

	approve := store.ApproveSuggestionInput{
		SuggestionID: suggestionID,
		CaseID:       item.CaseID,
		FieldName:    item.FieldName,
		Actor:        actor.Name,
		Notes:        input.Notes,
	}
	switch {
	case strings.TrimSpace(input.QuoteID) != "":
		approve.QuoteID = input.QuoteID
	case strings.TrimSpace(input.QuoteText) != "" && strings.TrimSpace(input.SourceURL) != "":
		approve.QuoteText = input.QuoteText
		approve.SourceURL = input.SourceURL
		approve.SourceTitle = input.SourceTitle
		approve.SourcePublication = input.SourcePublication
	case strings.TrimSpace(item.QuoteText) != "" && strings.TrimSpace(item.SourceURL) != "":
		approve.QuoteText = item.QuoteText
		approve.SourceURL = item.SourceURL
	default:
		return nil, evidenceRequired("evidence is required to approve an edit")
	}

	var value any
	if err := json.Unmarshal([]byte(item.SuggestedValue), &value); err != nil {
		return nil, fmt.Errorf("decode suggested value: %w", err)
	}
	approve.Value = value

	saved, number, err := s.store.ApproveSuggestion(ctx, approve)
	if err != nil {
		return nil, err
	}

	if updated, err := s.store.GetCase(ctx, item.CaseID); err == nil {
		s.indexCase(updated)
	}
	s.recordActivity(ctx, item.CaseID, number, "suggestion_applied", actor.Name, item.FieldName)
	return suggestionPayload(saved), nil
}

// RejectSuggestion closes the suggestion without applying anything. The
// suggester may reject (withdraw) their own; anyone else needs review
// rights.
func (s *Service) RejectSuggestion(ctx context.Context, actor Actor, suggestionID, notes string) (map[string]any, error) {
	item, err := s.store.GetSuggestion(ctx, suggestionID)
	if err != nil {
		return nil, err
	}
	if actor.Name != item.SuggestedBy {
		if err := requireAction(actor, rbac.ActionReview); err != nil {
			return nil, err
		}
	}
	saved, err := s.store.RejectSuggestion(ctx, suggestionID, actor.Name, notes)
	if err != nil {
		return nil, err
	}
	return suggestionPayload(saved), nil
}

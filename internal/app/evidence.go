package app

import (
	"context"
	"fmt"
	"strings"

	"docket/api/internal/rbac"
	"docket/api/internal/store"
)

// EvidenceInput is the payload for attaching a quote (and its source) to a
// case, optionally linked to specific fields.
type EvidenceInput struct {
	SourceURL         string   `json:"sourceUrl"`
	SourceTitle       string   `json:"sourceTitle"`
	SourcePublication string   `json:"sourcePublication"`
	QuoteText         string   `json:"quoteText"`
	Category          string   `json:"category"`
	Fields            []string `json:"fields"`
}

func (s *Service) AddEvidence(ctx context.Context, actor Actor, caseID string, input EvidenceInput) (map[string]any, error) {
	if err := requireAction(actor, rbac.ActionSubmit); err != nil {
		return nil, err
	}
	if strings.TrimSpace(input.QuoteText) == "" {
		return nil, validationError("quote text is required")
	}
	if strings.TrimSpace(input.SourceURL) == "" {
		return nil, validationError("source URL is required")
	}
	for _, field := range input.Fields {
		if _, ok := store.CaseFieldColumn(field); !ok {
			return nil, validationError(fmt.Sprintf("unknown field %q", field))
		}
	}
	if _, err := s.store.GetCase(ctx, caseID); err != nil {
		return nil, err
	}

	quote, number, err := s.store.AddEvidence(ctx, store.AddEvidenceInput{
		CaseID:            caseID,
		SourceURL:         input.SourceURL,
		SourceTitle:       input.SourceTitle,
		SourcePublication: input.SourcePublication,
		QuoteText:         input.QuoteText,
		Category:          input.Category,
		Fields:            input.Fields,
		AddedBy:           actor.Name,
	})
	if err != nil {
		return nil, err
	}

	s.indexQuote(quote)
	s.recordActivity(ctx, caseID, number, "evidence_added", actor.Name, strings.Join(input.Fields, ", "))
	return quotePayload(quote), nil
}

// ListFieldEvidence returns the quotes linked to a field with their source
// metadata, for rendering evidence coverage.
func (s *Service) ListFieldEvidence(ctx context.Context, caseID, fieldName string) ([]map[string]any, error) {
	if _, ok := store.CaseFieldColumn(fieldName); !ok {
		return nil, validationError(fmt.Sprintf("unknown field %q", fieldName))
	}
	if _, err := s.store.GetCase(ctx, caseID); err != nil {
		return nil, err
	}
	items, err := s.store.ListFieldEvidence(ctx, caseID, fieldName)
	if err != nil {
		return nil, err
	}
	payloads := make([]map[string]any, 0, len(items))
	for _, item := range items {
		payloads = append(payloads, fieldQuotePayload(item))
	}
	return payloads, nil
}

func (s *Service) ListCaseQuotes(ctx context.Context, caseID string) ([]map[string]any, error) {
	if _, err := s.store.GetCase(ctx, caseID); err != nil {
		return nil, err
	}
	items, err := s.store.ListCaseQuotes(ctx, caseID)
	if err != nil {
		return nil, err
	}
	payloads := make([]map[string]any, 0, len(items))
	for _, item := range items {
		payloads = append(payloads, quotePayload(item))
	}
	return payloads, nil
}

func (s *Service) ListCaseSources(ctx context.Context, caseID string) ([]map[string]any, error) {
	if _, err := s.store.GetCase(ctx, caseID); err != nil {
		return nil, err
	}
	items, err := s.store.ListCaseSources(ctx, caseID)
	if err != nil {
		return nil, err
	}
	payloads := make([]map[string]any, 0, len(items))
	for _, item := range items {
		payloads = append(payloads, sourcePayload(item))
	}
	return payloads, nil
}

package app

import (
	"context"
	"fmt"
	"strings"

	"docket/api/internal/rbac"
	"docket/api/internal/store"
	"docket/api/internal/util"
)

// recognized classifications for validation issues raised on return-to-review
var issueFieldTypes = map[string]bool{
	"field":    true,
	"quote":    true,
	"timeline": true,
	"source":   true,
}

func stringValue(value any) string {
	s, _ := value.(string)
	return strings.TrimSpace(s)
}

func stringList(value any) []string {
	switch list := value.(type) {
	case nil:
		return nil
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// SubmitCase creates a new case in pending_review from a whitelisted field
// map.
func (s *Service) SubmitCase(ctx context.Context, actor Actor, fields map[string]any) (map[string]any, error) {
	if err := requireAction(actor, rbac.ActionSubmit); err != nil {
		return nil, err
	}
	for field := range fields {
		if _, ok := store.CaseFieldColumn(field); !ok {
			return nil, validationError(fmt.Sprintf("unknown field %q", field))
		}
	}
	if stringValue(fields["title"]) == "" {
		return nil, validationError("title is required")
	}

	item := store.CaseRecord{
		ID:              util.NewID("case"),
		Title:           stringValue(fields["title"]),
		Summary:         stringValue(fields["summary"]),
		SubjectName:     stringValue(fields["subject_name"]),
		SubjectFullName: stringValue(fields["subject_full_name"]),
		DateOfIncident:  stringValue(fields["date_of_incident"]),
		CauseOfDeath:    stringValue(fields["cause_of_death"]),
		Facility:        stringValue(fields["facility"]),
		Agency:          stringValue(fields["agency"]),
		City:            stringValue(fields["city"]),
		State:           stringValue(fields["state"]),
		Tags:            stringList(fields["tags"]),
		SubmittedBy:     actor.Name,
	}

	number, err := s.store.CreateCase(ctx, item)
	if err != nil {
		return nil, err
	}
	saved, err := s.store.GetCase(ctx, item.ID)
	if err != nil {
		return nil, err
	}

	s.indexCase(saved)
	s.recordActivity(ctx, saved.ID, number, "submitted", actor.Name, "")
	return casePayload(saved), nil
}

func (s *Service) GetCase(ctx context.Context, caseID string) (map[string]any, error) {
	item, err := s.store.GetCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	verifications, err := s.store.ListFieldVerifications(ctx, caseID)
	if err != nil {
		return nil, err
	}
	verificationPayloads := make([]map[string]any, 0, len(verifications))
	for _, v := range verifications {
		verificationPayloads = append(verificationPayloads, fieldVerificationPayload(v))
	}

	payload := casePayload(item)
	payload["fieldVerifications"] = verificationPayloads
	return payload, nil
}

func (s *Service) ListCases(ctx context.Context, status string) ([]map[string]any, error) {
	items, err := s.store.ListCases(ctx, status)
	if err != nil {
		return nil, err
	}
	payloads := make([]map[string]any, 0, len(items))
	for _, item := range items {
		payloads = append(payloads, casePayload(item))
	}
	return payloads, nil
}

func (s *Service) ListCaseHistory(ctx context.Context, caseID string) ([]map[string]any, error) {
	if _, err := s.store.GetCase(ctx, caseID); err != nil {
		return nil, err
	}
	entries, err := s.store.ListCaseHistory(ctx, caseID)
	if err != nil {
		return nil, err
	}
	payloads := make([]map[string]any, 0, len(entries))
	for _, entry := range entries {
		payloads = append(payloads, historyPayload(entry))
	}
	return payloads, nil
}

func (s *Service) ListValidationIssues(ctx context.Context, caseID string, openOnly bool) ([]map[string]any, error) {
	if _, err := s.store.GetCase(ctx, caseID); err != nil {
		return nil, err
	}
	issues, err := s.store.ListValidationIssues(ctx, caseID, openOnly)
	if err != nil {
		return nil, err
	}
	payloads := make([]map[string]any, 0, len(issues))
	for _, issue := range issues {
		payloads = append(payloads, issuePayload(issue))
	}
	return payloads, nil
}

// ReviewCase advances pending_review to first_review or first_review to
// second_review. Reviewers must be distinct from the submitter and from the
// stage's first reviewer, unless elevated.
func (s *Service) ReviewCase(ctx context.Context, actor Actor, caseID string) (map[string]any, error) {
	if err := requireAction(actor, rbac.ActionReview); err != nil {
		return nil, err
	}
	item, err := s.store.GetCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	switch item.Status {
	case "pending_review", "first_review":
	default:
		return nil, stateConflict(fmt.Sprintf("case is %s, not reviewable", item.Status))
	}
	if err := distinctFrom(actor, item.SubmittedBy, "Submitter cannot review their own case"); err != nil {
		return nil, err
	}
	if item.Status == "first_review" {
		if err := distinctFrom(actor, item.FirstReviewer, "Second review requires a different reviewer"); err != nil {
			return nil, err
		}
	}

	saved, number, err := s.store.AdvanceCaseReview(ctx, caseID, actor.Name)
	if err != nil {
		return nil, err
	}
	s.indexCase(saved)
	s.recordActivity(ctx, saved.ID, number, "review", actor.Name, "")
	return casePayload(saved), nil
}

// ValidateCase advances second_review to first_validation or
// first_validation to verified.
func (s *Service) ValidateCase(ctx context.Context, actor Actor, caseID string) (map[string]any, error) {
	if err := requireAction(actor, rbac.ActionValidate); err != nil {
		return nil, err
	}
	item, err := s.store.GetCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	switch item.Status {
	case "second_review", "first_validation":
	default:
		return nil, stateConflict(fmt.Sprintf("case is %s, not ready for validation", item.Status))
	}
	if err := distinctFrom(actor, item.SubmittedBy, "Submitter cannot validate their own case"); err != nil {
		return nil, err
	}
	if item.Status == "first_validation" {
		if err := distinctFrom(actor, item.FirstValidator, "Second validation requires a different validator"); err != nil {
			return nil, err
		}
	}

	saved, number, err := s.store.AdvanceCaseValidation(ctx, caseID, actor.Name)
	if err != nil {
		return nil, err
	}
	s.indexCase(saved)
	s.recordActivity(ctx, saved.ID, number, "validate", actor.Name, "")
	return casePayload(saved), nil
}

// ValidationIssueInput describes one problem found during validation.
type ValidationIssueInput struct {
	FieldType string `json:"fieldType"`
	FieldName string `json:"fieldName"`
	Reason    string `json:"reason"`
}

// ReturnCaseToReview bounces a case out of validation. At least one issue is
// required, and each must carry a recognized field type.
func (s *Service) ReturnCaseToReview(ctx context.Context, actor Actor, caseID, note string, inputs []ValidationIssueInput) (map[string]any, error) {
	if err := requireAction(actor, rbac.ActionValidate); err != nil {
		return nil, err
	}
	if len(inputs) == 0 {
		return nil, validationError("return to review requires at least one issue")
	}
	issues := make([]store.ValidationIssue, 0, len(inputs))
	for _, input := range inputs {
		if !issueFieldTypes[input.FieldType] {
			return nil, validationError(fmt.Sprintf("unrecognized issue field type %q", input.FieldType))
		}
		if input.FieldType == "field" {
			if _, ok := store.CaseFieldColumn(input.FieldName); !ok {
				return nil, validationError(fmt.Sprintf("unknown field %q", input.FieldName))
			}
		}
		if strings.TrimSpace(input.Reason) == "" {
			return nil, validationError("every issue needs a reason")
		}
		issues = append(issues, store.ValidationIssue{
			FieldType: input.FieldType,
			FieldName: input.FieldName,
			Reason:    input.Reason,
		})
	}

	saved, sessionID, number, err := s.store.ReturnCaseToReview(ctx, caseID, actor.Name, note, issues)
	if err != nil {
		return nil, err
	}
	s.indexCase(saved)
	s.recordActivity(ctx, saved.ID, number, "return_to_review", actor.Name, note)

	payload := casePayload(saved)
	payload["validationSessionId"] = sessionID
	return payload, nil
}

// RejectCase is terminal and requires a reason.
func (s *Service) RejectCase(ctx context.Context, actor Actor, caseID, reason string) (map[string]any, error) {
	if err := requireAction(actor, rbac.ActionReview); err != nil {
		return nil, err
	}
	if strings.TrimSpace(reason) == "" {
		return nil, validationError("rejection requires a reason")
	}

	saved, number, err := s.store.RejectCase(ctx, caseID, actor.Name, reason)
	if err != nil {
		return nil, err
	}
	s.indexCase(saved)
	s.recordActivity(ctx, saved.ID, number, "rejected", actor.Name, reason)
	return casePayload(saved), nil
}

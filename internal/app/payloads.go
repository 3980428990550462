package app

import (
	"encoding/json"
	"time"

	"docket/api/internal/store"
)

// Response payload builders. All endpoints speak camelCase JSON maps.

func timeOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

// rawJSON decodes a stored JSON text column back into a value for the
// response body.
func rawJSON(text string) any {
	if text == "" {
		return nil
	}
	var value any
	if err := json.Unmarshal([]byte(text), &value); err != nil {
		return text
	}
	return value
}

func casePayload(item store.CaseRecord) map[string]any {
	return map[string]any{
		"id":                 item.ID,
		"fields":             fieldMap(item),
		"status":             item.Status,
		"submittedBy":        item.SubmittedBy,
		"submittedAt":        item.SubmittedAt.UTC(),
		"firstReviewer":      item.FirstReviewer,
		"firstReviewedAt":    timeOrNil(item.FirstReviewedAt),
		"secondReviewer":     item.SecondReviewer,
		"secondReviewedAt":   timeOrNil(item.SecondReviewedAt),
		"firstValidator":     item.FirstValidator,
		"firstValidatedAt":   timeOrNil(item.FirstValidatedAt),
		"secondValidator":    item.SecondValidator,
		"secondValidatedAt":  timeOrNil(item.SecondValidatedAt),
		"rejectedBy":         item.RejectedBy,
		"rejectedAt":         timeOrNil(item.RejectedAt),
		"rejectionReason":    item.RejectionReason,
		"reviewCycle":        item.ReviewCycle,
		"verificationStatus": item.VerificationStatus,
		"verificationLevel":  item.VerificationLevel,
		"verificationScope":  item.VerificationScope,
		"lastVerifiedAt":     timeOrNil(item.LastVerifiedAt),
		"contentHash":        item.ContentHash,
		"createdAt":          item.CreatedAt.UTC(),
		"updatedAt":          item.UpdatedAt.UTC(),
	}
}

func historyPayload(item store.HistoryEntry) map[string]any {
	return map[string]any{
		"id":                 item.ID,
		"caseId":             item.CaseID,
		"verificationNumber": item.VerificationNumber,
		"action":             item.Action,
		"actor":              item.Actor,
		"note":               item.Note,
		"createdAt":          item.CreatedAt.UTC(),
	}
}

func fieldVerificationPayload(item store.FieldVerification) map[string]any {
	return map[string]any{
		"id":               item.ID,
		"caseId":           item.CaseID,
		"fieldName":        item.FieldName,
		"capturedValue":    rawJSON(item.CapturedValue),
		"firstVerifier":    item.FirstVerifier,
		"firstVerifiedAt":  item.FirstVerifiedAt.UTC(),
		"firstNotes":       item.FirstNotes,
		"firstEvidence":    item.FirstEvidence,
		"secondVerifier":   item.SecondVerifier,
		"secondVerifiedAt": timeOrNil(item.SecondVerifiedAt),
		"secondNotes":      item.SecondNotes,
		"secondEvidence":   item.SecondEvidence,
		"status":           item.VerificationStatus,
		"invalidatedAt":    timeOrNil(item.InvalidatedAt),
	}
}

func quotePayload(item store.Quote) map[string]any {
	return map[string]any{
		"id":        item.ID,
		"caseId":    item.CaseID,
		"sourceId":  item.SourceID,
		"body":      item.Body,
		"category":  item.Category,
		"verified":  item.Verified,
		"createdAt": item.CreatedAt.UTC(),
	}
}

func sourcePayload(item store.Source) map[string]any {
	return map[string]any{
		"id":          item.ID,
		"caseId":      item.CaseID,
		"url":         item.URL,
		"title":       item.Title,
		"publication": item.Publication,
		"createdAt":   item.CreatedAt.UTC(),
	}
}

func fieldQuotePayload(item store.FieldQuote) map[string]any {
	payload := quotePayload(item.Quote)
	payload["sourceUrl"] = item.SourceURL
	payload["sourceTitle"] = item.SourceTitle
	payload["sourcePublication"] = item.SourcePublication
	return payload
}

func suggestionPayload(item store.EditSuggestion) map[string]any {
	return map[string]any{
		"id":               item.ID,
		"caseId":           item.CaseID,
		"fieldName":        item.FieldName,
		"currentValue":     rawJSON(item.CurrentValue),
		"suggestedValue":   rawJSON(item.SuggestedValue),
		"quoteText":        item.QuoteText,
		"sourceUrl":        item.SourceURL,
		"suggestedBy":      item.SuggestedBy,
		"status":           item.Status,
		"firstReviewer":    item.FirstReviewer,
		"firstReviewedAt":  timeOrNil(item.FirstReviewedAt),
		"firstDecision":    item.FirstDecision,
		"firstNotes":       item.FirstNotes,
		"secondReviewer":   item.SecondReviewer,
		"secondReviewedAt": timeOrNil(item.SecondReviewedAt),
		"secondDecision":   item.SecondDecision,
		"secondNotes":      item.SecondNotes,
		"appliedBy":        item.AppliedBy,
		"appliedAt":        timeOrNil(item.AppliedAt),
		"createdAt":        item.CreatedAt.UTC(),
	}
}

func proposalPayload(item store.ProposedChange) map[string]any {
	return map[string]any{
		"id":              item.ID,
		"entityType":      item.EntityType,
		"entityId":        item.EntityID,
		"proposed":        rawJSON(item.Proposed),
		"changedFields":   item.ChangedFields,
		"summary":         item.Summary,
		"submittedBy":     item.SubmittedBy,
		"status":          item.Status,
		"reviewer":        item.Reviewer,
		"reviewedAt":      timeOrNil(item.ReviewedAt),
		"reviewNotes":     item.ReviewNotes,
		"validator":       item.Validator,
		"validatedAt":     timeOrNil(item.ValidatedAt),
		"validationNotes": item.ValidationNotes,
		"auditNote":       item.AuditNote,
		"appliedAt":       timeOrNil(item.AppliedAt),
		"createdAt":       item.CreatedAt.UTC(),
	}
}

func issuePayload(item store.ValidationIssue) map[string]any {
	return map[string]any{
		"id":                  item.ID,
		"caseId":              item.CaseID,
		"validationSessionId": item.ValidationSessionID,
		"fieldType":           item.FieldType,
		"fieldName":           item.FieldName,
		"reason":              item.Reason,
		"raisedBy":            item.RaisedBy,
		"createdAt":           item.CreatedAt.UTC(),
		"resolvedAt":          timeOrNil(item.ResolvedAt),
	}
}

func requestPayload(item store.VerificationRequest) map[string]any {
	return map[string]any{
		"id":              item.ID,
		"caseId":          item.CaseID,
		"scope":           item.Scope,
		"priority":        item.Priority,
		"status":          item.Status,
		"requestedBy":     item.RequestedBy,
		"assignedTo":      item.AssignedTo,
		"assignedAt":      timeOrNil(item.AssignedAt),
		"outcome":         item.Outcome,
		"issuesFound":     item.IssuesFound,
		"notes":           item.Notes,
		"rejectionReason": item.RejectionReason,
		"completedAt":     timeOrNil(item.CompletedAt),
		"createdAt":       item.CreatedAt.UTC(),
		"updatedAt":       item.UpdatedAt.UTC(),
	}
}

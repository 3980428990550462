package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"docket/api/internal/rbac"
	"docket/api/internal/store"
	"docket/api/internal/util"
)

// VerifyField records one half of a field's two-person verification cycle.
// The first call opens the cycle and snapshots the current value; a second
// call by a different actor completes it. The same actor cannot supply both
// halves unless elevated.
func (s *Service) VerifyField(ctx context.Context, actor Actor, caseID, fieldName, notes string, evidence []string) (map[string]any, error) {
	if err := requireAction(actor, rbac.ActionVerify); err != nil {
		return nil, err
	}
	if _, ok := store.CaseFieldColumn(fieldName); !ok {
		return nil, validationError(fmt.Sprintf("unknown field %q", fieldName))
	}
	item, err := s.store.GetCase(ctx, caseID)
	if err != nil {
		return nil, err
	}

	existing, err := s.store.GetFieldVerification(ctx, caseID, fieldName)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	fresh := errors.Is(err, sql.ErrNoRows)

	if fresh || existing.InvalidatedAt != nil {
		captured, err := json.Marshal(fieldMap(item)[fieldName])
		if err != nil {
			return nil, fmt.Errorf("snapshot field value: %w", err)
		}
		verification := store.FieldVerification{
			ID:            util.NewID("fv"),
			CaseID:        caseID,
			FieldName:     fieldName,
			CapturedValue: string(captured),
			FirstVerifier: actor.Name,
			FirstNotes:    notes,
			FirstEvidence: evidence,
		}
		var saved store.FieldVerification
		var number int
		if fresh {
			saved, number, err = s.store.CreateFieldVerification(ctx, verification)
		} else {
			verification.ID = existing.ID
			saved, number, err = s.store.RestartFieldVerification(ctx, verification)
		}
		if err != nil {
			return nil, err
		}
		s.recordActivity(ctx, caseID, number, "field_first_verified", actor.Name, fieldName)

		payload := fieldVerificationPayload(saved)
		payload["message"] = "first verification recorded"
		return payload, nil
	}

	if existing.VerificationStatus == "verified" {
		return nil, stateConflict(fmt.Sprintf("field %q is already verified", fieldName))
	}
	if err := distinctFrom(actor, existing.FirstVerifier, "A single person cannot satisfy both halves of double verification"); err != nil {
		return nil, err
	}

	saved, number, err := s.store.CompleteFieldVerification(ctx, caseID, fieldName, actor.Name, notes, evidence)
	if err != nil {
		return nil, err
	}
	s.recordActivity(ctx, caseID, number, "field_verified", actor.Name, fieldName)

	payload := fieldVerificationPayload(saved)
	payload["message"] = "fully verified"
	return payload, nil
}

func (s *Service) ListFieldVerifications(ctx context.Context, caseID string) ([]map[string]any, error) {
	if _, err := s.store.GetCase(ctx, caseID); err != nil {
		return nil, err
	}
	items, err := s.store.ListFieldVerifications(ctx, caseID)
	if err != nil {
		return nil, err
	}
	payloads := make([]map[string]any, 0, len(items))
	for _, item := range items {
		payloads = append(payloads, fieldVerificationPayload(item))
	}
	return payloads, nil
}

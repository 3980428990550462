package app

import (
	"context"
	"testing"

	"docket/api/internal/store"
)

func liveCase() store.CaseRecord {
	return store.CaseRecord{
		ID:          "case_1",
		Title:       "Death in custody at Central",
		City:        "Springfield",
		State:       "IL",
		Status:      "verified",
		SubmittedBy: "casey",
	}
}

// candidateMap mirrors the live record; proposals are full candidate maps,
// so unchanged fields must be carried over.
func candidateMap(overrides map[string]any) map[string]any {
	proposed := map[string]any{
		"title": "Death in custody at Central",
		"city":  "Springfield",
		"state": "IL",
	}
	for key, value := range overrides {
		proposed[key] = value
	}
	return proposed
}

func TestCreateProposedChangeRefusesIdenticalPayload(t *testing.T) {
	inserted := false
	st := &fakeStore{
		getCaseFn: func(context.Context, string) (store.CaseRecord, error) { return liveCase(), nil },
		insertProposedChangeFn: func(context.Context, store.ProposedChange) error {
			inserted = true
			return nil
		},
	}
	_, err := testService(st).CreateProposedChange(context.Background(), contributor, ProposalInput{
		EntityID: "case_1",
		Proposed: candidateMap(nil),
	})
	wantDomainCode(t, err, "VALIDATION_ERROR")
	if inserted {
		t.Fatal("identical proposal must not be stored")
	}
}

func TestCreateProposedChangeIgnoresAbsenceFlavors(t *testing.T) {
	// nil vs the live empty string is not a change.
	st := &fakeStore{
		getCaseFn: func(context.Context, string) (store.CaseRecord, error) { return liveCase(), nil },
	}
	_, err := testService(st).CreateProposedChange(context.Background(), contributor, ProposalInput{
		EntityID: "case_1",
		Proposed: candidateMap(map[string]any{"facility": nil, "agency": "", "tags": []any{}}),
	})
	wantDomainCode(t, err, "VALIDATION_ERROR")
}

func TestCreateProposedChangeIgnoresSubjectNameAlias(t *testing.T) {
	st := &fakeStore{
		getCaseFn: func(context.Context, string) (store.CaseRecord, error) { return liveCase(), nil },
	}
	_, err := testService(st).CreateProposedChange(context.Background(), contributor, ProposalInput{
		EntityID: "case_1",
		Proposed: candidateMap(map[string]any{"subject_name": "Different Name"}),
	})
	wantDomainCode(t, err, "VALIDATION_ERROR")
}

func TestCreateProposedChangeRecordsChangedFields(t *testing.T) {
	var inserted store.ProposedChange
	st := &fakeStore{
		getCaseFn: func(context.Context, string) (store.CaseRecord, error) { return liveCase(), nil },
		insertProposedChangeFn: func(_ context.Context, item store.ProposedChange) error {
			inserted = item
			return nil
		},
		getProposedChangeFn: func(context.Context, string) (store.ProposedChange, error) {
			return inserted, nil
		},
	}
	_, err := testService(st).CreateProposedChange(context.Background(), contributor, ProposalInput{
		EntityID: "case_1",
		Proposed: candidateMap(map[string]any{"city": "Shelbyville"}),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(inserted.ChangedFields) != 1 || inserted.ChangedFields[0] != "city" {
		t.Fatalf("expected changed fields [city], got %v", inserted.ChangedFields)
	}
}

func TestCreateProposedChangeDetectsQuoteEdits(t *testing.T) {
	var inserted store.ProposedChange
	st := &fakeStore{
		getCaseFn: func(context.Context, string) (store.CaseRecord, error) { return liveCase(), nil },
		listCaseQuotesFn: func(context.Context, string) ([]store.Quote, error) {
			return []store.Quote{{ID: "q_1", Body: "original quote", Category: "report"}}, nil
		},
		insertProposedChangeFn: func(_ context.Context, item store.ProposedChange) error {
			inserted = item
			return nil
		},
		getProposedChangeFn: func(context.Context, string) (store.ProposedChange, error) {
			return inserted, nil
		},
	}
	_, err := testService(st).CreateProposedChange(context.Background(), contributor, ProposalInput{
		EntityID: "case_1",
		Proposed: candidateMap(map[string]any{
			"quotes": []any{
				map[string]any{"id": "q_1", "body": "corrected quote", "category": "report"},
			},
		}),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(inserted.ChangedFields) != 1 || inserted.ChangedFields[0] != "quotes" {
		t.Fatalf("expected changed fields [quotes], got %v", inserted.ChangedFields)
	}
}

func TestValidateProposedChangeAppliesOnlyChangedFields(t *testing.T) {
	var applied store.ApplyProposedChangeInput
	st := &fakeStore{
		getProposedChangeFn: func(context.Context, string) (store.ProposedChange, error) {
			return store.ProposedChange{
				ID:            "pc_1",
				EntityType:    "case",
				EntityID:      "case_1",
				Status:        "pending_validation",
				SubmittedBy:   contributor.Name,
				Reviewer:      reviewerOne.Name,
				ChangedFields: []string{"city"},
				Proposed:      `{"title":"Death in custody at Central","city":"Shelbyville"}`,
			}, nil
		},
		applyProposedChangeFn: func(_ context.Context, input store.ApplyProposedChangeInput) (store.ProposedChange, int, error) {
			applied = input
			return store.ProposedChange{ID: "pc_1", Status: "approved", ChangedFields: []string{"city"}}, 9, nil
		},
		getCaseFn: func(context.Context, string) (store.CaseRecord, error) { return liveCase(), nil },
	}
	_, err := testService(st).ValidateProposedChange(context.Background(), validator, "pc_1", "verified against source")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if len(applied.Fields) != 1 {
		t.Fatalf("expected only the changed field applied, got %v", applied.Fields)
	}
	if applied.Fields["city"] != "Shelbyville" {
		t.Fatalf("expected city Shelbyville, got %v", applied.Fields["city"])
	}
}

func TestValidateProposedChangeBlocksReviewer(t *testing.T) {
	st := &fakeStore{
		getProposedChangeFn: func(context.Context, string) (store.ProposedChange, error) {
			return store.ProposedChange{
				ID:          "pc_1",
				Status:      "pending_validation",
				SubmittedBy: contributor.Name,
				Reviewer:    "morgan",
			}, nil
		},
	}
	_, err := testService(st).ValidateProposedChange(context.Background(), validator, "pc_1", "")
	wantDomainCode(t, err, "FORBIDDEN")
}

func TestReopenProposedChangeOnlyFromRejected(t *testing.T) {
	st := &fakeStore{
		getProposedChangeFn: func(context.Context, string) (store.ProposedChange, error) {
			return store.ProposedChange{ID: "pc_1", Status: "pending_review", SubmittedBy: contributor.Name}, nil
		},
	}
	_, err := testService(st).ReopenProposedChange(context.Background(), contributor, "pc_1")
	wantDomainCode(t, err, "STATE_CONFLICT")
}

func TestReopenProposedChangeAppendsAuditTrail(t *testing.T) {
	var note string
	st := &fakeStore{
		getProposedChangeFn: func(context.Context, string) (store.ProposedChange, error) {
			return store.ProposedChange{
				ID:          "pc_1",
				Status:      "rejected",
				SubmittedBy: contributor.Name,
				AuditNote:   "reopened by casey at 2026-01-05T10:00:00Z",
			}, nil
		},
		reopenProposedChangeFn: func(_ context.Context, _, auditNote string) (store.ProposedChange, error) {
			note = auditNote
			return store.ProposedChange{ID: "pc_1", Status: "pending_review"}, nil
		},
	}
	if _, err := testService(st).ReopenProposedChange(context.Background(), contributor, "pc_1"); err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if len(note) == 0 || note[:10] != "reopened b" {
		t.Fatalf("audit note should start with the prior entry, got %q", note)
	}
	if note == "reopened by casey at 2026-01-05T10:00:00Z" {
		t.Fatal("audit note should have a new entry appended")
	}
}

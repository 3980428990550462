package app

import (
	"context"
	"testing"

	"docket/api/internal/store"
)

func pendingRequest(scope string) store.VerificationRequest {
	return store.VerificationRequest{
		ID:          "vr_1",
		CaseID:      "case_1",
		Scope:       scope,
		Status:      "pending",
		RequestedBy: "casey",
	}
}

func TestCreateVerificationRequestDefaultsScope(t *testing.T) {
	var inserted store.VerificationRequest
	st := &fakeStore{
		getCaseFn: func(context.Context, string) (store.CaseRecord, error) {
			return caseInState("verified", "casey"), nil
		},
		insertVerificationRequestFn: func(_ context.Context, item store.VerificationRequest) error {
			inserted = item
			return nil
		},
		getVerificationRequestFn: func(context.Context, string) (store.VerificationRequest, error) {
			return inserted, nil
		},
	}
	_, err := testService(st).CreateVerificationRequest(context.Background(), contributor, RequestInput{CaseID: "case_1"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if inserted.Scope != "record" {
		t.Fatalf("expected record scope, got %q", inserted.Scope)
	}
}

func TestCreateVerificationRequestRejectsUnknownScope(t *testing.T) {
	svc := testService(&fakeStore{})
	_, err := svc.CreateVerificationRequest(context.Background(), contributor, RequestInput{CaseID: "case_1", Scope: "everything"})
	wantDomainCode(t, err, "VALIDATION_ERROR")
}

func TestAssignVerificationRequestBlocksOwnCase(t *testing.T) {
	st := &fakeStore{
		getVerificationRequestFn: func(context.Context, string) (store.VerificationRequest, error) {
			return pendingRequest("record"), nil
		},
		getCaseFn: func(context.Context, string) (store.CaseRecord, error) {
			return caseInState("verified", reviewerOne.Name), nil
		},
	}
	_, err := testService(st).AssignVerificationRequest(context.Background(), reviewerOne, "vr_1")
	wantDomainCode(t, err, "FORBIDDEN")
}

func TestAssignVerificationRequestEnforcesCapacity(t *testing.T) {
	st := &fakeStore{
		getVerificationRequestFn: func(context.Context, string) (store.VerificationRequest, error) {
			return pendingRequest("record"), nil
		},
		getCaseFn: func(context.Context, string) (store.CaseRecord, error) {
			return caseInState("verified", "casey"), nil
		},
		// no profile row, so the configured default of 2 applies
		assignedRequestCountFn: func(context.Context, string) (int, error) { return 2, nil },
	}
	_, err := testService(st).AssignVerificationRequest(context.Background(), reviewerOne, "vr_1")
	wantDomainCode(t, err, "STATE_CONFLICT")
}

func TestAssignVerificationRequestHonorsProfileCapacity(t *testing.T) {
	assigned := false
	st := &fakeStore{
		getVerificationRequestFn: func(context.Context, string) (store.VerificationRequest, error) {
			return pendingRequest("record"), nil
		},
		getCaseFn: func(context.Context, string) (store.CaseRecord, error) {
			return caseInState("verified", "casey"), nil
		},
		getVerifierMaxConcurrentFn: func(context.Context, string) (int, error) { return 5, nil },
		assignedRequestCountFn:     func(context.Context, string) (int, error) { return 4, nil },
		assignVerificationRequestFn: func(_ context.Context, requestID, verifier string) (store.VerificationRequest, error) {
			assigned = true
			item := pendingRequest("record")
			item.Status = "in_progress"
			item.AssignedTo = verifier
			return item, nil
		},
	}
	if _, err := testService(st).AssignVerificationRequest(context.Background(), reviewerOne, "vr_1"); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if !assigned {
		t.Fatal("store assign was not called")
	}
}

func TestCompleteVerificationRequestRejectsUnknownOutcome(t *testing.T) {
	svc := testService(&fakeStore{})
	_, err := svc.CompleteVerificationRequest(context.Background(), reviewerOne, "vr_1", CompletionInput{Outcome: "maybe"})
	wantDomainCode(t, err, "VALIDATION_ERROR")
}

func TestCompleteVerificationRequestHashesRecordScopePass(t *testing.T) {
	var completed store.CompleteVerificationRequestInput
	st := &fakeStore{
		getVerificationRequestFn: func(context.Context, string) (store.VerificationRequest, error) {
			item := pendingRequest("record")
			item.Status = "in_progress"
			item.AssignedTo = reviewerOne.Name
			return item, nil
		},
		completeVerificationRequestFn: func(_ context.Context, input store.CompleteVerificationRequestInput) (store.VerificationRequest, int, error) {
			completed = input
			item := pendingRequest("record")
			item.Status = "completed"
			item.Outcome = input.Outcome
			return item, 11, nil
		},
	}
	_, err := testService(st).CompleteVerificationRequest(context.Background(), reviewerOne, "vr_1", CompletionInput{
		Outcome: "passed",
		Results: []ResultInput{{ItemType: "field", ItemName: "city", Passed: true}},
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if completed.HashFields == nil {
		t.Fatal("record-scope pass should carry a field hasher for the store transaction")
	}
	item := caseInState("verified", "casey")
	item.City = "Springfield"
	if completed.HashFields(item) == "" {
		t.Fatal("hasher produced an empty fingerprint")
	}
	edited := item
	edited.City = "Shelbyville"
	if completed.HashFields(item) == completed.HashFields(edited) {
		t.Fatal("hasher must fingerprint the record it is given, not a snapshot")
	}
	if completed.Level != "standard" {
		t.Fatalf("expected default level standard, got %q", completed.Level)
	}
	if len(completed.Results) != 1 || completed.Results[0].ItemName != "city" {
		t.Fatalf("result rows not carried through: %+v", completed.Results)
	}
}

func TestCompleteVerificationRequestFailedPassSkipsHash(t *testing.T) {
	var completed store.CompleteVerificationRequestInput
	st := &fakeStore{
		getVerificationRequestFn: func(context.Context, string) (store.VerificationRequest, error) {
			item := pendingRequest("record")
			item.Status = "in_progress"
			item.AssignedTo = reviewerOne.Name
			return item, nil
		},
		completeVerificationRequestFn: func(_ context.Context, input store.CompleteVerificationRequestInput) (store.VerificationRequest, int, error) {
			completed = input
			return pendingRequest("record"), 12, nil
		},
	}
	_, err := testService(st).CompleteVerificationRequest(context.Background(), reviewerOne, "vr_1", CompletionInput{Outcome: "failed"})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if completed.HashFields != nil {
		t.Fatal("failed outcome must not stamp a hash")
	}
}

func TestRejectVerificationRequestRequiresReason(t *testing.T) {
	svc := testService(&fakeStore{})
	_, err := svc.RejectVerificationRequest(context.Background(), reviewerOne, "vr_1", "")
	wantDomainCode(t, err, "VALIDATION_ERROR")
}

func TestSetVerifierCapacityRequiresAdmin(t *testing.T) {
	svc := testService(&fakeStore{})
	_, err := svc.SetVerifierCapacity(context.Background(), validator, "riley", 4)
	wantDomainCode(t, err, "FORBIDDEN")
}

func TestSetVerifierCapacityRejectsZero(t *testing.T) {
	svc := testService(&fakeStore{})
	_, err := svc.SetVerifierCapacity(context.Background(), admin, "riley", 0)
	wantDomainCode(t, err, "VALIDATION_ERROR")
}

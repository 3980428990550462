package app

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"docket/api/internal/config"
	"docket/api/internal/rbac"
	"docket/api/internal/store"
)

type fakeStore struct {
	createCaseFn            func(context.Context, store.CaseRecord) (int, error)
	getCaseFn               func(context.Context, string) (store.CaseRecord, error)
	listCasesFn             func(context.Context, string) ([]store.CaseRecord, error)
	advanceCaseReviewFn     func(context.Context, string, string) (store.CaseRecord, int, error)
	advanceCaseValidationFn func(context.Context, string, string) (store.CaseRecord, int, error)
	returnCaseToReviewFn    func(context.Context, string, string, string, []store.ValidationIssue) (store.CaseRecord, int, int, error)
	rejectCaseFn            func(context.Context, string, string, string) (store.CaseRecord, int, error)

	getFieldVerificationFn      func(context.Context, string, string) (store.FieldVerification, error)
	listFieldVerificationsFn    func(context.Context, string) ([]store.FieldVerification, error)
	createFieldVerificationFn   func(context.Context, store.FieldVerification) (store.FieldVerification, int, error)
	completeFieldVerificationFn func(context.Context, string, string, string, string, []string) (store.FieldVerification, int, error)
	restartFieldVerificationFn  func(context.Context, store.FieldVerification) (store.FieldVerification, int, error)

	addEvidenceFn     func(context.Context, store.AddEvidenceInput) (store.Quote, int, error)
	listCaseQuotesFn  func(context.Context, string) ([]store.Quote, error)
	listCaseSourcesFn func(context.Context, string) ([]store.Source, error)

	insertSuggestionFn  func(context.Context, store.EditSuggestion) error
	getSuggestionFn     func(context.Context, string) (store.EditSuggestion, error)
	reviewSuggestionFn  func(context.Context, string, string, string) (store.EditSuggestion, error)
	approveSuggestionFn func(context.Context, store.ApproveSuggestionInput) (store.EditSuggestion, int, error)
	rejectSuggestionFn  func(context.Context, string, string, string) (store.EditSuggestion, error)

	insertProposedChangeFn        func(context.Context, store.ProposedChange) error
	getProposedChangeFn           func(context.Context, string) (store.ProposedChange, error)
	approveProposedChangeReviewFn func(context.Context, string, string, string) (store.ProposedChange, error)
	applyProposedChangeFn         func(context.Context, store.ApplyProposedChangeInput) (store.ProposedChange, int, error)
	reopenProposedChangeFn        func(context.Context, string, string) (store.ProposedChange, error)

	insertVerificationRequestFn   func(context.Context, store.VerificationRequest) error
	getVerificationRequestFn      func(context.Context, string) (store.VerificationRequest, error)
	assignedRequestCountFn        func(context.Context, string) (int, error)
	getVerifierMaxConcurrentFn    func(context.Context, string) (int, error)
	upsertVerifierProfileFn       func(context.Context, string, int) error
	assignVerificationRequestFn   func(context.Context, string, string) (store.VerificationRequest, error)
	completeVerificationRequestFn func(context.Context, store.CompleteVerificationRequestInput) (store.VerificationRequest, int, error)
}

func (f *fakeStore) Ping(context.Context) error { return nil }

func (f *fakeStore) CreateCase(ctx context.Context, item store.CaseRecord) (int, error) {
	if f.createCaseFn != nil {
		return f.createCaseFn(ctx, item)
	}
	return 1, nil
}
func (f *fakeStore) GetCase(ctx context.Context, caseID string) (store.CaseRecord, error) {
	if f.getCaseFn != nil {
		return f.getCaseFn(ctx, caseID)
	}
	return store.CaseRecord{}, sql.ErrNoRows
}
func (f *fakeStore) ListCases(ctx context.Context, status string) ([]store.CaseRecord, error) {
	if f.listCasesFn != nil {
		return f.listCasesFn(ctx, status)
	}
	return nil, nil
}
func (f *fakeStore) AdvanceCaseReview(ctx context.Context, caseID, actor string) (store.CaseRecord, int, error) {
	if f.advanceCaseReviewFn != nil {
		return f.advanceCaseReviewFn(ctx, caseID, actor)
	}
	return store.CaseRecord{}, 0, store.ErrConflict
}
func (f *fakeStore) AdvanceCaseValidation(ctx context.Context, caseID, actor string) (store.CaseRecord, int, error) {
	if f.advanceCaseValidationFn != nil {
		return f.advanceCaseValidationFn(ctx, caseID, actor)
	}
	return store.CaseRecord{}, 0, store.ErrConflict
}
func (f *fakeStore) ReturnCaseToReview(ctx context.Context, caseID, actor, note string, issues []store.ValidationIssue) (store.CaseRecord, int, int, error) {
	if f.returnCaseToReviewFn != nil {
		return f.returnCaseToReviewFn(ctx, caseID, actor, note, issues)
	}
	return store.CaseRecord{}, 0, 0, store.ErrConflict
}
func (f *fakeStore) RejectCase(ctx context.Context, caseID, actor, reason string) (store.CaseRecord, int, error) {
	if f.rejectCaseFn != nil {
		return f.rejectCaseFn(ctx, caseID, actor, reason)
	}
	return store.CaseRecord{}, 0, store.ErrConflict
}
func (f *fakeStore) ListCaseHistory(context.Context, string) ([]store.HistoryEntry, error) {
	return nil, nil
}
func (f *fakeStore) ListValidationIssues(context.Context, string, bool) ([]store.ValidationIssue, error) {
	return nil, nil
}
func (f *fakeStore) SummaryCounts(context.Context) (store.SummaryCounts, error) {
	return store.SummaryCounts{}, nil
}

func (f *fakeStore) GetFieldVerification(ctx context.Context, caseID, fieldName string) (store.FieldVerification, error) {
	if f.getFieldVerificationFn != nil {
		return f.getFieldVerificationFn(ctx, caseID, fieldName)
	}
	return store.FieldVerification{}, sql.ErrNoRows
}
func (f *fakeStore) ListFieldVerifications(ctx context.Context, caseID string) ([]store.FieldVerification, error) {
	if f.listFieldVerificationsFn != nil {
		return f.listFieldVerificationsFn(ctx, caseID)
	}
	return nil, nil
}
func (f *fakeStore) CreateFieldVerification(ctx context.Context, item store.FieldVerification) (store.FieldVerification, int, error) {
	if f.createFieldVerificationFn != nil {
		return f.createFieldVerificationFn(ctx, item)
	}
	return item, 1, nil
}
func (f *fakeStore) CompleteFieldVerification(ctx context.Context, caseID, fieldName, verifier, notes string, evidence []string) (store.FieldVerification, int, error) {
	if f.completeFieldVerificationFn != nil {
		return f.completeFieldVerificationFn(ctx, caseID, fieldName, verifier, notes, evidence)
	}
	return store.FieldVerification{}, 0, store.ErrConflict
}
func (f *fakeStore) RestartFieldVerification(ctx context.Context, item store.FieldVerification) (store.FieldVerification, int, error) {
	if f.restartFieldVerificationFn != nil {
		return f.restartFieldVerificationFn(ctx, item)
	}
	return item, 1, nil
}

func (f *fakeStore) AddEvidence(ctx context.Context, input store.AddEvidenceInput) (store.Quote, int, error) {
	if f.addEvidenceFn != nil {
		return f.addEvidenceFn(ctx, input)
	}
	return store.Quote{}, 1, nil
}
func (f *fakeStore) GetQuote(context.Context, string, string) (store.Quote, error) {
	return store.Quote{}, sql.ErrNoRows
}
func (f *fakeStore) ListFieldEvidence(context.Context, string, string) ([]store.FieldQuote, error) {
	return nil, nil
}
func (f *fakeStore) ListCaseQuotes(ctx context.Context, caseID string) ([]store.Quote, error) {
	if f.listCaseQuotesFn != nil {
		return f.listCaseQuotesFn(ctx, caseID)
	}
	return nil, nil
}
func (f *fakeStore) ListCaseSources(ctx context.Context, caseID string) ([]store.Source, error) {
	if f.listCaseSourcesFn != nil {
		return f.listCaseSourcesFn(ctx, caseID)
	}
	return nil, nil
}

func (f *fakeStore) InsertSuggestion(ctx context.Context, item store.EditSuggestion) error {
	if f.insertSuggestionFn != nil {
		return f.insertSuggestionFn(ctx, item)
	}
	return nil
}
func (f *fakeStore) GetSuggestion(ctx context.Context, suggestionID string) (store.EditSuggestion, error) {
	if f.getSuggestionFn != nil {
		return f.getSuggestionFn(ctx, suggestionID)
	}
	return store.EditSuggestion{}, sql.ErrNoRows
}
func (f *fakeStore) ListSuggestions(context.Context, string, string) ([]store.EditSuggestion, error) {
	return nil, nil
}
func (f *fakeStore) ReviewSuggestion(ctx context.Context, suggestionID, reviewer, notes string) (store.EditSuggestion, error) {
	if f.reviewSuggestionFn != nil {
		return f.reviewSuggestionFn(ctx, suggestionID, reviewer, notes)
	}
	return store.EditSuggestion{}, store.ErrConflict
}
func (f *fakeStore) ApproveSuggestion(ctx context.Context, input store.ApproveSuggestionInput) (store.EditSuggestion, int, error) {
	if f.approveSuggestionFn != nil {
		return f.approveSuggestionFn(ctx, input)
	}
	return store.EditSuggestion{}, 0, store.ErrConflict
}
func (f *fakeStore) RejectSuggestion(ctx context.Context, suggestionID, actor, notes string) (store.EditSuggestion, error) {
	if f.rejectSuggestionFn != nil {
		return f.rejectSuggestionFn(ctx, suggestionID, actor, notes)
	}
	return store.EditSuggestion{}, store.ErrConflict
}

func (f *fakeStore) InsertProposedChange(ctx context.Context, item store.ProposedChange) error {
	if f.insertProposedChangeFn != nil {
		return f.insertProposedChangeFn(ctx, item)
	}
	return nil
}
func (f *fakeStore) GetProposedChange(ctx context.Context, proposalID string) (store.ProposedChange, error) {
	if f.getProposedChangeFn != nil {
		return f.getProposedChangeFn(ctx, proposalID)
	}
	return store.ProposedChange{}, sql.ErrNoRows
}
func (f *fakeStore) ListProposedChanges(context.Context, string, string) ([]store.ProposedChange, error) {
	return nil, nil
}
func (f *fakeStore) ApproveProposedChangeReview(ctx context.Context, proposalID, reviewer, notes string) (store.ProposedChange, error) {
	if f.approveProposedChangeReviewFn != nil {
		return f.approveProposedChangeReviewFn(ctx, proposalID, reviewer, notes)
	}
	return store.ProposedChange{}, store.ErrConflict
}
func (f *fakeStore) ApplyProposedChange(ctx context.Context, input store.ApplyProposedChangeInput) (store.ProposedChange, int, error) {
	if f.applyProposedChangeFn != nil {
		return f.applyProposedChangeFn(ctx, input)
	}
	return store.ProposedChange{}, 0, store.ErrConflict
}
func (f *fakeStore) RejectProposedChange(context.Context, string, string, string) (store.ProposedChange, error) {
	return store.ProposedChange{}, store.ErrConflict
}
func (f *fakeStore) ReopenProposedChange(ctx context.Context, proposalID, auditNote string) (store.ProposedChange, error) {
	if f.reopenProposedChangeFn != nil {
		return f.reopenProposedChangeFn(ctx, proposalID, auditNote)
	}
	return store.ProposedChange{}, store.ErrConflict
}

func (f *fakeStore) InsertVerificationRequest(ctx context.Context, item store.VerificationRequest) error {
	if f.insertVerificationRequestFn != nil {
		return f.insertVerificationRequestFn(ctx, item)
	}
	return nil
}
func (f *fakeStore) GetVerificationRequest(ctx context.Context, requestID string) (store.VerificationRequest, error) {
	if f.getVerificationRequestFn != nil {
		return f.getVerificationRequestFn(ctx, requestID)
	}
	return store.VerificationRequest{}, sql.ErrNoRows
}
func (f *fakeStore) ListVerificationRequests(context.Context, string, string) ([]store.VerificationRequest, error) {
	return nil, nil
}
func (f *fakeStore) AssignedRequestCount(ctx context.Context, verifier string) (int, error) {
	if f.assignedRequestCountFn != nil {
		return f.assignedRequestCountFn(ctx, verifier)
	}
	return 0, nil
}
func (f *fakeStore) GetVerifierMaxConcurrent(ctx context.Context, verifier string) (int, error) {
	if f.getVerifierMaxConcurrentFn != nil {
		return f.getVerifierMaxConcurrentFn(ctx, verifier)
	}
	return 0, sql.ErrNoRows
}
func (f *fakeStore) UpsertVerifierProfile(ctx context.Context, verifier string, maxConcurrent int) error {
	if f.upsertVerifierProfileFn != nil {
		return f.upsertVerifierProfileFn(ctx, verifier, maxConcurrent)
	}
	return nil
}
func (f *fakeStore) AssignVerificationRequest(ctx context.Context, requestID, verifier string) (store.VerificationRequest, error) {
	if f.assignVerificationRequestFn != nil {
		return f.assignVerificationRequestFn(ctx, requestID, verifier)
	}
	return store.VerificationRequest{}, store.ErrConflict
}
func (f *fakeStore) UnassignVerificationRequest(context.Context, string) (store.VerificationRequest, error) {
	return store.VerificationRequest{}, store.ErrConflict
}
func (f *fakeStore) CompleteVerificationRequest(ctx context.Context, input store.CompleteVerificationRequestInput) (store.VerificationRequest, int, error) {
	if f.completeVerificationRequestFn != nil {
		return f.completeVerificationRequestFn(ctx, input)
	}
	return store.VerificationRequest{}, 0, store.ErrConflict
}
func (f *fakeStore) RejectVerificationRequest(context.Context, string, string) (store.VerificationRequest, error) {
	return store.VerificationRequest{}, store.ErrConflict
}
func (f *fakeStore) ReviseVerificationRequest(context.Context, string, string) (store.VerificationRequest, error) {
	return store.VerificationRequest{}, store.ErrConflict
}

func testService(st *fakeStore) *Service {
	return New(config.Config{DefaultVerifierCapacity: 2}, st, nil, nil)
}

func wantDomainCode(t *testing.T, err error, code string) {
	t.Helper()
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected domain error %s, got %v", code, err)
	}
	if domainErr.Code != code {
		t.Fatalf("expected code %s, got %s (%s)", code, domainErr.Code, domainErr.Message)
	}
}

var (
	contributor = Actor{Name: "casey", Role: rbac.RoleContributor}
	reviewerOne = Actor{Name: "riley", Role: rbac.RoleReviewer}
	reviewerTwo = Actor{Name: "jordan", Role: rbac.RoleReviewer}
	validator   = Actor{Name: "morgan", Role: rbac.RoleValidator}
	admin       = Actor{Name: "alex", Role: rbac.RoleAdmin}
)

func TestSummaryExposesCamelCaseCounts(t *testing.T) {
	svc := testService(&fakeStore{})
	payload, err := svc.Summary(context.Background())
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	for _, key := range []string{"totalCases", "pendingReview", "verified", "openRequests"} {
		if _, ok := payload[key]; !ok {
			t.Fatalf("summary missing %q", key)
		}
	}
}

func TestContentHashIsStableAcrossKeyOrder(t *testing.T) {
	first := contentHash(map[string]any{"title": "a", "city": "b"})
	second := contentHash(map[string]any{"city": "b", "title": "a"})
	if first != second {
		t.Fatalf("hash changed with key order: %s vs %s", first, second)
	}
	if first == contentHash(map[string]any{"title": "a", "city": "c"}) {
		t.Fatal("hash did not change with value change")
	}
}

// Package app implements the review, validation and change-control
// workflows over the case store, and the HTTP boundary in front of them.
package app

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"sort"
	"strconv"

	"docket/api/internal/activity"
	"docket/api/internal/config"
	"docket/api/internal/rbac"
	"docket/api/internal/search"
	"docket/api/internal/store"
)

// Actor is the authenticated caller of a mutating operation, as asserted by
// the upstream gateway.
type Actor struct {
	Name string
	Role rbac.Role
}

// dataStore is the persistence surface the service depends on. The concrete
// implementation is store.PostgresStore; tests substitute a fake.
type dataStore interface {
	Ping(ctx context.Context) error

	CreateCase(ctx context.Context, item store.CaseRecord) (int, error)
	GetCase(ctx context.Context, caseID string) (store.CaseRecord, error)
	ListCases(ctx context.Context, status string) ([]store.CaseRecord, error)
	AdvanceCaseReview(ctx context.Context, caseID, actor string) (store.CaseRecord, int, error)
	AdvanceCaseValidation(ctx context.Context, caseID, actor string) (store.CaseRecord, int, error)
	ReturnCaseToReview(ctx context.Context, caseID, actor, note string, issues []store.ValidationIssue) (store.CaseRecord, int, int, error)
	RejectCase(ctx context.Context, caseID, actor, reason string) (store.CaseRecord, int, error)
	ListCaseHistory(ctx context.Context, caseID string) ([]store.HistoryEntry, error)
	ListValidationIssues(ctx context.Context, caseID string, openOnly bool) ([]store.ValidationIssue, error)
	SummaryCounts(ctx context.Context) (store.SummaryCounts, error)

	GetFieldVerification(ctx context.Context, caseID, fieldName string) (store.FieldVerification, error)
	ListFieldVerifications(ctx context.Context, caseID string) ([]store.FieldVerification, error)
	CreateFieldVerification(ctx context.Context, item store.FieldVerification) (store.FieldVerification, int, error)
	CompleteFieldVerification(ctx context.Context, caseID, fieldName, verifier, notes string, evidence []string) (store.FieldVerification, int, error)
	RestartFieldVerification(ctx context.Context, item store.FieldVerification) (store.FieldVerification, int, error)

	AddEvidence(ctx context.Context, input store.AddEvidenceInput) (store.Quote, int, error)
	GetQuote(ctx context.Context, caseID, quoteID string) (store.Quote, error)
	ListFieldEvidence(ctx context.Context, caseID, fieldName string) ([]store.FieldQuote, error)
	ListCaseQuotes(ctx context.Context, caseID string) ([]store.Quote, error)
	ListCaseSources(ctx context.Context, caseID string) ([]store.Source, error)

	InsertSuggestion(ctx context.Context, item store.EditSuggestion) error
	GetSuggestion(ctx context.Context, suggestionID string) (store.EditSuggestion, error)
	ListSuggestions(ctx context.Context, caseID, status string) ([]store.EditSuggestion, error)
	ReviewSuggestion(ctx context.Context, suggestionID, reviewer, notes string) (store.EditSuggestion, error)
	ApproveSuggestion(ctx context.Context, input store.ApproveSuggestionInput) (store.EditSuggestion, int, error)
	RejectSuggestion(ctx context.Context, suggestionID, actor, notes string) (store.EditSuggestion, error)

	InsertProposedChange(ctx context.Context, item store.ProposedChange) error
	GetProposedChange(ctx context.Context, proposalID string) (store.ProposedChange, error)
	ListProposedChanges(ctx context.Context, entityID, status string) ([]store.ProposedChange, error)
	ApproveProposedChangeReview(ctx context.Context, proposalID, reviewer, notes string) (store.ProposedChange, error)
	ApplyProposedChange(ctx context.Context, input store.ApplyProposedChangeInput) (store.ProposedChange, int, error)
	RejectProposedChange(ctx context.Context, proposalID, actor, notes string) (store.ProposedChange, error)
	ReopenProposedChange(ctx context.Context, proposalID, auditNote string) (store.ProposedChange, error)

	InsertVerificationRequest(ctx context.Context, item store.VerificationRequest) error
	GetVerificationRequest(ctx context.Context, requestID string) (store.VerificationRequest, error)
	ListVerificationRequests(ctx context.Context, status, assignedTo string) ([]store.VerificationRequest, error)
	AssignedRequestCount(ctx context.Context, verifier string) (int, error)
	GetVerifierMaxConcurrent(ctx context.Context, verifier string) (int, error)
	UpsertVerifierProfile(ctx context.Context, verifier string, maxConcurrent int) error
	AssignVerificationRequest(ctx context.Context, requestID, verifier string) (store.VerificationRequest, error)
	UnassignVerificationRequest(ctx context.Context, requestID string) (store.VerificationRequest, error)
	CompleteVerificationRequest(ctx context.Context, input store.CompleteVerificationRequestInput) (store.VerificationRequest, int, error)
	RejectVerificationRequest(ctx context.Context, requestID, reason string) (store.VerificationRequest, error)
	ReviseVerificationRequest(ctx context.Context, requestID, notes string) (store.VerificationRequest, error)
}

type Service struct {
	cfg    config.Config
	store  dataStore
	search *search.Service
	feed   *activity.Feed
}

// New builds the service. search and feed may be nil; indexing and the
// activity feed are then skipped.
func New(cfg config.Config, st dataStore, searchSvc *search.Service, feed *activity.Feed) *Service {
	return &Service{cfg: cfg, store: st, search: searchSvc, feed: feed}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) Search(q search.Query) search.Response {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}
	}
	return s.search.Search(q)
}

func (s *Service) RecentActivity(ctx context.Context, limit int) ([]activity.Entry, error) {
	if s.feed == nil {
		return []activity.Entry{}, nil
	}
	return s.feed.Recent(ctx, limit)
}

func (s *Service) RecentCaseActivity(ctx context.Context, caseID string, limit int) ([]activity.Entry, error) {
	if s.feed == nil {
		return []activity.Entry{}, nil
	}
	return s.feed.RecentForCase(ctx, caseID, limit)
}

func (s *Service) Summary(ctx context.Context) (map[string]any, error) {
	counts, err := s.store.SummaryCounts(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"totalCases":      counts.TotalCases,
		"pendingReview":   counts.PendingReview,
		"inReview":        counts.InReview,
		"inValidation":    counts.InValidation,
		"verified":        counts.Verified,
		"rejected":        counts.Rejected,
		"openRequests":    counts.OpenRequests,
		"openSuggestions": counts.OpenSuggestions,
		"openProposals":   counts.OpenProposals,
	}, nil
}

// Common error constructors. The taxonomy maps one-to-one onto response
// codes; handlers never pick status codes themselves.

func validationError(message string) *DomainError {
	return domainError(http.StatusBadRequest, "VALIDATION_ERROR", message, nil)
}

func forbidden(message string) *DomainError {
	return domainError(http.StatusForbidden, "FORBIDDEN", message, nil)
}

func notFound(message string) *DomainError {
	return domainError(http.StatusNotFound, "NOT_FOUND", message, nil)
}

func stateConflict(message string) *DomainError {
	return domainError(http.StatusConflict, "STATE_CONFLICT", message, nil)
}

func evidenceRequired(message string) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "EVIDENCE_REQUIRED", message, nil)
}

func requireAction(actor Actor, action rbac.Action) error {
	if !rbac.Can(actor.Role, action) {
		return forbidden("Role does not permit this action")
	}
	return nil
}

// distinctFrom enforces the two-person guards. Elevated roles bypass them.
func distinctFrom(actor Actor, other, message string) error {
	if rbac.Elevated(actor.Role) {
		return nil
	}
	if other != "" && actor.Name == other {
		return forbidden(message)
	}
	return nil
}

// fieldMap renders the case's caller-addressable fields as a flat map, the
// shape both the diff engine and the content hash operate on.
func fieldMap(item store.CaseRecord) map[string]any {
	tags := make([]any, 0, len(item.Tags))
	for _, tag := range item.Tags {
		tags = append(tags, tag)
	}
	return map[string]any{
		"title":             item.Title,
		"summary":           item.Summary,
		"subject_name":      item.SubjectName,
		"subject_full_name": item.SubjectFullName,
		"date_of_incident":  item.DateOfIncident,
		"cause_of_death":    item.CauseOfDeath,
		"facility":          item.Facility,
		"agency":            item.Agency,
		"city":              item.City,
		"state":             item.State,
		"tags":              tags,
	}
}

// contentHash fingerprints the field map for tamper evidence. Keys are
// serialized in sorted order so the hash is stable across runs.
func contentHash(fields map[string]any) string {
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	hasher := sha256.New()
	for _, key := range keys {
		encoded, _ := json.Marshal(fields[key])
		hasher.Write([]byte(key))
		hasher.Write([]byte{'='})
		hasher.Write(encoded)
		hasher.Write([]byte{'\n'})
	}
	return hex.EncodeToString(hasher.Sum(nil))
}

// recordActivity fans a history append out to the feed and search index.
// Both are best-effort; the Postgres history row is the source of truth.
func (s *Service) recordActivity(ctx context.Context, caseID string, number int, action, actor, note string) {
	if s.feed != nil {
		s.feed.Push(ctx, activity.Entry{
			CaseID:             caseID,
			VerificationNumber: number,
			Action:             action,
			Actor:              actor,
			Note:               note,
		})
	}
	if s.search != nil {
		s.search.IndexHistory(search.HistoryRecord{
			ID:     caseID + ":" + strconv.Itoa(number),
			Action: action,
			Note:   note,
			CaseID: caseID,
			Actor:  actor,
		})
	}
}

func (s *Service) indexCase(item store.CaseRecord) {
	if s.search == nil {
		return
	}
	s.search.IndexCase(search.CaseRecord{
		ID:              item.ID,
		Title:           item.Title,
		Summary:         item.Summary,
		SubjectFullName: item.SubjectFullName,
		Facility:        item.Facility,
		Agency:          item.Agency,
		City:            item.City,
		State:           item.State,
		Status:          item.Status,
	})
}

func (s *Service) indexQuote(item store.Quote) {
	if s.search == nil {
		return
	}
	s.search.IndexQuote(search.QuoteRecord{
		ID:       item.ID,
		Body:     item.Body,
		Category: item.Category,
		CaseID:   item.CaseID,
		Verified: item.Verified,
	})
}

package store

import (
	"errors"
	"time"
)

// ErrConflict is returned when a conditional write finds the row no longer
// in the expected state. Callers map it to a state-conflict response.
var ErrConflict = errors.New("store: state conflict")

// ErrQuoteNotFound is returned when an evidence apply references a quote id
// that does not exist on the case.
var ErrQuoteNotFound = errors.New("store: quote not found")

type CaseRecord struct {
	ID              string
	Title           string
	Summary         string
	SubjectName     string
	SubjectFullName string
	DateOfIncident  string
	CauseOfDeath    string
	Facility        string
	Agency          string
	City            string
	State           string
	Tags            []string

	Status            string
	SubmittedBy       string
	SubmittedAt       time.Time
	FirstReviewer     string
	FirstReviewedAt   *time.Time
	SecondReviewer    string
	SecondReviewedAt  *time.Time
	FirstValidator    string
	FirstValidatedAt  *time.Time
	SecondValidator   string
	SecondValidatedAt *time.Time
	RejectedBy        string
	RejectedAt        *time.Time
	RejectionReason   string
	ReviewCycle       int

	VerificationStatus string
	VerificationLevel  string
	VerificationScope  string
	LastVerifiedAt     *time.Time
	ContentHash        string

	CreatedAt time.Time
	UpdatedAt time.Time
}

type HistoryEntry struct {
	ID                 int64
	CaseID             string
	VerificationNumber int
	Action             string
	Actor              string
	Note               string
	CreatedAt          time.Time
}

type FieldVerification struct {
	ID                 string
	CaseID             string
	FieldName          string
	CapturedValue      string
	FirstVerifier      string
	FirstVerifiedAt    time.Time
	FirstNotes         string
	FirstEvidence      []string
	SecondVerifier     string
	SecondVerifiedAt   *time.Time
	SecondNotes        string
	SecondEvidence     []string
	VerificationStatus string
	InvalidatedAt      *time.Time
}

type Source struct {
	ID          string
	CaseID      string
	URL         string
	Title       string
	Publication string
	CreatedAt   time.Time
}

type Quote struct {
	ID        string
	CaseID    string
	SourceID  string
	Body      string
	Category  string
	Verified  bool
	CreatedAt time.Time
}

// FieldQuote is a quote joined with its source metadata, as returned by the
// per-field evidence listing.
type FieldQuote struct {
	Quote
	SourceURL         string
	SourceTitle       string
	SourcePublication string
}

type EditSuggestion struct {
	ID               string
	CaseID           string
	FieldName        string
	CurrentValue     string
	SuggestedValue   string
	QuoteText        string
	SourceURL        string
	SuggestedBy      string
	Status           string
	FirstReviewer    string
	FirstReviewedAt  *time.Time
	FirstDecision    string
	FirstNotes       string
	SecondReviewer   string
	SecondReviewedAt *time.Time
	SecondDecision   string
	SecondNotes      string
	AppliedBy        string
	AppliedAt        *time.Time
	CreatedAt        time.Time
}

type ProposedChange struct {
	ID              string
	EntityType      string
	EntityID        string
	Proposed        string
	ChangedFields   []string
	Summary         string
	SubmittedBy     string
	Status          string
	Reviewer        string
	ReviewedAt      *time.Time
	ReviewNotes     string
	Validator       string
	ValidatedAt     *time.Time
	ValidationNotes string
	AuditNote       string
	AppliedAt       *time.Time
	CreatedAt       time.Time
}

type ValidationIssue struct {
	ID                  int64
	CaseID              string
	ValidationSessionID int
	FieldType           string
	FieldName           string
	Reason              string
	RaisedBy            string
	CreatedAt           time.Time
	ResolvedAt          *time.Time
}

type VerificationRequest struct {
	ID              string
	CaseID          string
	Scope           string
	Priority        int
	Status          string
	RequestedBy     string
	AssignedTo      string
	AssignedAt      *time.Time
	Outcome         string
	IssuesFound     string
	Notes           string
	RejectionReason string
	CompletedAt     *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type VerificationResult struct {
	ID        int64
	RequestID string
	CaseID    string
	ItemType  string
	ItemName  string
	Passed    bool
	Notes     string
	CreatedAt time.Time
}

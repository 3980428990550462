package app

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"docket/api/internal/diff"
	"docket/api/internal/rbac"
	"docket/api/internal/store"
	"docket/api/internal/util"
)

// Normalization subsets for the evidence collections: identity plus the
// fields a proposal can meaningfully change. Timestamps and derived data
// stay out of the comparison.
var (
	quoteKeepFields  = []string{"id", "body", "category"}
	sourceKeepFields = []string{"id", "url", "title", "publication"}
)

// ProposalInput is a bulk edit: a full candidate field map, optionally with
// replacement evidence collections.
type ProposalInput struct {
	EntityID string         `json:"entityId"`
	Summary  string         `json:"summary"`
	Proposed map[string]any `json:"proposed"`
}

func toItemList(value any) ([]map[string]any, bool) {
	list, ok := value.([]any)
	if !ok {
		return nil, false
	}
	items := make([]map[string]any, 0, len(list))
	for _, entry := range list {
		if item, ok := entry.(map[string]any); ok {
			items = append(items, item)
		}
	}
	return items, true
}

func quoteItems(quotes []store.Quote) []map[string]any {
	items := make([]map[string]any, 0, len(quotes))
	for _, q := range quotes {
		items = append(items, map[string]any{"id": q.ID, "body": q.Body, "category": q.Category})
	}
	return items
}

func sourceItems(sources []store.Source) []map[string]any {
	items := make([]map[string]any, 0, len(sources))
	for _, src := range sources {
		items = append(items, map[string]any{"id": src.ID, "url": src.URL, "title": src.Title, "publication": src.Publication})
	}
	return items
}

// proposalParts splits a proposed payload into its scalar field map and the
// two optional evidence collections. The legacy subject_name alias never
// participates in diffing.
func proposalParts(proposed map[string]any) (map[string]any, []map[string]any, bool, []map[string]any, bool) {
	scalars := make(map[string]any, len(proposed))
	for key, value := range proposed {
		scalars[key] = value
	}
	delete(scalars, "subject_name")

	var quotes, sources []map[string]any
	var hasQuotes, hasSources bool
	if raw, ok := scalars["quotes"]; ok {
		quotes, hasQuotes = toItemList(raw)
		delete(scalars, "quotes")
	}
	if raw, ok := scalars["sources"]; ok {
		sources, hasSources = toItemList(raw)
		delete(scalars, "sources")
	}
	return scalars, quotes, hasQuotes, sources, hasSources
}

// changedFieldsFor diffs a proposal against the live case and its live
// evidence collections.
func (s *Service) changedFieldsFor(ctx context.Context, item store.CaseRecord, proposed map[string]any) ([]string, error) {
	original := fieldMap(item)
	delete(original, "subject_name")

	scalars, quotes, hasQuotes, sources, hasSources := proposalParts(proposed)
	changed := diff.ChangedFields(original, scalars)

	if hasQuotes {
		live, err := s.store.ListCaseQuotes(ctx, item.ID)
		if err != nil {
			return nil, err
		}
		if diff.CollectionChanged(quoteItems(live), quotes, quoteKeepFields) {
			changed = append(changed, "quotes")
		}
	}
	if hasSources {
		live, err := s.store.ListCaseSources(ctx, item.ID)
		if err != nil {
			return nil, err
		}
		if diff.CollectionChanged(sourceItems(live), sources, sourceKeepFields) {
			changed = append(changed, "sources")
		}
	}
	return changed, nil
}

// CreateProposedChange computes the changed-field set up front. A proposal
// that is effectively identical to the live record is refused outright, no
// row stored.
func (s *Service) CreateProposedChange(ctx context.Context, actor Actor, input ProposalInput) (map[string]any, error) {
	if err := requireAction(actor, rbac.ActionSubmit); err != nil {
		return nil, err
	}
	if strings.TrimSpace(input.EntityID) == "" {
		return nil, validationError("entityId is required")
	}
	if len(input.Proposed) == 0 {
		return nil, validationError("proposed data is required")
	}
	item, err := s.store.GetCase(ctx, input.EntityID)
	if err != nil {
		return nil, err
	}

	changed, err := s.changedFieldsFor(ctx, item, input.Proposed)
	if err != nil {
		return nil, err
	}
	if len(changed) == 0 {
		return nil, validationError("proposed change is identical to the live record")
	}

	encoded, err := json.Marshal(input.Proposed)
	if err != nil {
		return nil, fmt.Errorf("encode proposed data: %w", err)
	}
	proposal := store.ProposedChange{
		ID:            util.NewID("pc"),
		EntityType:    "case",
		EntityID:      input.EntityID,
		Proposed:      string(encoded),
		ChangedFields: changed,
		Summary:       input.Summary,
		SubmittedBy:   actor.Name,
	}
	if err := s.store.InsertProposedChange(ctx, proposal); err != nil {
		return nil, err
	}
	saved, err := s.store.GetProposedChange(ctx, proposal.ID)
	if err != nil {
		return nil, err
	}
	return proposalPayload(saved), nil
}

func (s *Service) GetProposedChange(ctx context.Context, proposalID string) (map[string]any, error) {
	item, err := s.store.GetProposedChange(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	return proposalPayload(item), nil
}

func (s *Service) ListProposedChanges(ctx context.Context, entityID, status string) ([]map[string]any, error) {
	items, err := s.store.ListProposedChanges(ctx, entityID, status)
	if err != nil {
		return nil, err
	}
	payloads := make([]map[string]any, 0, len(items))
	for _, item := range items {
		payloads = append(payloads, proposalPayload(item))
	}
	return payloads, nil
}

// PreviewProposedChange itemizes original vs proposed for each changed
// field.
func (s *Service) PreviewProposedChange(ctx context.Context, proposalID string) (map[string]any, error) {
	proposal, err := s.store.GetProposedChange(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	item, err := s.store.GetCase(ctx, proposal.EntityID)
	if err != nil {
		return nil, err
	}

	var proposed map[string]any
	if err := json.Unmarshal([]byte(proposal.Proposed), &proposed); err != nil {
		return nil, fmt.Errorf("decode proposed data: %w", err)
	}
	scalars, quotes, _, sources, _ := proposalParts(proposed)
	original := fieldMap(item)

	entries := make([]map[string]any, 0, len(proposal.ChangedFields))
	for _, field := range proposal.ChangedFields {
		entry := map[string]any{"field": field}
		switch field {
		case "quotes":
			live, err := s.store.ListCaseQuotes(ctx, item.ID)
			if err != nil {
				return nil, err
			}
			entry["original"] = diff.NormalizeItems(quoteItems(live), quoteKeepFields)
			entry["proposed"] = diff.NormalizeItems(quotes, quoteKeepFields)
		case "sources":
			live, err := s.store.ListCaseSources(ctx, item.ID)
			if err != nil {
				return nil, err
			}
			entry["original"] = diff.NormalizeItems(sourceItems(live), sourceKeepFields)
			entry["proposed"] = diff.NormalizeItems(sources, sourceKeepFields)
		default:
			entry["original"] = original[field]
			entry["proposed"] = scalars[field]
		}
		entries = append(entries, entry)
	}

	return map[string]any{
		"id":            proposal.ID,
		"entityId":      proposal.EntityID,
		"status":        proposal.Status,
		"changedFields": proposal.ChangedFields,
		"changes":       entries,
	}, nil
}

// ApproveProposedChangeForValidation is the first-stage sign-off: a pure
// status transition.
func (s *Service) ApproveProposedChangeForValidation(ctx context.Context, actor Actor, proposalID, notes string) (map[string]any, error) {
	if err := requireAction(actor, rbac.ActionReview); err != nil {
		return nil, err
	}
	item, err := s.store.GetProposedChange(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	if item.Status != "pending_review" {
		return nil, stateConflict(fmt.Sprintf("proposed change is %s, not awaiting review", item.Status))
	}
	if err := distinctFrom(actor, item.SubmittedBy, "Submitter cannot review their own proposed change"); err != nil {
		return nil, err
	}

	saved, err := s.store.ApproveProposedChangeReview(ctx, proposalID, actor.Name, notes)
	if err != nil {
		return nil, err
	}
	return proposalPayload(saved), nil
}

// ValidateProposedChange applies the proposal: only the changed scalar
// columns are touched, and evidence collections are upserted by identity
// with nothing deleted.
func (s *Service) ValidateProposedChange(ctx context.Context, actor Actor, proposalID, notes string) (map[string]any, error) {
	if err := requireAction(actor, rbac.ActionValidate); err != nil {
		return nil, err
	}
	item, err := s.store.GetProposedChange(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	if item.Status != "pending_validation" {
		return nil, stateConflict(fmt.Sprintf("proposed change is %s, not awaiting validation", item.Status))
	}
	if err := distinctFrom(actor, item.SubmittedBy, "Submitter cannot validate their own proposed change"); err != nil {
		return nil, err
	}
	if err := distinctFrom(actor, item.Reviewer, "Validation requires someone other than the reviewer"); err != nil {
		return nil, err
	}

	var proposed map[string]any
	if err := json.Unmarshal([]byte(item.Proposed), &proposed); err != nil {
		return nil, fmt.Errorf("decode proposed data: %w", err)
	}
	scalars, quotes, _, sources, _ := proposalParts(proposed)

	apply := store.ApplyProposedChangeInput{
		ProposalID: proposalID,
		CaseID:     item.EntityID,
		Actor:      actor.Name,
		Notes:      notes,
		Fields:     map[string]any{},
	}
	for _, field := range item.ChangedFields {
		switch field {
		case "quotes":
			for _, q := range quotes {
				apply.Quotes = append(apply.Quotes, store.QuoteUpsert{
					ID:       stringValue(q["id"]),
					Body:     stringValue(q["body"]),
					Category: stringValue(q["category"]),
				})
			}
		case "sources":
			for _, src := range sources {
				apply.Sources = append(apply.Sources, store.SourceUpsert{
					ID:          stringValue(src["id"]),
					URL:         stringValue(src["url"]),
					Title:       stringValue(src["title"]),
					Publication: stringValue(src["publication"]),
				})
			}
		default:
			if _, ok := store.CaseFieldColumn(field); !ok {
				continue
			}
			apply.Fields[field] = scalars[field]
		}
	}

	saved, number, err := s.store.ApplyProposedChange(ctx, apply)
	if err != nil {
		return nil, err
	}

	if updated, err := s.store.GetCase(ctx, item.EntityID); err == nil {
		s.indexCase(updated)
	}
	s.recordActivity(ctx, item.EntityID, number, "change_applied", actor.Name, strings.Join(saved.ChangedFields, ", "))
	return proposalPayload(saved), nil
}

// RejectProposedChange can happen at either stage; the decision lands in the
// stage's own slots.
func (s *Service) RejectProposedChange(ctx context.Context, actor Actor, proposalID, notes string) (map[string]any, error) {
	if err := requireAction(actor, rbac.ActionReview); err != nil {
		return nil, err
	}
	saved, err := s.store.RejectProposedChange(ctx, proposalID, actor.Name, notes)
	if err != nil {
		return nil, err
	}
	return proposalPayload(saved), nil
}

// ReopenProposedChange puts a rejected proposal back into review. Bulk
// proposals are expensive to re-author, so unlike cases and suggestions
// they get a second chance.
func (s *Service) ReopenProposedChange(ctx context.Context, actor Actor, proposalID string) (map[string]any, error) {
	item, err := s.store.GetProposedChange(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	if actor.Name != item.SubmittedBy {
		if err := requireAction(actor, rbac.ActionReview); err != nil {
			return nil, err
		}
	}
	if item.Status != "rejected" {
		return nil, stateConflict(fmt.Sprintf("proposed change is %s, only rejected proposals can be reopened", item.Status))
	}

	auditNote := fmt.Sprintf("reopened by %s at %s", actor.Name, time.Now().UTC().Format(time.RFC3339))
	if item.AuditNote != "" {
		auditNote = item.AuditNote + "; " + auditNote
	}
	saved, err := s.store.ReopenProposedChange(ctx, proposalID, auditNote)
	if err != nil {
		return nil, err
	}
	return proposalPayload(saved), nil
}

package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"docket/api/internal/rbac"
	"docket/api/internal/search"
	"docket/api/internal/store"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

// actorFrom reads the caller identity asserted by the gateway. The role
// defaults to viewer when absent or unrecognized.
func actorFrom(r *http.Request) Actor {
	return Actor{
		Name: strings.TrimSpace(r.Header.Get("X-Actor")),
		Role: rbac.Normalize(strings.TrimSpace(r.Header.Get("X-Actor-Role"))),
	}
}

// requireActor rejects mutating requests that arrive without an identity.
func (s *HTTPServer) requireActor(w http.ResponseWriter, r *http.Request) (Actor, bool) {
	actor := actorFrom(r)
	if actor.Name == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "X-Actor header is required", nil)
		return Actor{}, false
	}
	return actor, true
}

func intQuery(r *http.Request, name string, fallback int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", name)
	}
	return parsed, nil
}

func (s *HTTPServer) respond(w http.ResponseWriter, payload any, err error) {
	if err != nil {
		status, code, message, details := mapError(err)
		if status == http.StatusInternalServerError {
			log.Printf(`{"request_id":"%s","level":"error","error":%q}`,
				w.Header().Get("X-Request-ID"), err.Error())
		}
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"database": map[string]any{"status": "ok"},
		}

		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
		}

		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/search" {
		limit, err := intQuery(r, "limit", 20)
		if err != nil {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
			return
		}
		offset, err := intQuery(r, "offset", 0)
		if err != nil {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
			return
		}
		response := s.service.Search(search.Query{
			Text:         strings.TrimSpace(r.URL.Query().Get("q")),
			FilterType:   search.ResultType(strings.TrimSpace(r.URL.Query().Get("type"))),
			FilterCaseID: strings.TrimSpace(r.URL.Query().Get("caseId")),
			Limit:        limit,
			Offset:       offset,
			VerifiedOnly: r.URL.Query().Get("verified") == "true",
		})
		writeJSON(w, http.StatusOK, response)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/activity" {
		limit, err := intQuery(r, "limit", 50)
		if err != nil {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
			return
		}
		entries, err := s.service.RecentActivity(r.Context(), limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Could not load activity", nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"activity": entries})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/summary" {
		payload, err := s.service.Summary(r.Context())
		s.respond(w, payload, err)
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) < 2 || parts[0] != "api" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	switch parts[1] {
	case "cases":
		s.handleCases(w, r, parts)
	case "suggestions":
		s.handleSuggestions(w, r, parts)
	case "proposed-changes":
		s.handleProposals(w, r, parts)
	case "verification-requests":
		s.handleRequests(w, r, parts)
	case "verifiers":
		s.handleVerifiers(w, r, parts)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleCases(w http.ResponseWriter, r *http.Request, parts []string) {
	if len(parts) == 2 {
		switch r.Method {
		case http.MethodGet:
			items, err := s.service.ListCases(r.Context(), strings.TrimSpace(r.URL.Query().Get("status")))
			s.respond(w, map[string]any{"cases": items}, err)
		case http.MethodPost:
			actor, ok := s.requireActor(w, r)
			if !ok {
				return
			}
			var fields map[string]any
			if err := decodeBody(r, &fields); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			payload, err := s.service.SubmitCase(r.Context(), actor, fields)
			s.respond(w, payload, err)
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	caseID := parts[2]

	if len(parts) == 3 {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		payload, err := s.service.GetCase(r.Context(), caseID)
		s.respond(w, payload, err)
		return
	}

	if len(parts) == 4 {
		if r.Method == http.MethodGet {
			switch parts[3] {
			case "history":
				items, err := s.service.ListCaseHistory(r.Context(), caseID)
				s.respond(w, map[string]any{"history": items}, err)
			case "issues":
				items, err := s.service.ListValidationIssues(r.Context(), caseID, r.URL.Query().Get("open") == "true")
				s.respond(w, map[string]any{"issues": items}, err)
			case "verifications":
				items, err := s.service.ListFieldVerifications(r.Context(), caseID)
				s.respond(w, map[string]any{"verifications": items}, err)
			case "quotes":
				items, err := s.service.ListCaseQuotes(r.Context(), caseID)
				s.respond(w, map[string]any{"quotes": items}, err)
			case "sources":
				items, err := s.service.ListCaseSources(r.Context(), caseID)
				s.respond(w, map[string]any{"sources": items}, err)
			case "suggestions":
				items, err := s.service.ListSuggestions(r.Context(), caseID, strings.TrimSpace(r.URL.Query().Get("status")))
				s.respond(w, map[string]any{"suggestions": items}, err)
			case "activity":
				limit, err := intQuery(r, "limit", 50)
				if err != nil {
					writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
					return
				}
				entries, err := s.service.RecentCaseActivity(r.Context(), caseID, limit)
				s.respond(w, map[string]any{"activity": entries}, err)
			default:
				writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
			}
			return
		}

		actor, ok := s.requireActor(w, r)
		if !ok {
			return
		}
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}

		switch parts[3] {
		case "review":
			payload, err := s.service.ReviewCase(r.Context(), actor, caseID)
			s.respond(w, payload, err)
		case "validate":
			payload, err := s.service.ValidateCase(r.Context(), actor, caseID)
			s.respond(w, payload, err)
		case "return":
			var body struct {
				Note   string                 `json:"note"`
				Issues []ValidationIssueInput `json:"issues"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			payload, err := s.service.ReturnCaseToReview(r.Context(), actor, caseID, body.Note, body.Issues)
			s.respond(w, payload, err)
		case "reject":
			var body struct {
				Reason string `json:"reason"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			payload, err := s.service.RejectCase(r.Context(), actor, caseID, body.Reason)
			s.respond(w, payload, err)
		case "evidence":
			var body EvidenceInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			payload, err := s.service.AddEvidence(r.Context(), actor, caseID, body)
			s.respond(w, payload, err)
		case "suggestions":
			var body SuggestionInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			payload, err := s.service.CreateSuggestion(r.Context(), actor, caseID, body)
			s.respond(w, payload, err)
		default:
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		}
		return
	}

	// /api/cases/{id}/fields/{field}/verify and .../evidence
	if len(parts) == 6 && parts[3] == "fields" {
		fieldName := parts[4]
		switch {
		case parts[5] == "evidence" && r.Method == http.MethodGet:
			items, err := s.service.ListFieldEvidence(r.Context(), caseID, fieldName)
			s.respond(w, map[string]any{"evidence": items}, err)
		case parts[5] == "verify" && r.Method == http.MethodPost:
			actor, ok := s.requireActor(w, r)
			if !ok {
				return
			}
			var body struct {
				Notes    string   `json:"notes"`
				Evidence []string `json:"evidence"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			payload, err := s.service.VerifyField(r.Context(), actor, caseID, fieldName, body.Notes, body.Evidence)
			s.respond(w, payload, err)
		default:
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		}
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleSuggestions(w http.ResponseWriter, r *http.Request, parts []string) {
	if len(parts) == 2 {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		items, err := s.service.ListSuggestions(r.Context(),
			strings.TrimSpace(r.URL.Query().Get("caseId")),
			strings.TrimSpace(r.URL.Query().Get("status")))
		s.respond(w, map[string]any{"suggestions": items}, err)
		return
	}

	suggestionID := parts[2]

	if len(parts) == 3 {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		payload, err := s.service.GetSuggestion(r.Context(), suggestionID)
		s.respond(w, payload, err)
		return
	}

	if len(parts) != 4 || r.Method != http.MethodPost {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	actor, ok := s.requireActor(w, r)
	if !ok {
		return
	}

	switch parts[3] {
	case "review":
		var body struct {
			Notes string `json:"notes"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.ReviewSuggestion(r.Context(), actor, suggestionID, body.Notes)
		s.respond(w, payload, err)
	case "approve":
		var body ApprovalInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.ApproveSuggestion(r.Context(), actor, suggestionID, body)
		s.respond(w, payload, err)
	case "reject":
		var body struct {
			Notes string `json:"notes"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.RejectSuggestion(r.Context(), actor, suggestionID, body.Notes)
		s.respond(w, payload, err)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleProposals(w http.ResponseWriter, r *http.Request, parts []string) {
	if len(parts) == 2 {
		switch r.Method {
		case http.MethodGet:
			items, err := s.service.ListProposedChanges(r.Context(),
				strings.TrimSpace(r.URL.Query().Get("entityId")),
				strings.TrimSpace(r.URL.Query().Get("status")))
			s.respond(w, map[string]any{"proposedChanges": items}, err)
		case http.MethodPost:
			actor, ok := s.requireActor(w, r)
			if !ok {
				return
			}
			var body ProposalInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			payload, err := s.service.CreateProposedChange(r.Context(), actor, body)
			s.respond(w, payload, err)
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	proposalID := parts[2]

	if len(parts) == 3 {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		payload, err := s.service.GetProposedChange(r.Context(), proposalID)
		s.respond(w, payload, err)
		return
	}

	if len(parts) != 4 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	if parts[3] == "preview" {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		payload, err := s.service.PreviewProposedChange(r.Context(), proposalID)
		s.respond(w, payload, err)
		return
	}

	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}
	actor, ok := s.requireActor(w, r)
	if !ok {
		return
	}

	var body struct {
		Notes string `json:"notes"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	switch parts[3] {
	case "approve-for-validation":
		payload, err := s.service.ApproveProposedChangeForValidation(r.Context(), actor, proposalID, body.Notes)
		s.respond(w, payload, err)
	case "validate":
		payload, err := s.service.ValidateProposedChange(r.Context(), actor, proposalID, body.Notes)
		s.respond(w, payload, err)
	case "reject":
		payload, err := s.service.RejectProposedChange(r.Context(), actor, proposalID, body.Notes)
		s.respond(w, payload, err)
	case "reopen":
		payload, err := s.service.ReopenProposedChange(r.Context(), actor, proposalID)
		s.respond(w, payload, err)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleRequests(w http.ResponseWriter, r *http.Request, parts []string) {
	if len(parts) == 2 {
		switch r.Method {
		case http.MethodGet:
			assigned := strings.TrimSpace(r.URL.Query().Get("assigned"))
			if assigned == "me" {
				assigned = actorFrom(r).Name
			}
			items, err := s.service.ListVerificationRequests(r.Context(),
				strings.TrimSpace(r.URL.Query().Get("status")),
				assigned)
			s.respond(w, map[string]any{"requests": items}, err)
		case http.MethodPost:
			actor, ok := s.requireActor(w, r)
			if !ok {
				return
			}
			var body RequestInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			payload, err := s.service.CreateVerificationRequest(r.Context(), actor, body)
			s.respond(w, payload, err)
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	requestID := parts[2]

	if len(parts) == 3 {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		payload, err := s.service.GetVerificationRequest(r.Context(), requestID)
		s.respond(w, payload, err)
		return
	}

	if len(parts) != 4 || r.Method != http.MethodPost {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	actor, ok := s.requireActor(w, r)
	if !ok {
		return
	}

	switch parts[3] {
	case "assign":
		payload, err := s.service.AssignVerificationRequest(r.Context(), actor, requestID)
		s.respond(w, payload, err)
	case "unassign":
		payload, err := s.service.UnassignVerificationRequest(r.Context(), actor, requestID)
		s.respond(w, payload, err)
	case "complete":
		var body CompletionInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.CompleteVerificationRequest(r.Context(), actor, requestID, body)
		s.respond(w, payload, err)
	case "reject":
		var body struct {
			Reason string `json:"reason"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.RejectVerificationRequest(r.Context(), actor, requestID, body.Reason)
		s.respond(w, payload, err)
	case "needs-revision":
		var body struct {
			Notes string `json:"notes"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.ReviseVerificationRequest(r.Context(), actor, requestID, body.Notes)
		s.respond(w, payload, err)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleVerifiers(w http.ResponseWriter, r *http.Request, parts []string) {
	if len(parts) != 4 || parts[3] != "capacity" || r.Method != http.MethodPut {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	actor, ok := s.requireActor(w, r)
	if !ok {
		return
	}
	var body struct {
		MaxConcurrent int `json:"maxConcurrent"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	payload, err := s.service.SetVerifierCapacity(r.Context(), actor, parts[2], body.MaxConcurrent)
	s.respond(w, payload, err)
}

type requestIDKey struct{}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, X-Actor, X-Actor-Role, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("request body is required")
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, store.ErrQuoteNotFound) {
		return http.StatusUnprocessableEntity, "EVIDENCE_REQUIRED", "Quote does not belong to this case", nil
	}
	if errors.Is(err, store.ErrConflict) {
		return http.StatusConflict, "STATE_CONFLICT", "The record is not in a state that allows this action", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}

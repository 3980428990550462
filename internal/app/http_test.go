package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"docket/api/internal/store"
)

func testServer(st *fakeStore) *HTTPServer {
	return NewHTTPServer(testService(st), "*")
}

func doRequest(t *testing.T, server *HTTPServer, method, path, body string, headers map[string]string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("{}")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	var response map[string]any
	if rr.Body.Len() > 0 {
		if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
			t.Fatalf("failed to parse response: %v (%s)", err, rr.Body.String())
		}
	}
	return rr, response
}

var reviewerHeaders = map[string]string{"X-Actor": "riley", "X-Actor-Role": "reviewer"}

func TestHealthEndpoint(t *testing.T) {
	rr, response := doRequest(t, testServer(&fakeStore{}), http.MethodGet, "/api/health", "", nil)
	if rr.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rr.Code)
	}
	if ok, exists := response["ok"]; !exists || ok != true {
		t.Errorf("expected ok=true, got %v", ok)
	}
}

func TestOptionsPreflightShortCircuits(t *testing.T) {
	rr, _ := doRequest(t, testServer(&fakeStore{}), http.MethodOptions, "/api/cases", "", nil)
	if rr.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rr.Code)
	}
	if origin := rr.Header().Get("Access-Control-Allow-Origin"); origin != "*" {
		t.Errorf("expected CORS origin *, got %q", origin)
	}
}

func TestRequestIDIsEchoed(t *testing.T) {
	server := testServer(&fakeStore{})
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("X-Request-ID", "req-abc")
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	if got := rr.Header().Get("X-Request-ID"); got != "req-abc" {
		t.Errorf("expected request id echoed, got %q", got)
	}
}

func TestMutatingRouteWithoutActorIsUnauthorized(t *testing.T) {
	rr, response := doRequest(t, testServer(&fakeStore{}), http.MethodPost, "/api/cases", `{"title":"A case"}`, nil)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rr.Code)
	}
	if response["code"] != "UNAUTHORIZED" {
		t.Errorf("expected UNAUTHORIZED, got %v", response["code"])
	}
}

func TestEmptyBodyIsReportedAsMissing(t *testing.T) {
	server := testServer(&fakeStore{})
	req := httptest.NewRequest(http.MethodPost, "/api/cases", strings.NewReader(""))
	for key, value := range reviewerHeaders {
		req.Header.Set(key, value)
	}
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	var response map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if response["error"] != "request body is required" {
		t.Errorf("expected a missing-body message, got %v", response["error"])
	}
}

func TestGetCaseNotFoundMapsTo404(t *testing.T) {
	rr, response := doRequest(t, testServer(&fakeStore{}), http.MethodGet, "/api/cases/case_missing", "", nil)
	if rr.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rr.Code)
	}
	if response["code"] != "NOT_FOUND" {
		t.Errorf("expected NOT_FOUND, got %v", response["code"])
	}
}

func TestInternalErrorIsLoggedAndSurfacesGenerically(t *testing.T) {
	st := &fakeStore{
		getCaseFn: func(context.Context, string) (store.CaseRecord, error) {
			return store.CaseRecord{}, errors.New("connection reset by peer")
		},
	}
	var logs bytes.Buffer
	log.SetOutput(&logs)
	defer log.SetOutput(os.Stderr)

	server := testServer(st)
	req := httptest.NewRequest(http.MethodGet, "/api/cases/case_1", nil)
	req.Header.Set("X-Request-ID", "req-500")
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	if strings.Contains(rr.Body.String(), "connection reset") {
		t.Errorf("internal error leaked into the response: %s", rr.Body.String())
	}
	logged := logs.String()
	if !strings.Contains(logged, `"error":"connection reset by peer"`) {
		t.Errorf("expected the underlying error in the log, got %s", logged)
	}
	if !strings.Contains(logged, `"request_id":"req-500"`) {
		t.Errorf("expected the request id in the log, got %s", logged)
	}
}

func TestStoreConflictMapsTo409(t *testing.T) {
	st := &fakeStore{
		getCaseFn: func(context.Context, string) (store.CaseRecord, error) {
			return caseInState("pending_review", "casey"), nil
		},
		advanceCaseReviewFn: func(context.Context, string, string) (store.CaseRecord, int, error) {
			return store.CaseRecord{}, 0, store.ErrConflict
		},
	}
	rr, response := doRequest(t, testServer(st), http.MethodPost, "/api/cases/case_1/review", "", reviewerHeaders)
	if rr.Code != http.StatusConflict {
		t.Errorf("expected 409, got %d", rr.Code)
	}
	if response["code"] != "STATE_CONFLICT" {
		t.Errorf("expected STATE_CONFLICT, got %v", response["code"])
	}
}

func TestQuoteMismatchMapsTo422(t *testing.T) {
	st := &fakeStore{
		getSuggestionFn: func(context.Context, string) (store.EditSuggestion, error) {
			item := suggestionInState("first_review")
			item.FirstReviewer = "jordan"
			return item, nil
		},
		approveSuggestionFn: func(context.Context, store.ApproveSuggestionInput) (store.EditSuggestion, int, error) {
			return store.EditSuggestion{}, 0, store.ErrQuoteNotFound
		},
	}
	rr, response := doRequest(t, testServer(st), http.MethodPost, "/api/suggestions/sug_1/approve", `{"quoteId":"q_wrong"}`, reviewerHeaders)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422, got %d", rr.Code)
	}
	if response["code"] != "EVIDENCE_REQUIRED" {
		t.Errorf("expected EVIDENCE_REQUIRED, got %v", response["code"])
	}
}

func TestSubmitCaseRoundTrip(t *testing.T) {
	var created store.CaseRecord
	st := &fakeStore{
		createCaseFn: func(_ context.Context, item store.CaseRecord) (int, error) {
			created = item
			created.Status = "pending_review"
			return 1, nil
		},
		getCaseFn: func(context.Context, string) (store.CaseRecord, error) {
			return created, nil
		},
	}
	rr, response := doRequest(t, testServer(st), http.MethodPost, "/api/cases",
		`{"title":"Death in custody at Central","city":"Springfield","tags":["custody"]}`,
		map[string]string{"X-Actor": "casey", "X-Actor-Role": "contributor"})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rr.Code, rr.Body.String())
	}
	if response["status"] != "pending_review" {
		t.Errorf("expected pending_review, got %v", response["status"])
	}
	fields, ok := response["fields"].(map[string]any)
	if !ok {
		t.Fatalf("expected fields map, got %v", response["fields"])
	}
	if fields["city"] != "Springfield" {
		t.Errorf("expected city Springfield, got %v", fields["city"])
	}
	if created.SubmittedBy != "casey" {
		t.Errorf("expected submitter casey, got %q", created.SubmittedBy)
	}
}

func TestVerifierRoleHeaderIsNormalized(t *testing.T) {
	rr, response := doRequest(t, testServer(&fakeStore{}), http.MethodPost, "/api/cases",
		`{"title":"A case"}`,
		map[string]string{"X-Actor": "someone", "X-Actor-Role": "superuser"})
	// unknown roles collapse to viewer, which cannot submit
	if rr.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", rr.Code)
	}
	if response["code"] != "FORBIDDEN" {
		t.Errorf("expected FORBIDDEN, got %v", response["code"])
	}
}

func TestUnknownRouteReturns404(t *testing.T) {
	rr, _ := doRequest(t, testServer(&fakeStore{}), http.MethodGet, "/api/nonsense", "", nil)
	if rr.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rr.Code)
	}
}

func TestCapacityEndpointRejectsNonAdmin(t *testing.T) {
	rr, _ := doRequest(t, testServer(&fakeStore{}), http.MethodPut, "/api/verifiers/riley/capacity",
		`{"maxConcurrent":5}`, reviewerHeaders)
	if rr.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", rr.Code)
	}
}

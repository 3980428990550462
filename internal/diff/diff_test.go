package diff

import (
	"reflect"
	"testing"
)

func TestChangedFieldsIdenticalRecord(t *testing.T) {
	record := map[string]any{
		"title":   "Death in custody at Willacy",
		"summary": "Subject died after transfer.",
		"tags":    []any{"custody", "medical"},
		"city":    "",
	}
	if got := ChangedFields(record, record); len(got) != 0 {
		t.Fatalf("identical records should have no changed fields, got %v", got)
	}
}

func TestChangedFieldsAbsenceClass(t *testing.T) {
	original := map[string]any{"cause_of_death": nil, "facility": "", "tags": []any{}}
	proposed := map[string]any{"cause_of_death": "", "tags": nil}
	if got := ChangedFields(original, proposed); len(got) != 0 {
		t.Fatalf("null, empty string and empty array are one absence class, got %v", got)
	}
}

func TestChangedFieldsArrayOrder(t *testing.T) {
	original := map[string]any{"tags": []any{"x", "y"}}
	proposed := map[string]any{"tags": []any{"y", "x"}}
	if got := ChangedFields(original, proposed); len(got) != 0 {
		t.Fatalf("reordered arrays should be equal, got %v", got)
	}

	proposed["tags"] = []any{"y", "z"}
	if got := ChangedFields(original, proposed); !reflect.DeepEqual(got, []string{"tags"}) {
		t.Fatalf("expected tags to change, got %v", got)
	}
}

func TestChangedFieldsDateFormats(t *testing.T) {
	original := map[string]any{"date_of_incident": "2024-01-01"}
	proposed := map[string]any{"date_of_incident": "2024-01-01T00:00:00.000Z"}
	if got := ChangedFields(original, proposed); len(got) != 0 {
		t.Fatalf("equal instants in different formats should be equal, got %v", got)
	}

	proposed["date_of_incident"] = "2024-01-02"
	if got := ChangedFields(original, proposed); !reflect.DeepEqual(got, []string{"date_of_incident"}) {
		t.Fatalf("expected date_of_incident to change, got %v", got)
	}
}

func TestChangedFieldsIgnoresProposedOnlyKeys(t *testing.T) {
	original := map[string]any{"title": "A"}
	proposed := map[string]any{"title": "A", "injected": "surprise"}
	if got := ChangedFields(original, proposed); len(got) != 0 {
		t.Fatalf("keys only in proposed must be ignored, got %v", got)
	}
}

func TestChangedFieldsMissingProposedKeyIsAbsence(t *testing.T) {
	original := map[string]any{"title": "A", "city": ""}
	proposed := map[string]any{"title": "B"}
	if got := ChangedFields(original, proposed); !reflect.DeepEqual(got, []string{"title"}) {
		t.Fatalf("missing proposed key equals absence, got %v", got)
	}
}

func TestCollectionChanged(t *testing.T) {
	keep := []string{"id", "body", "category"}
	live := []map[string]any{
		{"id": "qt_1", "body": "He collapsed in the holding cell.", "category": "medical", "created_at": "2024-02-01T10:00:00Z"},
	}

	same := []map[string]any{
		{"id": "qt_1", "body": "He collapsed in the holding cell.", "category": "medical", "created_at": "2024-06-30T08:00:00Z"},
	}
	if CollectionChanged(live, same, keep) {
		t.Fatal("timestamp skew alone must not register as a collection change")
	}

	edited := []map[string]any{
		{"id": "qt_1", "body": "He collapsed in the transport van.", "category": "medical"},
	}
	if !CollectionChanged(live, edited, keep) {
		t.Fatal("edited quote body should register as a change")
	}

	added := append(same, map[string]any{"body": "New witness statement.", "category": "witness"})
	if !CollectionChanged(live, added, keep) {
		t.Fatal("added item should register as a change")
	}
}

func TestNormalizeItemsDropsAbsentValues(t *testing.T) {
	items := []map[string]any{{"id": "src_1", "url": "https://example.org/a", "title": ""}}
	got := NormalizeItems(items, []string{"id", "url", "title"})
	if len(got) != 1 {
		t.Fatalf("expected one item, got %d", len(got))
	}
	if _, ok := got[0]["title"]; ok {
		t.Fatal("empty title should be dropped during normalization")
	}
}

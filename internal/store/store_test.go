package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stayontop/mailtriage/internal/gmail"
	"github.com/stayontop/mailtriage/internal/llm"
	"github.com/stayontop/mailtriage/internal/token"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "mailtriage.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testEmail(id, identity string) *gmail.Email {
	return &gmail.Email{
		ID:           id,
		Identity:     identity,
		Sender:       "alice@example.com",
		Recipient:    identity,
		Subject:      "Subject " + id,
		BodyText:     "body " + id,
		DateReceived: time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC),
		ThreadID:     "thread-" + id,
		Labels:       []string{"INBOX"},
	}
}

func testAnalysis(priority, category string) *llm.Analysis {
	return &llm.Analysis{
		Sentiment:      "neutral",
		Priority:       priority,
		Category:       category,
		Summary:        "a summary",
		ActionRequired: priority == "high",
		KeyPoints:      []string{},
	}
}

func TestSaveAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	inserted, err := s.Save(ctx, testEmail("m1", "bob@example.com"), testAnalysis("high", "work"))
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if !inserted {
		t.Error("Save() should report a new row")
	}

	rec, err := s.Get(ctx, "m1", "bob@example.com")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if rec == nil {
		t.Fatal("Get() returned nil for a stored email")
	}
	if rec.Sender != "alice@example.com" || rec.Priority != "high" || rec.Category != "work" {
		t.Errorf("Get() = %+v", rec)
	}
	if !rec.ActionRequired {
		t.Error("ActionRequired should persist")
	}
	if rec.BodyText != "body m1" {
		t.Errorf("BodyText = %q", rec.BodyText)
	}
	if !rec.DateReceived.Equal(time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("DateReceived = %v", rec.DateReceived)
	}
}

func TestSave_DuplicateIsIgnored(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Save(ctx, testEmail("m1", "bob@example.com"), testAnalysis("high", "work")); err != nil {
		t.Fatal(err)
	}

	second := testEmail("m1", "bob@example.com")
	second.Subject = "changed subject"
	inserted, err := s.Save(ctx, second, testAnalysis("low", "personal"))
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if inserted {
		t.Error("duplicate message ID should not insert a new row")
	}

	rec, _ := s.Get(ctx, "m1", "bob@example.com")
	if rec.Subject != "Subject m1" {
		t.Errorf("original row should be untouched, subject = %q", rec.Subject)
	}
}

func TestSave_NilAnalysisStoresUnclassified(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Save(ctx, testEmail("m1", "bob@example.com"), nil); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	rec, _ := s.Get(ctx, "m1", "bob@example.com")
	if rec.Priority != "" || rec.Category != "" {
		t.Errorf("unclassified email should have empty analysis columns, got %+v", rec)
	}
}

func TestSave_RejectsMissingID(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Save(context.Background(), &gmail.Email{}, nil)
	if !errors.Is(err, token.ErrMalformedInput) {
		t.Errorf("Save() error = %v, want ErrMalformedInput", err)
	}
}

func TestList_FiltersAndPagination(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		email := testEmail(fmt.Sprintf("m%d", i), "bob@example.com")
		email.DateReceived = email.DateReceived.Add(time.Duration(i) * time.Hour)
		priority := "low"
		if i%2 == 0 {
			priority = "high"
		}
		if _, err := s.Save(ctx, email, testAnalysis(priority, "work")); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := s.Save(ctx, testEmail("other", "carol@example.com"), testAnalysis("high", "personal")); err != nil {
		t.Fatal(err)
	}

	records, err := s.List(ctx, ListFilter{Identity: "bob@example.com"})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(records) != 5 {
		t.Fatalf("List() returned %d records, want 5", len(records))
	}
	if records[0].ID != "m4" {
		t.Errorf("newest first: got %s", records[0].ID)
	}

	high, err := s.List(ctx, ListFilter{Identity: "bob@example.com", Priority: "high"})
	if err != nil {
		t.Fatal(err)
	}
	if len(high) != 3 {
		t.Errorf("high priority count = %d, want 3", len(high))
	}

	page, err := s.List(ctx, ListFilter{Identity: "bob@example.com", Limit: 2, Offset: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 2 || page[0].ID != "m2" {
		t.Errorf("page = %v", page)
	}
}

func TestList_ValidatesPagination(t *testing.T) {
	s := newTestStore(t)
	for _, filter := range []ListFilter{
		{Limit: MaxListLimit + 1},
		{Limit: -1},
		{Offset: -1},
	} {
		_, err := s.List(context.Background(), filter)
		if !errors.Is(err, token.ErrMalformedInput) {
			t.Errorf("List(%+v) error = %v, want ErrMalformedInput", filter, err)
		}
	}
}

func TestSummarize(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.Save(ctx, testEmail("m1", "bob@example.com"), testAnalysis("high", "work"))
	s.Save(ctx, testEmail("m2", "bob@example.com"), testAnalysis("low", "work"))
	s.Save(ctx, testEmail("m3", "bob@example.com"), testAnalysis("high", "promotional"))
	s.Save(ctx, testEmail("m4", "carol@example.com"), testAnalysis("high", "personal"))

	summary, err := s.Summarize(ctx, "bob@example.com")
	if err != nil {
		t.Fatalf("Summarize() error = %v", err)
	}
	if summary.Total != 3 {
		t.Errorf("Total = %d, want 3", summary.Total)
	}
	if summary.HighPriority != 2 {
		t.Errorf("HighPriority = %d, want 2", summary.HighPriority)
	}
	if summary.Categories["work"] != 2 || summary.Categories["promotional"] != 1 {
		t.Errorf("Categories = %v", summary.Categories)
	}
}

func TestDeleteForIdentity(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.Save(ctx, testEmail("m1", "bob@example.com"), nil)
	s.Save(ctx, testEmail("m2", "bob@example.com"), nil)
	s.Save(ctx, testEmail("m3", "carol@example.com"), nil)

	n, err := s.DeleteForIdentity(ctx, "bob@example.com")
	if err != nil {
		t.Fatalf("DeleteForIdentity() error = %v", err)
	}
	if n != 2 {
		t.Errorf("deleted %d rows, want 2", n)
	}

	remaining, _ := s.List(ctx, ListFilter{Identity: "carol@example.com"})
	if len(remaining) != 1 {
		t.Errorf("other users' emails must survive, got %d", len(remaining))
	}
}

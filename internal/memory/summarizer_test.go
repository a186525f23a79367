package memory

import (
	"strings"
	"testing"

	"zubot/internal/store"
)

func manyEvents(n int) []store.DayMemoryEvent {
	events := make([]store.DayMemoryEvent, n)
	for i := range events {
		events[i] = store.DayMemoryEvent{Kind: store.EventKindUser, Text: "message"}
	}
	return events
}

func TestConcatSummarizerFlatWithinBudget(t *testing.T) {
	s := ConcatSummarizer{SegmentLineBudget: 10}
	out := s.Summarize("2026-08-06", manyEvents(5))
	if strings.Contains(out, "[summary]") {
		t.Fatalf("expected a flat summary with no recursive segments, got %q", out)
	}
	if !strings.Contains(out, "(5 events)") {
		t.Fatalf("expected the header to report 5 events, got %q", out)
	}
}

func TestConcatSummarizerSplitsOversizeInput(t *testing.T) {
	s := ConcatSummarizer{SegmentLineBudget: 10}
	out := s.Summarize("2026-08-06", manyEvents(45))
	if !strings.Contains(out, "[summary]") {
		t.Fatalf("expected the recursive pass to fold segment summaries in, got %q", out)
	}
	if !strings.Contains(out, "(45 events)") {
		t.Fatalf("expected the header to report the original 45-event total, got %q", out)
	}
}

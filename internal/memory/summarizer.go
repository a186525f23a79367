package memory

import (
	"fmt"
	"strings"

	"zubot/internal/store"
)

// ConcatSummarizer is the shipped default Summarizer: it joins each event's
// text on one line per event, prefixed by a short kind tag. It performs no
// compression or paraphrasing — a model-backed summarizer belongs behind
// the same Summarizer interface, not in this daemon.
//
// A day whose event count exceeds SegmentLineBudget is handled by recursive
// splitting: the events are chunked into SegmentLineBudget-sized segments,
// each segment is summarized on its own, and the segment summaries are then
// fed back through the same process as pseudo-events — recursing again if
// there end up being more segment summaries than the budget allows — until
// one pass produces a summary within budget.
type ConcatSummarizer struct {
	MaxLineLength    int
	SegmentLineBudget int
}

const defaultSegmentLineBudget = 200

func (s ConcatSummarizer) Summarize(day string, events []store.DayMemoryEvent) string {
	budget := s.SegmentLineBudget
	if budget <= 0 {
		budget = defaultSegmentLineBudget
	}
	return s.summarize(day, events, len(events), budget)
}

func (s ConcatSummarizer) summarize(day string, events []store.DayMemoryEvent, totalEvents, budget int) string {
	if len(events) <= budget {
		return s.render(day, totalEvents, events)
	}

	segments := make([]store.DayMemoryEvent, 0, (len(events)+budget-1)/budget)
	for start := 0; start < len(events); start += budget {
		end := start + budget
		if end > len(events) {
			end = len(events)
		}
		segments = append(segments, store.DayMemoryEvent{
			Day:  day,
			Kind: "segment",
			Text: s.render(day, totalEvents, events[start:end]),
		})
	}
	return s.summarize(day, segments, totalEvents, budget)
}

func (s ConcatSummarizer) render(day string, totalEvents int, events []store.DayMemoryEvent) string {
	maxLen := s.MaxLineLength
	if maxLen <= 0 {
		maxLen = 240
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Day %s (%d events):\n", day, totalEvents)
	for _, ev := range events {
		text := strings.TrimSpace(ev.Text)
		if text == "" {
			continue
		}
		text = strings.ReplaceAll(text, "\n", " ")
		if len(text) > maxLen {
			text = text[:maxLen] + "..."
		}
		fmt.Fprintf(&b, "- [%s] %s\n", tagFor(ev.Kind), text)
	}
	return b.String()
}

func tagFor(kind string) string {
	switch kind {
	case store.EventKindUser:
		return "user"
	case store.EventKindMainAgent:
		return "agent"
	case store.EventKindTaskAgentEvent:
		return "task"
	case "segment":
		return "summary"
	default:
		return kind
	}
}

package scheduler

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"zubot/internal/store"
)

// buildCronSpec turns a single "HH:MM" time-of-day plus a set of weekday
// tokens (mon..sun) into a standard 5-field cron expression, used only as a
// next-fire calculator: robfig/cron/v3 never registers a live job here.
func buildCronSpec(timeOfDay string, daysOfWeek []string) (string, error) {
	parts := strings.SplitN(timeOfDay, ":", 2)
	if len(parts) != 2 {
		return "", fmt.Errorf("scheduler: invalid time_of_day %q", timeOfDay)
	}
	var hour, minute int
	if _, err := fmt.Sscanf(parts[0], "%d", &hour); err != nil {
		return "", fmt.Errorf("scheduler: invalid hour in %q: %w", timeOfDay, err)
	}
	if _, err := fmt.Sscanf(parts[1], "%d", &minute); err != nil {
		return "", fmt.Errorf("scheduler: invalid minute in %q: %w", timeOfDay, err)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return "", fmt.Errorf("scheduler: time_of_day out of range: %q", timeOfDay)
	}

	dow := "*"
	if len(daysOfWeek) > 0 {
		upper := make([]string, len(daysOfWeek))
		for i, d := range daysOfWeek {
			upper[i] = strings.ToUpper(strings.TrimSpace(d))
		}
		dow = strings.Join(upper, ",")
	}
	return fmt.Sprintf("%d %d * * %s", minute, hour, dow), nil
}

// calendarFiresInWindow returns every fire strictly after `from` and at or
// before `to`, across all of a schedule's time-of-day entries, sorted
// ascending and deduplicated. `from`/`to` are interpreted in the schedule's
// own timezone.
func calendarFiresInWindow(sc store.Schedule, from, to time.Time) ([]time.Time, error) {
	loc, err := time.LoadLocation(sc.Timezone)
	if err != nil {
		return nil, fmt.Errorf("scheduler: load location %q: %w", sc.Timezone, err)
	}
	localFrom := from.In(loc)
	localTo := to.In(loc)

	seen := map[int64]struct{}{}
	var out []time.Time

	for _, tod := range sc.TimesOfDay {
		spec, err := buildCronSpec(tod, sc.DaysOfWeek)
		if err != nil {
			return nil, err
		}
		sched, err := cron.ParseStandard(spec)
		if err != nil {
			return nil, fmt.Errorf("scheduler: parse cron spec %q: %w", spec, err)
		}

		t := localFrom
		for i := 0; i < 4000; i++ { // ~11 years of daily fires; enumeration is bounded by the catch-up window before this ever matters
			next := sched.Next(t)
			if next.IsZero() || next.After(localTo) {
				break
			}
			key := next.UTC().Unix()
			if _, dup := seen[key]; !dup {
				seen[key] = struct{}{}
				out = append(out, next.UTC())
			}
			t = next
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}

// nextCalendarFireAfter returns the single earliest fire strictly after t,
// across all time-of-day entries, for populating Schedule.NextRunAt.
func nextCalendarFireAfter(sc store.Schedule, t time.Time) (*time.Time, error) {
	loc, err := time.LoadLocation(sc.Timezone)
	if err != nil {
		return nil, fmt.Errorf("scheduler: load location %q: %w", sc.Timezone, err)
	}
	localT := t.In(loc)

	var best *time.Time
	for _, tod := range sc.TimesOfDay {
		spec, err := buildCronSpec(tod, sc.DaysOfWeek)
		if err != nil {
			return nil, err
		}
		sched, err := cron.ParseStandard(spec)
		if err != nil {
			return nil, fmt.Errorf("scheduler: parse cron spec %q: %w", spec, err)
		}
		next := sched.Next(localT).UTC()
		if best == nil || next.Before(*best) {
			best = &next
		}
	}
	return best, nil
}

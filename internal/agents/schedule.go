package agents

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/orca/internal/memory"
	"github.com/kalambet/orca/internal/worker"
)

const (
	defaultEventMinutes = 60
	workdayStartHour    = 9
	workdayEndHour      = 18
	maxSuggestions      = 3
)

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04",
	"2006-01-02T15:04",
	time.DateOnly,
}

// Event is a calendar entry stored under the calendar category.
type Event struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Attendees []string  `json:"attendees,omitempty"`
	Location  string    `json:"location,omitempty"`
}

func (e Event) overlaps(start, end time.Time) bool {
	return e.Start.Before(end) && start.Before(e.End)
}

// Slot is a free interval proposed by suggest_time.
type Slot struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// ScheduleWorker keeps a calendar in the knowledge store.
type ScheduleWorker struct {
	base
	store KnowledgeStore
	loc   *time.Location
}

// NewScheduleWorker creates the schedule worker.
func NewScheduleWorker(store KnowledgeStore) *ScheduleWorker {
	w := &ScheduleWorker{
		base:  base{id: worker.Schedule, logger: slog.Default()},
		store: store,
		loc:   time.Local,
	}
	w.handlers = worker.Handlers{
		worker.GetSchedule: w.getSchedule,
		worker.CreateEvent: w.createEvent,
		worker.SuggestTime: w.suggestTime,
	}
	return w
}

func (w *ScheduleWorker) parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, w.loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("time %q not understood (use YYYY-MM-DD HH:MM)", s)
}

// Events returns every stored event ordered by start time.
func (w *ScheduleWorker) Events() []Event {
	var events []Event
	for _, e := range w.store.SearchKnowledge("", CategoryCalendar) {
		var ev Event
		if err := decode(e.Value, &ev); err != nil {
			w.logger.Warn("skipping unreadable calendar entry", "key", e.Key, "error", err)
			continue
		}
		events = append(events, ev)
	}
	slices.SortFunc(events, func(a, b Event) int {
		return cmp.Or(a.Start.Compare(b.Start), cmp.Compare(a.ID, b.ID))
	})
	return events
}

func (w *ScheduleWorker) dateRange(st worker.Subtask) (time.Time, time.Time, error) {
	today := now().In(w.loc)
	start := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, w.loc)
	end := start.AddDate(0, 0, 7)
	if s := worker.String(st.Params, "start_date", ""); s != "" {
		t, err := w.parseTime(s)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		start = t
		end = start.AddDate(0, 0, 7)
	}
	if s := worker.String(st.Params, "end_date", ""); s != "" {
		t, err := w.parseTime(s)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		end = t
		if len(s) == len(time.DateOnly) {
			end = end.AddDate(0, 0, 1)
		}
	}
	if !end.After(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("end_date must be after start_date")
	}
	return start, end, nil
}

func (w *ScheduleWorker) getSchedule(_ context.Context, st worker.Subtask) worker.Outcome {
	start, end, err := w.dateRange(st)
	if err != nil {
		return worker.Failure("get_schedule: %v", err)
	}
	events := []Event{}
	for _, ev := range w.Events() {
		if ev.overlaps(start, end) {
			events = append(events, ev)
		}
	}
	return worker.Success(map[string]any{
		"start":  start,
		"end":    end,
		"events": events,
		"count":  len(events),
	})
}

func (w *ScheduleWorker) createEvent(_ context.Context, st worker.Subtask) worker.Outcome {
	when := worker.String(st.Params, "start", worker.String(st.Params, "when", ""))
	if when == "" {
		return worker.Failure("create_event: start time is required")
	}
	start, err := w.parseTime(when)
	if err != nil {
		return worker.Failure("create_event: %v", err)
	}
	minutes := worker.Int(st.Params, "duration", defaultEventMinutes)
	if minutes <= 0 {
		return worker.Failure("create_event: duration must be positive")
	}

	ev := Event{
		ID:        uuid.NewString(),
		Title:     worker.String(st.Params, "title", "Untitled event"),
		Start:     start,
		End:       start.Add(time.Duration(minutes) * time.Minute),
		Attendees: worker.Strings(st.Params, "attendees"),
		Location:  worker.String(st.Params, "location", ""),
	}

	conflicts := []Event{}
	for _, other := range w.Events() {
		if other.overlaps(ev.Start, ev.End) {
			conflicts = append(conflicts, other)
		}
	}

	persisted := true
	if err := w.store.SaveKnowledge(CategoryCalendar, ev.ID, ev); err != nil {
		var perr *memory.PersistenceError
		if !errors.As(err, &perr) {
			return worker.Failure("create_event: saving event: %v", err)
		}
		w.logger.Warn("event saved in memory only", "event", ev.ID, "error", err)
		persisted = false
	}
	return worker.Success(map[string]any{
		"event_id":  ev.ID,
		"event":     ev,
		"conflicts": conflicts,
		"persisted": persisted,
	})
}

// FreeSlots proposes up to limit working-hour slots of length d on day that
// do not overlap events.
func FreeSlots(day time.Time, d time.Duration, events []Event, limit int) []Slot {
	loc := day.Location()
	dayStart := time.Date(day.Year(), day.Month(), day.Day(), workdayStartHour, 0, 0, 0, loc)
	dayEnd := time.Date(day.Year(), day.Month(), day.Day(), workdayEndHour, 0, 0, 0, loc)

	slots := []Slot{}
	cursor := dayStart
	if day.After(cursor) {
		cursor = day.Truncate(30 * time.Minute)
		if cursor.Before(day) {
			cursor = cursor.Add(30 * time.Minute)
		}
	}
	for !cursor.Add(d).After(dayEnd) && len(slots) < limit {
		end := cursor.Add(d)
		blocked := false
		for _, ev := range events {
			if ev.overlaps(cursor, end) {
				blocked = true
				if ev.End.After(cursor) {
					cursor = ev.End
				}
				break
			}
		}
		if blocked {
			continue
		}
		slots = append(slots, Slot{Start: cursor, End: end})
		cursor = end
	}
	return slots
}

func (w *ScheduleWorker) suggestTime(_ context.Context, st worker.Subtask) worker.Outcome {
	minutes := worker.Int(st.Params, "duration", defaultEventMinutes)
	if minutes <= 0 {
		return worker.Failure("suggest_time: duration must be positive")
	}

	current := now().In(w.loc)
	day := time.Date(current.Year(), current.Month(), current.Day()+1, 0, 0, 0, 0, w.loc)
	if s := worker.String(st.Params, "date", worker.String(st.Params, "when", "")); s != "" {
		t, err := w.parseTime(s)
		if err != nil {
			return worker.Failure("suggest_time: %v", err)
		}
		day = t
	}

	slots := FreeSlots(day, time.Duration(minutes)*time.Minute, w.Events(), maxSuggestions)
	return worker.Success(map[string]any{
		"date":         day.Format(time.DateOnly),
		"duration":     minutes,
		"participants": worker.Strings(st.Params, "attendees"),
		"suggestions":  slots,
	})
}

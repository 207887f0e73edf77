package calendar

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"golang.org/x/oauth2"
	calendar "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"github.com/teemow/calendar-mcp/internal/google"
)

// DefaultMaxResults caps event listings when the caller sets no limit.
const DefaultMaxResults = 50

// slotStep is the granularity at which free slots are proposed.
const slotStep = 15 * time.Minute

// Client wraps the Google Calendar service for a single caller.
type Client struct {
	svc *calendar.Service
}

// NewClient creates a Calendar client acting as the caller of ctx. The
// caller's Google token is resolved once, up front, so that an
// unauthenticated caller fails before any API request is made and the
// provider's error is returned unchanged for errors.Is.
func NewClient(ctx context.Context, tokens google.TokenProvider, opts ...option.ClientOption) (*Client, error) {
	if tokens == nil {
		return nil, errors.New("token provider cannot be nil")
	}

	tok, err := tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get Google OAuth token: %w", err)
	}

	opts = append([]option.ClientOption{option.WithTokenSource(oauth2.StaticTokenSource(tok))}, opts...)
	svc, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Calendar service: %w", err)
	}

	return &Client{svc: svc}, nil
}

// ListCalendars lists all calendars accessible to the user
func (c *Client) ListCalendars(ctx context.Context) ([]CalendarInfo, error) {
	list, err := c.svc.CalendarList.List().Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to list calendars: %w", err)
	}

	calendars := make([]CalendarInfo, 0, len(list.Items))
	for _, entry := range list.Items {
		calendars = append(calendars, toCalendarInfo(entry))
	}
	return calendars, nil
}

// ListEvents lists events in a calendar within a time range. Recurring
// events are expanded into single instances and ordered by start time.
func (c *Client) ListEvents(ctx context.Context, calendarID string, q EventQuery) ([]EventSummary, error) {
	maxResults := q.MaxResults
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}

	call := c.svc.Events.List(calendarID).
		Context(ctx).
		TimeMin(q.TimeMin.Format(time.RFC3339)).
		TimeMax(q.TimeMax.Format(time.RFC3339)).
		SingleEvents(true).
		OrderBy("startTime").
		MaxResults(int64(maxResults))

	if q.Query != "" {
		call = call.Q(q.Query)
	}

	events, err := call.Do()
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}

	summaries := make([]EventSummary, 0, len(events.Items))
	for _, event := range events.Items {
		summaries = append(summaries, toEventSummary(event))
	}
	return summaries, nil
}

// GetEvent retrieves a specific event by ID
func (c *Client) GetEvent(ctx context.Context, calendarID, eventID string) (*EventSummary, error) {
	event, err := c.svc.Events.Get(calendarID, eventID).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to get event: %w", err)
	}

	summary := toEventSummary(event)
	return &summary, nil
}

// CreateEvent creates a new calendar event
func (c *Client) CreateEvent(ctx context.Context, calendarID string, input EventInput) (*EventSummary, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}

	event := &calendar.Event{
		Summary:     input.Summary,
		Description: input.Description,
		Location:    input.Location,
		Start:       eventDateTime(input.Start, input.AllDay, input.TimeZone),
		End:         eventDateTime(input.End, input.AllDay, input.TimeZone),
		Recurrence:  input.Recurrence,
	}

	for _, email := range input.Attendees {
		event.Attendees = append(event.Attendees, &calendar.EventAttendee{Email: email})
	}

	call := c.svc.Events.Insert(calendarID, event).Context(ctx)
	if input.AddMeet {
		event.ConferenceData = &calendar.ConferenceData{
			CreateRequest: &calendar.CreateConferenceRequest{
				RequestId: fmt.Sprintf("meet-%d", time.Now().UnixNano()),
			},
		}
		call = call.ConferenceDataVersion(1)
	}
	if len(input.Attendees) > 0 {
		call = call.SendUpdates("all")
	}

	created, err := call.Do()
	if err != nil {
		return nil, fmt.Errorf("failed to create event: %w", err)
	}

	summary := toEventSummary(created)
	return &summary, nil
}

// DeleteEvent deletes a calendar event
func (c *Client) DeleteEvent(ctx context.Context, calendarID, eventID string) error {
	if err := c.svc.Events.Delete(calendarID, eventID).Context(ctx).Do(); err != nil {
		return fmt.Errorf("failed to delete event: %w", err)
	}
	return nil
}

// QueryFreeBusy checks availability for calendars in a time range
func (c *Client) QueryFreeBusy(ctx context.Context, timeMin, timeMax time.Time, calendarIDs []string) ([]FreeBusyInfo, error) {
	items := make([]*calendar.FreeBusyRequestItem, len(calendarIDs))
	for i, id := range calendarIDs {
		items[i] = &calendar.FreeBusyRequestItem{Id: id}
	}

	result, err := c.svc.Freebusy.Query(&calendar.FreeBusyRequest{
		TimeMin: timeMin.Format(time.RFC3339),
		TimeMax: timeMax.Format(time.RFC3339),
		Items:   items,
	}).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to query freebusy: %w", err)
	}

	infos := make([]FreeBusyInfo, 0, len(result.Calendars))
	for calID, cal := range result.Calendars {
		info := FreeBusyInfo{Calendar: calID}
		for _, busy := range cal.Busy {
			start, errStart := time.Parse(time.RFC3339, busy.Start)
			end, errEnd := time.Parse(time.RFC3339, busy.End)
			if errStart != nil || errEnd != nil {
				continue
			}
			info.Busy = append(info.Busy, TimeRange{Start: start, End: end})
		}
		for _, e := range cal.Errors {
			info.Errors = append(info.Errors, e.Reason)
		}
		infos = append(infos, info)
	}

	// The API returns a map; keep the output stable.
	sort.Slice(infos, func(i, j int) bool { return infos[i].Calendar < infos[j].Calendar })
	return infos, nil
}

// FindAvailableSlots returns slots of the given duration within the range
// in which none of the calendars is busy.
func (c *Client) FindAvailableSlots(ctx context.Context, calendarIDs []string, duration time.Duration, timeMin, timeMax time.Time) ([]AvailableSlot, error) {
	infos, err := c.QueryFreeBusy(ctx, timeMin, timeMax, calendarIDs)
	if err != nil {
		return nil, err
	}

	var busy []TimeRange
	for _, info := range infos {
		busy = append(busy, info.Busy...)
	}
	return findSlots(busy, duration, timeMin, timeMax), nil
}

// findSlots merges the busy ranges and proposes back-to-back slots of the
// given duration in every gap, aligned to slotStep from the gap start.
func findSlots(busy []TimeRange, duration time.Duration, timeMin, timeMax time.Time) []AvailableSlot {
	if duration <= 0 || !timeMin.Before(timeMax) {
		return nil
	}

	merged := mergeRanges(busy)

	var slots []AvailableSlot
	cursor := timeMin
	propose := func(gapEnd time.Time) {
		for t := cursor; !t.Add(duration).After(gapEnd); t = t.Add(slotStep) {
			slots = append(slots, AvailableSlot{Start: t, End: t.Add(duration), Duration: duration})
		}
	}

	for _, r := range merged {
		if !r.End.After(cursor) {
			continue
		}
		if r.Start.After(cursor) {
			propose(minTime(r.Start, timeMax))
		}
		cursor = r.End
		if !cursor.Before(timeMax) {
			return slots
		}
	}
	propose(timeMax)
	return slots
}

// mergeRanges sorts ranges by start and joins overlapping or touching ones.
func mergeRanges(ranges []TimeRange) []TimeRange {
	if len(ranges) == 0 {
		return nil
	}
	sorted := append([]TimeRange(nil), ranges...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start.Before(sorted[j].Start) })

	merged := []TimeRange{sorted[0]}
	for _, r := range sorted[1:] {
		last := &merged[len(merged)-1]
		if r.Start.After(last.End) {
			merged = append(merged, r)
			continue
		}
		if r.End.After(last.End) {
			last.End = r.End
		}
	}
	return merged
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}

func eventDateTime(t time.Time, allDay bool, tz string) *calendar.EventDateTime {
	if allDay {
		return &calendar.EventDateTime{Date: t.Format(dateLayout)}
	}
	if tz == "" {
		tz = "UTC"
	}
	return &calendar.EventDateTime{DateTime: t.Format(time.RFC3339), TimeZone: tz}
}

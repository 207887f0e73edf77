package calendar

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/oauth2"
	calendarapi "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"github.com/teemow/calendar-mcp/internal/google"
)

// fakeCalendarAPI answers the handful of Calendar v3 endpoints the client
// uses and records what it received.
type fakeCalendarAPI struct {
	mu       sync.Mutex
	auth     []string
	inserted *calendarapi.Event
	deleted  string
	query    string
}

func (f *fakeCalendarAPI) handler() http.Handler {
	mux := http.NewServeMux()
	writeJSON := func(w http.ResponseWriter, v any) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(v)
	}
	record := func(r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.auth = append(f.auth, r.Header.Get("Authorization"))
	}

	mux.HandleFunc("GET /users/me/calendarList", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		writeJSON(w, calendarapi.CalendarList{Items: []*calendarapi.CalendarListEntry{
			{Id: "primary-id", Summary: "Me", Primary: true, AccessRole: "owner", TimeZone: "Europe/Berlin"},
			{Id: "team@group.calendar.google.com", Summary: "Team", AccessRole: "reader"},
		}})
	})
	mux.HandleFunc("GET /calendars/{cal}/events", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		f.mu.Lock()
		f.query = r.URL.RawQuery
		f.mu.Unlock()
		writeJSON(w, calendarapi.Events{Items: []*calendarapi.Event{
			{
				Id:      "evt-1",
				Summary: "Standup",
				Start:   &calendarapi.EventDateTime{DateTime: "2026-03-02T09:00:00Z"},
				End:     &calendarapi.EventDateTime{DateTime: "2026-03-02T09:15:00Z"},
				ConferenceData: &calendarapi.ConferenceData{EntryPoints: []*calendarapi.EntryPoint{
					{EntryPointType: "phone", Uri: "tel:+1"},
					{EntryPointType: "video", Uri: "https://meet.google.com/abc"},
				}},
			},
			{
				Id:      "evt-2",
				Summary: "Offsite",
				Start:   &calendarapi.EventDateTime{Date: "2026-03-03"},
				End:     &calendarapi.EventDateTime{Date: "2026-03-04"},
			},
		}})
	})
	mux.HandleFunc("GET /calendars/{cal}/events/{id}", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		if r.PathValue("id") != "evt-1" {
			w.WriteHeader(http.StatusNotFound)
			writeJSON(w, map[string]any{"error": map[string]any{"code": 404, "message": "Not Found"}})
			return
		}
		writeJSON(w, calendarapi.Event{Id: "evt-1", Summary: "Standup",
			Organizer: &calendarapi.EventOrganizer{Email: "boss@example.com"}})
	})
	mux.HandleFunc("POST /calendars/{cal}/events", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		var ev calendarapi.Event
		_ = json.NewDecoder(r.Body).Decode(&ev)
		f.mu.Lock()
		f.inserted = &ev
		f.query = r.URL.RawQuery
		f.mu.Unlock()
		ev.Id = "created-1"
		writeJSON(w, ev)
	})
	mux.HandleFunc("DELETE /calendars/{cal}/events/{id}", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		f.mu.Lock()
		f.deleted = r.PathValue("cal") + "/" + r.PathValue("id")
		f.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("POST /freeBusy", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		writeJSON(w, calendarapi.FreeBusyResponse{Calendars: map[string]calendarapi.FreeBusyCalendar{
			"b@example.com": {Busy: []*calendarapi.TimePeriod{{Start: "2026-03-02T10:00:00Z", End: "2026-03-02T11:00:00Z"}}},
			"a@example.com": {Busy: []*calendarapi.TimePeriod{{Start: "2026-03-02T09:00:00Z", End: "2026-03-02T09:30:00Z"}}},
		}})
	})
	return mux
}

func newTestClient(t *testing.T) (*Client, *fakeCalendarAPI) {
	t.Helper()
	api := &fakeCalendarAPI{}
	srv := httptest.NewServer(api.handler())
	t.Cleanup(srv.Close)

	tokens := google.NewStaticTokenProvider(&oauth2.Token{AccessToken: "ya29.caller", TokenType: "Bearer"})
	client, err := NewClient(context.Background(), tokens, option.WithEndpoint(srv.URL+"/"))
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	return client, api
}

func TestNewClient_NoToken(t *testing.T) {
	_, err := NewClient(context.Background(), google.NewStaticTokenProvider(nil))
	if !errors.Is(err, google.ErrNoToken) {
		t.Fatalf("NewClient() error = %v, want ErrNoToken", err)
	}

	if _, err := NewClient(context.Background(), nil); err == nil {
		t.Fatal("NewClient(nil provider) expected error")
	}
}

func TestClient_ListCalendars(t *testing.T) {
	client, api := newTestClient(t)

	cals, err := client.ListCalendars(context.Background())
	if err != nil {
		t.Fatalf("ListCalendars() error = %v", err)
	}
	if len(cals) != 2 {
		t.Fatalf("got %d calendars, want 2", len(cals))
	}
	if !cals[0].Primary || cals[0].AccessRole != "owner" {
		t.Errorf("first calendar = %+v", cals[0])
	}
	if api.auth[0] != "Bearer ya29.caller" {
		t.Errorf("Authorization = %q, want the caller's token", api.auth[0])
	}
}

func TestClient_ListEvents(t *testing.T) {
	client, api := newTestClient(t)

	from := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	events, err := client.ListEvents(context.Background(), "primary", EventQuery{
		TimeMin: from,
		TimeMax: from.AddDate(0, 0, 7),
		Query:   "standup",
	})
	if err != nil {
		t.Fatalf("ListEvents() error = %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].MeetLink != "https://meet.google.com/abc" {
		t.Errorf("MeetLink = %q", events[0].MeetLink)
	}
	if events[0].AllDay || !events[1].AllDay {
		t.Errorf("AllDay = %v, %v; want false, true", events[0].AllDay, events[1].AllDay)
	}
	for _, want := range []string{"singleEvents=true", "orderBy=startTime", "q=standup", "maxResults=50"} {
		if !strings.Contains(api.query, want) {
			t.Errorf("query %q missing %q", api.query, want)
		}
	}
}

func TestClient_GetEvent(t *testing.T) {
	client, _ := newTestClient(t)

	ev, err := client.GetEvent(context.Background(), "primary", "evt-1")
	if err != nil {
		t.Fatalf("GetEvent() error = %v", err)
	}
	if ev.Organizer != "boss@example.com" {
		t.Errorf("Organizer = %q", ev.Organizer)
	}

	if _, err := client.GetEvent(context.Background(), "primary", "missing"); err == nil {
		t.Error("GetEvent(missing) expected error")
	}
}

func TestClient_CreateEvent(t *testing.T) {
	client, api := newTestClient(t)

	start := time.Date(2026, 3, 5, 14, 0, 0, 0, time.UTC)
	ev, err := client.CreateEvent(context.Background(), "primary", EventInput{
		Summary:   "Planning",
		Start:     start,
		End:       start.Add(time.Hour),
		TimeZone:  "Europe/Berlin",
		Attendees: []string{"a@example.com"},
		AddMeet:   true,
	})
	if err != nil {
		t.Fatalf("CreateEvent() error = %v", err)
	}
	if ev.ID != "created-1" {
		t.Errorf("ID = %q", ev.ID)
	}
	if api.inserted.Start.TimeZone != "Europe/Berlin" || api.inserted.Start.DateTime != "2026-03-05T14:00:00Z" {
		t.Errorf("start = %+v", api.inserted.Start)
	}
	if api.inserted.ConferenceData == nil || api.inserted.ConferenceData.CreateRequest == nil {
		t.Error("expected a conference create request")
	}
	for _, want := range []string{"conferenceDataVersion=1", "sendUpdates=all"} {
		if !strings.Contains(api.query, want) {
			t.Errorf("query %q missing %q", api.query, want)
		}
	}
}

func TestClient_CreateEvent_Invalid(t *testing.T) {
	client, api := newTestClient(t)

	_, err := client.CreateEvent(context.Background(), "primary", EventInput{Summary: "x"})
	if err == nil {
		t.Fatal("expected validation error")
	}
	if api.inserted != nil {
		t.Error("invalid input must not reach the API")
	}
}

func TestClient_DeleteEvent(t *testing.T) {
	client, api := newTestClient(t)

	if err := client.DeleteEvent(context.Background(), "primary", "evt-1"); err != nil {
		t.Fatalf("DeleteEvent() error = %v", err)
	}
	if api.deleted != "primary/evt-1" {
		t.Errorf("deleted = %q", api.deleted)
	}
}

func TestClient_QueryFreeBusy_Sorted(t *testing.T) {
	client, _ := newTestClient(t)

	from := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	infos, err := client.QueryFreeBusy(context.Background(), from, from.Add(8*time.Hour), []string{"a@example.com", "b@example.com"})
	if err != nil {
		t.Fatalf("QueryFreeBusy() error = %v", err)
	}
	if len(infos) != 2 || infos[0].Calendar != "a@example.com" {
		t.Fatalf("infos = %+v", infos)
	}
	if len(infos[1].Busy) != 1 || infos[1].Busy[0].Start.Hour() != 10 {
		t.Errorf("busy = %+v", infos[1].Busy)
	}
}

func TestClient_FindAvailableSlots(t *testing.T) {
	client, _ := newTestClient(t)

	from := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	slots, err := client.FindAvailableSlots(context.Background(), []string{"a@example.com", "b@example.com"}, time.Hour, from, from.Add(3*time.Hour))
	if err != nil {
		t.Fatalf("FindAvailableSlots() error = %v", err)
	}
	// Busy 09:00-09:30 and 10:00-11:00; the only free hour is 11:00-12:00.
	if len(slots) != 1 || slots[0].Start.Hour() != 11 {
		t.Errorf("slots = %+v", slots)
	}
}

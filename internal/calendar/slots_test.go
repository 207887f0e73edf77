package calendar

import (
	"testing"
	"time"
)

func TestFindSlots(t *testing.T) {
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	at := func(h, m int) time.Time { return day.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute) }

	tests := []struct {
		name      string
		busy      []TimeRange
		duration  time.Duration
		from, to  time.Time
		wantStart []time.Time
	}{
		{
			name:      "no busy time",
			duration:  30 * time.Minute,
			from:      at(9, 0),
			to:        at(10, 0),
			wantStart: []time.Time{at(9, 0), at(9, 15), at(9, 30)},
		},
		{
			name:      "overlapping busy ranges are merged",
			busy:      []TimeRange{{at(9, 0), at(10, 0)}, {at(9, 30), at(11, 0)}},
			duration:  time.Hour,
			from:      at(9, 0),
			to:        at(12, 0),
			wantStart: []time.Time{at(11, 0)},
		},
		{
			name:      "gap too short",
			busy:      []TimeRange{{at(9, 0), at(9, 45)}, {at(10, 15), at(11, 0)}},
			duration:  time.Hour,
			from:      at(9, 0),
			to:        at(11, 0),
			wantStart: nil,
		},
		{
			name:      "unsorted input",
			busy:      []TimeRange{{at(11, 0), at(12, 0)}, {at(9, 0), at(10, 0)}},
			duration:  time.Hour,
			from:      at(9, 0),
			to:        at(12, 0),
			wantStart: []time.Time{at(10, 0)},
		},
		{
			name:      "busy range extends past the window",
			busy:      []TimeRange{{at(10, 0), at(13, 0)}},
			duration:  30 * time.Minute,
			from:      at(9, 0),
			to:        at(12, 0),
			wantStart: []time.Time{at(9, 0), at(9, 15), at(9, 30)},
		},
		{
			name:     "zero duration",
			duration: 0,
			from:     at(9, 0),
			to:       at(10, 0),
		},
		{
			name:     "empty window",
			duration: time.Hour,
			from:     at(10, 0),
			to:       at(9, 0),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			slots := findSlots(tt.busy, tt.duration, tt.from, tt.to)
			if len(slots) != len(tt.wantStart) {
				t.Fatalf("got %d slots %+v, want %d", len(slots), slots, len(tt.wantStart))
			}
			for i, s := range slots {
				if !s.Start.Equal(tt.wantStart[i]) {
					t.Errorf("slot %d starts %s, want %s", i, s.Start.Format(time.Kitchen), tt.wantStart[i].Format(time.Kitchen))
				}
				if !s.End.Equal(s.Start.Add(tt.duration)) {
					t.Errorf("slot %d ends %s", i, s.End)
				}
			}
		})
	}
}

func TestEventInput_Validate(t *testing.T) {
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		input   EventInput
		wantErr bool
	}{
		{name: "valid", input: EventInput{Summary: "x", Start: start, End: start.Add(time.Hour)}},
		{name: "missing summary", input: EventInput{Start: start, End: start.Add(time.Hour)}, wantErr: true},
		{name: "missing end", input: EventInput{Summary: "x", Start: start}, wantErr: true},
		{name: "end before start", input: EventInput{Summary: "x", Start: start, End: start.Add(-time.Hour)}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.input.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

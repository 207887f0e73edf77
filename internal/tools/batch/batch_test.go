package batch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"
)

func TestParseStringOrArray(t *testing.T) {
	tooMany := make([]any, MaxItems+1)
	for i := range tooMany {
		tooMany[i] = fmt.Sprintf("id%d", i)
	}

	tests := []struct {
		name    string
		input   any
		want    []string
		wantErr bool
	}{
		{name: "single string", input: "evt1", want: []string{"evt1"}},
		{name: "array of strings", input: []any{"id1", "id2", "id3"}, want: []string{"id1", "id2", "id3"}},
		{name: "string slice", input: []string{"id1", "id2"}, want: []string{"id1", "id2"}},
		{name: "duplicates dropped", input: []any{"id1", "id2", "id1"}, want: []string{"id1", "id2"}},
		{name: "nil input", input: nil, wantErr: true},
		{name: "empty string", input: "", wantErr: true},
		{name: "empty array", input: []any{}, wantErr: true},
		{name: "array with empty string", input: []any{"id1", ""}, wantErr: true},
		{name: "array with non-string", input: []any{"id1", 123}, wantErr: true},
		{name: "invalid type", input: 123, wantErr: true},
		{name: "too many items", input: tooMany, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseStringOrArray(tt.input, "eventIds")
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseStringOrArray() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if fmt.Sprint(got) != fmt.Sprint(tt.want) {
				t.Errorf("ParseStringOrArray() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFormatResults(t *testing.T) {
	results := []Result{
		NewSuccessResult("id1", "deleted"),
		NewErrorResult("id2", errors.New("not found")),
		NewSuccessResult("id3", "deleted"),
	}

	var br BatchResult
	if err := json.Unmarshal([]byte(FormatResults(results)), &br); err != nil {
		t.Fatalf("Failed to parse output JSON: %v", err)
	}

	if br.Total != 3 || br.Successful != 2 || br.Failed != 1 {
		t.Errorf("summary = %d/%d/%d, want 3/2/1", br.Total, br.Successful, br.Failed)
	}
	if br.Results[1].Error != "not found" {
		t.Errorf("Results[1].Error = %q", br.Results[1].Error)
	}
}

func TestProcessBatch(t *testing.T) {
	ids := []string{"id1", "id2", "id3", "id4", "id5"}

	var inFlight, maxInFlight atomic.Int32
	fn := func(_ context.Context, id string) (string, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			m := maxInFlight.Load()
			if n <= m || maxInFlight.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)

		if id == "id2" {
			return "", errors.New("failed to process id2")
		}
		return "processed " + id, nil
	}

	results := ProcessBatch(context.Background(), ids, 2, fn)

	if len(results) != len(ids) {
		t.Fatalf("len(results) = %d, want %d", len(results), len(ids))
	}
	for i, r := range results {
		if r.ID != ids[i] {
			t.Errorf("results[%d].ID = %s, want %s", i, r.ID, ids[i])
		}
	}
	if results[1].Status != StatusError || results[1].Error != "failed to process id2" {
		t.Errorf("results[1] = %+v", results[1])
	}
	if results[2].Status != StatusSuccess || results[2].Result != "processed id3" {
		t.Errorf("results[2] = %+v", results[2])
	}
	if got := maxInFlight.Load(); got > 2 {
		t.Errorf("max concurrency = %d, want <= 2", got)
	}
}

func TestProcessBatch_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	results := ProcessBatch(ctx, []string{"id1"}, 1, func(context.Context, string) (string, error) {
		called = true
		return "", nil
	})

	if called {
		t.Error("fn should not run after cancellation")
	}
	if results[0].Status != StatusError {
		t.Errorf("status = %s, want error", results[0].Status)
	}
}

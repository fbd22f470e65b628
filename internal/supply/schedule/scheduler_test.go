package schedule

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
)

func TestMarkDirtyPurgesAndDedupes(t *testing.T) {
	var purged []string
	s := New(func(team string) { purged = append(purged, team) })
	s.MarkDirty("red")
	s.MarkDirty("blue")
	s.MarkDirty("red")
	s.MarkDirty("")

	if !reflect.DeepEqual(purged, []string{"red", "blue", "red"}) {
		t.Fatalf("purged: %v", purged)
	}
	if got := s.Pending(); !reflect.DeepEqual(got, []string{"blue", "red"}) {
		t.Fatalf("pending: %v", got)
	}
}

func TestFlushRunsEachTeamOnce(t *testing.T) {
	s := New(nil)
	for i := 0; i < 500; i++ {
		s.MarkDirty("red")
	}
	s.MarkDirty("blue")

	var ran []string
	err := s.Flush(context.Background(), func(_ context.Context, team string) error {
		ran = append(ran, team)
		return nil
	})
	if err != nil {
		t.Fatalf("flush: %v", err)
	}
	if !reflect.DeepEqual(ran, []string{"blue", "red"}) {
		t.Fatalf("ran: %v", ran)
	}
	if len(s.Pending()) != 0 {
		t.Fatalf("pending after flush: %v", s.Pending())
	}

	ran = nil
	if err := s.Flush(context.Background(), func(_ context.Context, team string) error {
		ran = append(ran, team)
		return nil
	}); err != nil || len(ran) != 0 {
		t.Fatalf("empty flush should be a no-op: %v %v", ran, err)
	}
}

func TestFlushJoinsErrors(t *testing.T) {
	s := New(nil)
	s.MarkDirty("red")
	s.MarkDirty("blue")
	boom := errors.New("boom")
	err := s.Flush(context.Background(), func(_ context.Context, team string) error {
		if team == "red" {
			return boom
		}
		return nil
	})
	if !errors.Is(err, boom) || !strings.Contains(err.Error(), "recalculate red") {
		t.Fatalf("err: %v", err)
	}
	if len(s.Pending()) != 0 {
		t.Fatalf("failed team should not be re-queued")
	}
}

func TestDirtyDuringFlushStaysPending(t *testing.T) {
	s := New(nil)
	s.MarkDirty("red")
	_ = s.Flush(context.Background(), func(_ context.Context, team string) error {
		s.MarkDirty(team)
		return nil
	})
	if got := s.Pending(); !reflect.DeepEqual(got, []string{"red"}) {
		t.Fatalf("pending: %v", got)
	}
}

func TestCancelledFlushKeepsTeams(t *testing.T) {
	s := New(nil)
	s.MarkDirty("red")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := s.Flush(ctx, func(context.Context, string) error {
		t.Fatalf("must not run")
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err: %v", err)
	}
	if got := s.Pending(); !reflect.DeepEqual(got, []string{"red"}) {
		t.Fatalf("pending: %v", got)
	}
}

package dashboard

import (
	"fmt"
	"testing"
	"time"

	"github.com/goodtune/labportal/internal/identity"
	"github.com/goodtune/labportal/internal/labstats"
)

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		seconds int64
		want    string
	}{
		{0, "0s"},
		{1, "1s"},
		{59, "59s"},
		{60, "1m 0s"},
		{61, "1m 1s"},
		{3599, "59m 59s"},
		{3600, "1h 0m 0s"},
		{3661, "1h 1m 1s"},
		{90061, "25h 1m 1s"},
		{-5, "0s"},
	}

	for _, tt := range tests {
		if got := FormatDuration(tt.seconds); got != tt.want {
			t.Errorf("FormatDuration(%d) = %q, want %q", tt.seconds, got, tt.want)
		}
	}
}

func TestFormatDurationUnits(t *testing.T) {
	for s := int64(0); s < 3*3600; s += 7 {
		var h, m, sec int64
		got := FormatDuration(s)
		switch {
		case s >= 3600:
			if _, err := fmt.Sscanf(got, "%dh %dm %ds", &h, &m, &sec); err != nil {
				t.Fatalf("%d: %q: %v", s, got, err)
			}
		case s >= 60:
			if _, err := fmt.Sscanf(got, "%dm %ds", &m, &sec); err != nil {
				t.Fatalf("%d: %q: %v", s, got, err)
			}
		default:
			if _, err := fmt.Sscanf(got, "%ds", &sec); err != nil {
				t.Fatalf("%d: %q: %v", s, got, err)
			}
		}
		if h != s/3600 || m != (s%3600)/60 || sec != s%60 {
			t.Fatalf("%d rendered as %q", s, got)
		}
	}
}

func TestAverage(t *testing.T) {
	if got := Average(nil); got != ZeroAverage {
		t.Errorf("expected %q for no labs, got %q", ZeroAverage, got)
	}

	records := []labstats.Record{
		{LabName: "Stacks", Category: "Data Structures", TimeSpent: 10},
		{LabName: "Queues", Category: "Data Structures", TimeSpent: 5},
	}
	// 15 / 2 floors to 7
	if got := Average(records); got != "7s" {
		t.Errorf("expected 7s, got %q", got)
	}
	if got := Total(records); got != 15 {
		t.Errorf("expected total 15, got %d", got)
	}
}

func TestBuild(t *testing.T) {
	user := identity.Record{
		ID:       "u1",
		Username: "alice",
		Email:    "alice@example.com",
		Created:  time.Date(2024, 1, 15, 8, 30, 0, 0, time.UTC),
	}
	records := []labstats.Record{
		{LabName: "Stacks", Category: "Data Structures", TimeSpent: 3725, LastAccessed: "2024-03-01T09:00:12.000Z"},
		{LabName: "Queues", Category: "Data Structures", TimeSpent: 30, LastAccessed: "garbage"},
	}

	s := Build(user, records)

	if s.Profile.Initial != "A" || s.Profile.MemberSince != "2024-01-15" {
		t.Errorf("unexpected profile %+v", s.Profile)
	}
	if s.LabCount != 2 || s.TotalSeconds != 3755 || s.Total != "1h 2m 35s" {
		t.Errorf("unexpected totals %+v", s)
	}
	if s.Average != "31m 17s" {
		t.Errorf("expected average 31m 17s, got %q", s.Average)
	}
	if s.Empty {
		t.Error("expected non-empty summary")
	}
	if len(s.Rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(s.Rows))
	}
	if s.Rows[0].TimeSpent != "1h 2m 5s" || s.Rows[0].LastAccessed != "2024-03-01" || s.Rows[0].Status != "Completed" {
		t.Errorf("unexpected first row %+v", s.Rows[0])
	}
	if s.Rows[1].LastAccessed != "" {
		t.Errorf("expected blank date for bad timestamp, got %q", s.Rows[1].LastAccessed)
	}
	if records[0].TimeSpent != 3725 {
		t.Error("records were modified")
	}

	empty := Build(user, nil)
	if !empty.Empty || empty.Average != ZeroAverage || empty.Total != "0s" {
		t.Errorf("unexpected empty summary %+v", empty)
	}
}

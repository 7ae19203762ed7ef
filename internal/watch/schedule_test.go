package watch

import (
	"testing"
	"time"
)

func TestParseSchedule(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in      string
		kind    string
		every   time.Duration
		wantErr bool
	}{
		{in: "0 18 * * *", kind: "cron"},
		{in: "*/30 * * * * *", kind: "cron"},
		{in: "@daily", kind: "cron"},
		{in: "@every 6h", kind: "cron", every: 6 * time.Hour},
		{in: DefaultSchedule, kind: "cron", every: 24 * time.Hour},
		{in: "cron:*/5 * * * *", kind: "cron"},
		{in: "24h", kind: "interval", every: 24 * time.Hour},
		{in: "02:30", kind: "interval", every: 2*time.Hour + 30*time.Minute},
		{in: "interval:90m", kind: "interval", every: 90 * time.Minute},
		{in: "EVERY:00:05", kind: "interval", every: 5 * time.Minute},
		{in: "", wantErr: true},
		{in: "cron:", wantErr: true},
		{in: "61 * * * *", wantErr: true},
		{in: "nonsense", wantErr: true},
		{in: "00:75", wantErr: true},
		{in: "-5m", wantErr: true},
		{in: "500ms", wantErr: true},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.in, func(t *testing.T) {
			t.Parallel()
			got, err := ParseSchedule(tc.in)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("err=%v", err)
			}
			if got.Kind != tc.kind || got.Every != tc.every {
				t.Fatalf("got kind=%s every=%v, want %s %v", got.Kind, got.Every, tc.kind, tc.every)
			}
			now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
			if next := got.Next(now); !next.After(now) {
				t.Fatalf("next=%v not after %v", next, now)
			}
		})
	}
}

func TestScheduleNextDailyCron(t *testing.T) {
	t.Parallel()

	s, err := ParseSchedule("0 18 * * *")
	if err != nil {
		t.Fatal(err)
	}
	now := time.Date(2026, 3, 10, 19, 0, 0, 0, time.UTC)
	want := time.Date(2026, 3, 11, 18, 0, 0, 0, time.UTC)
	if got := s.Next(now); !got.Equal(want) {
		t.Fatalf("next=%v want %v", got, want)
	}
}

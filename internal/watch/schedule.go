package watch

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

const DefaultSchedule = "@every 24h"

// cronParser accepts 5-field and 6-field (leading seconds) specs plus
// descriptors like "@daily" and "@every 1h".
var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

var reHHMM = regexp.MustCompile(`^(\d{1,3}):(\d{2})$`)

// Schedule is a parsed watch schedule.
//
// Accepted forms:
//   - cron: "0 18 * * *", "*/30 * * * * *", "@daily", "@every 6h"
//   - Go duration: "24h", "90m"
//   - HH:MM interval: "02:30" is every 2h30m
//
// "cron:" forces cron parsing; "interval:" and "every:" force an interval.
type Schedule struct {
	Raw   string
	Kind  string // "cron" | "interval"
	Every time.Duration

	sched cron.Schedule
}

func ParseSchedule(raw string) (Schedule, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Schedule{}, fmt.Errorf("schedule required")
	}
	low := strings.ToLower(s)

	switch {
	case strings.HasPrefix(low, "cron:"):
		return parseCron(raw, strings.TrimSpace(s[len("cron:"):]))
	case strings.HasPrefix(low, "interval:"):
		return parseEvery(raw, strings.TrimSpace(s[len("interval:"):]))
	case strings.HasPrefix(low, "every:"):
		return parseEvery(raw, strings.TrimSpace(s[len("every:"):]))
	case strings.HasPrefix(s, "@") || strings.ContainsAny(s, " \t"):
		return parseCron(raw, s)
	default:
		sch, err := parseEvery(raw, s)
		if err != nil {
			return Schedule{}, fmt.Errorf("invalid schedule %q (use cron like '0 18 * * *', HH:MM like '02:30', or a duration like '24h')", raw)
		}
		return sch, nil
	}
}

func parseCron(raw, expr string) (Schedule, error) {
	if expr == "" {
		return Schedule{}, fmt.Errorf("cron expression required")
	}
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return Schedule{}, fmt.Errorf("invalid cron %q: %w", expr, err)
	}
	sch := Schedule{Raw: raw, Kind: "cron", sched: sched}
	if c, ok := sched.(cron.ConstantDelaySchedule); ok {
		sch.Every = c.Delay
	}
	return sch, nil
}

func parseEvery(raw, v string) (Schedule, error) {
	d, err := parseInterval(v)
	if err != nil {
		return Schedule{}, err
	}
	return Schedule{Raw: raw, Kind: "interval", Every: d, sched: cron.Every(d)}, nil
}

func parseInterval(v string) (time.Duration, error) {
	if v == "" {
		return 0, fmt.Errorf("interval required")
	}
	var d time.Duration
	if m := reHHMM.FindStringSubmatch(v); m != nil {
		hh, _ := strconv.Atoi(m[1])
		mm, _ := strconv.Atoi(m[2])
		if mm > 59 {
			return 0, fmt.Errorf("invalid minutes in %q", v)
		}
		d = time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute
	} else {
		var err error
		if d, err = time.ParseDuration(v); err != nil {
			return 0, fmt.Errorf("invalid interval %q (use HH:MM or a duration like '24h')", v)
		}
	}
	if d < time.Second {
		return 0, fmt.Errorf("interval must be at least 1s")
	}
	return d, nil
}

// Next returns the first activation after t, or the zero time for an
// unparsed Schedule.
func (s Schedule) Next(t time.Time) time.Time {
	if s.sched == nil {
		return time.Time{}
	}
	return s.sched.Next(t)
}

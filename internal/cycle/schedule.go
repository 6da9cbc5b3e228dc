package cycle

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

type SpecKind int

const (
	SpecCron SpecKind = iota
	SpecInterval
)

// Spec is a parsed cycle schedule.
//
// Accepted forms:
//   - cron: "0 * * * *", "*/30 * * * *", "@hourly", "@every 45m"
//   - Go duration interval: "60m", "1h30m"
//   - HH:MM interval: "01:00" (every hour), "00:45"
//
// "cron:" and "interval:"/"every:" prefixes force the kind.
type Spec struct {
	Kind   SpecKind
	Cron   string
	Every  time.Duration
	Source string // cron | duration | hhmm
	Raw    string
}

func (s Spec) String() string {
	if s.Kind == SpecInterval {
		return "every " + s.Every.String()
	}
	return s.Cron
}

var (
	reHHMM     = regexp.MustCompile(`^\s*(\d{1,3}):(\d{2})\s*$`)
	cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
)

// minInterval keeps a typo like "1s" from hammering every source.
const minInterval = time.Minute

// ParseSchedule parses and validates a schedule string.
func ParseSchedule(raw string) (Spec, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Spec{}, fmt.Errorf("schedule required")
	}
	low := strings.ToLower(s)

	switch {
	case strings.HasPrefix(low, "cron:"):
		return parseCron(raw, strings.TrimSpace(s[len("cron:"):]))
	case strings.HasPrefix(low, "interval:"):
		return parseInterval(raw, s[len("interval:"):])
	case strings.HasPrefix(low, "every:"):
		return parseInterval(raw, s[len("every:"):])
	case strings.ContainsAny(s, " \t") || strings.HasPrefix(s, "@"):
		return parseCron(raw, s)
	}
	sp, err := parseInterval(raw, s)
	if err != nil {
		return Spec{}, fmt.Errorf(
			"invalid schedule %q (use cron like '0 * * * *', HH:MM like '01:00', or duration like '60m')",
			raw,
		)
	}
	return sp, nil
}

func parseCron(raw, expr string) (Spec, error) {
	if expr == "" {
		return Spec{}, fmt.Errorf("cron expression required")
	}
	if _, err := cronParser.Parse(expr); err != nil {
		return Spec{}, fmt.Errorf("invalid cron %q: %w", expr, err)
	}
	return Spec{Kind: SpecCron, Cron: expr, Source: "cron", Raw: raw}, nil
}

func parseInterval(raw, v string) (Spec, error) {
	v = strings.TrimSpace(v)
	var (
		d   time.Duration
		src string
		err error
	)
	if reHHMM.MatchString(v) {
		d, err = parseHHMM(v)
		src = "hhmm"
	} else {
		d, err = time.ParseDuration(v)
		src = "duration"
	}
	if err != nil {
		return Spec{}, fmt.Errorf("invalid interval %q: %w", v, err)
	}
	if d < minInterval {
		return Spec{}, fmt.Errorf("interval %s is below the %s minimum", d, minInterval)
	}
	return Spec{Kind: SpecInterval, Every: d, Source: src, Raw: raw}, nil
}

func parseHHMM(v string) (time.Duration, error) {
	m := reHHMM.FindStringSubmatch(v)
	if len(m) != 3 {
		return 0, fmt.Errorf("expected HH:MM")
	}
	hh, _ := strconv.Atoi(m[1])
	mm, _ := strconv.Atoi(m[2])
	if mm > 59 {
		return 0, fmt.Errorf("minutes out of range")
	}
	return time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute, nil
}

func (s Spec) schedule() (cron.Schedule, error) {
	if s.Kind == SpecInterval {
		return cron.Every(s.Every), nil
	}
	return cronParser.Parse(s.Cron)
}

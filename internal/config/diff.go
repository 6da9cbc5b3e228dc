package config

import (
	"reflect"
	"sort"
	"strings"

	logx "offerbot/pkg/logx"
)

// Change summarizes a reload for the log. Attrs never carry secrets.
type Change struct {
	Sections []string
	Attrs    []logx.Field
	// Restart lists sections whose new values only apply after a restart.
	Restart []string
}

func (c Change) Empty() bool { return len(c.Sections) == 0 }

// Summarize compares two configs section by section.
func Summarize(oldCfg, newCfg *Config) Change {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var ch Change
	mark := func(section string, restart bool, attrs ...logx.Field) {
		ch.Sections = append(ch.Sections, section)
		ch.Attrs = append(ch.Attrs, attrs...)
		if restart {
			ch.Restart = append(ch.Restart, section)
		}
	}

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if ot.Token != nt.Token || strings.TrimSpace(ot.PollTimeout) != strings.TrimSpace(nt.PollTimeout) ||
		ot.CommandsEnabled() != nt.CommandsEnabled() || ot.RatePerSec != nt.RatePerSec {
		mark("telegram.bot", true,
			logx.Bool("telegram.token_changed", ot.Token != nt.Token),
			logx.String("telegram.poll_timeout", strings.TrimSpace(nt.PollTimeout)),
			logx.Bool("telegram.commands", nt.CommandsEnabled()),
		)
	}
	if strings.TrimSpace(ot.Channel) != strings.TrimSpace(nt.Channel) ||
		!reflect.DeepEqual(ot.OwnerUserIDs, nt.OwnerUserIDs) ||
		strings.TrimSpace(ot.GroupLog) != strings.TrimSpace(nt.GroupLog) {
		mark("telegram", false,
			logx.String("telegram.channel", strings.TrimSpace(nt.Channel)),
			logx.Int("telegram.owner_count", len(nt.OwnerUserIDs)),
			logx.Bool("telegram.group_log_set", strings.TrimSpace(nt.GroupLog) != ""),
		)
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		mark("logging", false,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram", newCfg.Logging.Telegram.Enabled),
		)
	}

	ost, nst := oldCfg.Storage, newCfg.Storage
	if strings.TrimSpace(ost.Driver) != strings.TrimSpace(nst.Driver) ||
		strings.TrimSpace(ost.Path) != strings.TrimSpace(nst.Path) ||
		ost.DSN != nst.DSN || strings.TrimSpace(ost.BusyTimeout) != strings.TrimSpace(nst.BusyTimeout) {
		mark("storage", true,
			logx.String("storage.driver", strings.TrimSpace(nst.Driver)),
			logx.Bool("storage.dsn_set", nst.DSN != ""),
		)
	}

	if !reflect.DeepEqual(oldCfg.Pipeline, newCfg.Pipeline) {
		p := newCfg.Pipeline
		mark("pipeline", false,
			logx.String("pipeline.schedule", p.ScheduleOrDefault()),
			logx.Int("pipeline.batch_size", p.BatchSize),
			logx.Int("pipeline.parallelism", p.Parallelism),
		)
	}

	if added, removed, changed := diffSources(oldCfg.Sources, newCfg.Sources); len(added)+len(removed)+len(changed) > 0 {
		mark("sources", false,
			logx.Strings("sources.added", added),
			logx.Strings("sources.removed", removed),
			logx.Strings("sources.changed", changed),
		)
	}

	if !reflect.DeepEqual(oldCfg.HTTP, newCfg.HTTP) {
		mark("http", false,
			logx.Float64("http.rate_per_sec", newCfg.HTTP.RatePerSec),
			logx.Bool("http.respect_robots", newCfg.HTTP.RespectRobots),
		)
	}
	if !reflect.DeepEqual(oldCfg.Render, newCfg.Render) {
		mark("render", false, logx.String("render.mode", newCfg.Render.Mode))
	}

	oo, no := oldCfg.Observability, newCfg.Observability
	if oo.Enabled != no.Enabled || oo.Addr != no.Addr || oo.Pprof != no.Pprof || oo.Token != no.Token {
		mark("observability", false,
			logx.Bool("observability.enabled", no.Enabled),
			logx.String("observability.addr", no.Addr),
			logx.Bool("observability.token_set", no.Token != ""),
		)
	}

	sort.Strings(ch.Sections)
	sort.Strings(ch.Restart)
	return ch
}

func diffSources(oldS, newS []SourceConfig) (added, removed, changed []string) {
	byName := func(in []SourceConfig) map[string]SourceConfig {
		m := make(map[string]SourceConfig, len(in))
		for _, s := range in {
			m[strings.TrimSpace(s.Name)] = s
		}
		return m
	}
	om, nm := byName(oldS), byName(newS)
	for name, n := range nm {
		o, ok := om[name]
		switch {
		case !ok:
			added = append(added, name)
		case !reflect.DeepEqual(o, n):
			changed = append(changed, name)
		}
	}
	for name := range om {
		if _, ok := nm[name]; !ok {
			removed = append(removed, name)
		}
	}
	sort.Strings(added)
	sort.Strings(removed)
	sort.Strings(changed)
	return added, removed, changed
}

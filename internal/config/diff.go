package config

import (
	"reflect"
	"sort"
	"strings"

	logx "pagewatch/pkg/logx"
)

// Sections that a running process can apply without restart.
var LiveSections = []string{"logging", "watch", "notify", "http"}

// SummarizeChange returns the changed top-level sections and safe fields
// for logging. Secrets are reported only as set/unset.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var changed []string
	var fields []logx.Field

	if oldCfg.Telegram != newCfg.Telegram {
		changed = append(changed, "telegram")
		fields = append(fields,
			logx.String("telegram.poll_timeout", newCfg.Telegram.PollTimeout),
			logx.Bool("telegram.token_changed", oldCfg.Telegram.Token != newCfg.Telegram.Token),
		)
	}
	if !reflect.DeepEqual(oldCfg.Summarizer, newCfg.Summarizer) {
		changed = append(changed, "summarizer")
		fields = append(fields,
			logx.String("summarizer.model", newCfg.Summarizer.Model),
			logx.Bool("summarizer.api_key_changed", oldCfg.Summarizer.APIKey != newCfg.Summarizer.APIKey),
		)
	}
	if !reflect.DeepEqual(oldCfg.Watch, newCfg.Watch) {
		changed = append(changed, "watch")
		fields = append(fields,
			logx.Int("watch.urls", len(newCfg.Watch.URLs)),
			logx.String("watch.schedule", newCfg.Watch.Schedule),
			logx.String("watch.timezone", newCfg.Watch.Timezone),
		)
	}
	if oldCfg.Fetch != newCfg.Fetch {
		changed = append(changed, "fetch")
		fields = append(fields, logx.String("fetch.driver", newCfg.Fetch.Driver), logx.String("fetch.extract", newCfg.Fetch.Extract))
	}
	if oldCfg.Notify != newCfg.Notify {
		changed = append(changed, "notify")
		fields = append(fields,
			logx.Int("notify.workers", newCfg.Notify.Workers),
			logx.Bool("notify.suppress_quiet", newCfg.Notify.SuppressQuiet),
		)
	}
	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		fields = append(fields, logx.String("storage.driver", newCfg.Storage.Driver))
	}
	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		fields = append(fields,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.forward", newCfg.Logging.Forward.Enabled),
		)
	}
	if oldCfg.HTTP != newCfg.HTTP {
		changed = append(changed, "http")
		fields = append(fields,
			logx.Bool("http.enabled", newCfg.HTTP.Enabled),
			logx.String("http.addr", strings.TrimSpace(newCfg.HTTP.Addr)),
			logx.Bool("http.token_set", strings.TrimSpace(newCfg.HTTP.Token) != ""),
		)
	}
	return changed, fields
}

// RestartRequired lists changed sections that only take effect on restart.
func RestartRequired(changed []string) []string {
	var out []string
	for _, s := range changed {
		live := false
		for _, l := range LiveSections {
			if s == l {
				live = true
				break
			}
		}
		if !live {
			out = append(out, s)
		}
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

package app

import (
	"context"
	"strings"

	"pagewatch/internal/config"
	logx "pagewatch/pkg/logx"
)

// reloadLoop applies published configs to running components. Bursts are
// coalesced to the newest config.
func (a *App) reloadLoop(ctx context.Context, sub <-chan *config.Config) {
	last := a.cfgm.Get()
	for {
		var next *config.Config
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-sub:
			if !ok {
				return
			}
			next = cfg
		}
	drain:
		for {
			select {
			case newer := <-sub:
				if newer != nil {
					next = newer
				}
			default:
				break drain
			}
		}

		a.apply(ctx, last, next)
		last = next
	}
}

func (a *App) apply(ctx context.Context, prev, next *config.Config) {
	changed, fields := config.SummarizeChange(prev, next)
	if len(changed) == 0 {
		a.log.Debug("config reload received, no effective changes")
		return
	}
	if restart := config.RestartRequired(changed); len(restart) > 0 {
		a.log.Warn("config sections changed that need a restart to take effect", logx.Strings("sections", restart))
	}

	s, err := mapConfig(next)
	if err != nil {
		a.log.Warn("config reload rejected; keeping previous", logx.Err(err))
		return
	}

	for _, section := range changed {
		switch section {
		case "logging":
			a.forwardChat.Store(s.forwardChat)
			a.logs.Apply(s.logging)
		case "watch":
			if err := a.sched.Apply(s.scheduler); err != nil {
				a.log.Warn("watch config not applied", logx.Err(err))
			}
		case "notify":
			a.notifier.Apply(s.notifier)
		case "http":
			a.apiCfg = s.http
			if err := a.api.Reconfigure(ctx, s.http); err != nil {
				a.log.Warn("http api not reconfigured", logx.Err(err))
			}
		}
	}
	a.log.Info("config applied", append([]logx.Field{logx.String("changed", strings.Join(changed, ","))}, fields...)...)
}

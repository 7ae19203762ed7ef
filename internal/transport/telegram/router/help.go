package router

import (
	"html"
	"sort"
	"strings"

	kit "pagewatch/internal/transport"
)

// helpText renders help in Telegram HTML parse mode.
func (r *Router) helpText(args []string) string {
	if len(args) > 0 {
		name := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(args[0]), "/"))
		c, ok := r.lookup(name)
		if !ok {
			return "<b>Unknown command</b>\nSend <code>/help</code> for the list of commands."
		}
		lines := []string{"<b>/" + html.EscapeString(c.Name) + "</b>"}
		if d := strings.TrimSpace(c.Description); d != "" {
			lines = append(lines, html.EscapeString(d))
		}
		if u := strings.TrimSpace(c.Usage); u != "" {
			lines = append(lines, "", "<b>Usage</b>", "<code>"+html.EscapeString(u)+"</code>")
		}
		if len(c.Aliases) > 0 {
			lines = append(lines, "", "<b>Aliases</b> "+html.EscapeString("/"+strings.Join(c.Aliases, ", /")))
		}
		return strings.Join(lines, "\n")
	}

	r.mu.RLock()
	cmds := append([]Command(nil), r.commands...)
	r.mu.RUnlock()
	sort.Slice(cmds, func(i, j int) bool { return cmds[i].Name < cmds[j].Name })

	lines := []string{"<b>Commands</b>", "Send <code>/help &lt;command&gt;</code> for details.", ""}
	for _, c := range cmds {
		if c.Hidden {
			continue
		}
		line := "• <code>/" + html.EscapeString(c.Name) + "</code>"
		if d := strings.TrimSpace(c.Description); d != "" {
			line += " - " + html.EscapeString(d)
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func menuCommands(cmds []Command) []kit.BotCommand {
	out := make([]kit.BotCommand, 0, len(cmds))
	for _, c := range cmds {
		if c.Hidden {
			continue
		}
		if name := sanitizeTelegramCommand(c.Name); name != "" {
			out = append(out, kit.BotCommand{Command: name, Description: c.Description})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Command < out[j].Command })
	return out
}

// sanitizeTelegramCommand maps a name onto Telegram's [a-z0-9_]{1,32}.
func sanitizeTelegramCommand(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		case r == '-' || r == ' ':
			b.WriteByte('_')
		}
	}
	out := strings.Trim(b.String(), "_")
	if len(out) > 32 {
		out = strings.TrimRight(out[:32], "_")
	}
	return out
}

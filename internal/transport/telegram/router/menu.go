package router

import (
	"strings"
	"unicode"

	kit "announcebot/internal/transport"
)

// sanitizeCommand maps a name onto Telegram's [a-z0-9_]{1,32} command alphabet.
func sanitizeCommand(s string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
			lastUnderscore = false
		case r == '_' || r == '-' || r == '/' || unicode.IsSpace(r):
			if b.Len() > 0 && !lastUnderscore {
				b.WriteRune('_')
				lastUnderscore = true
			}
		}
	}
	out := strings.Trim(b.String(), "_")
	if len(out) > 32 {
		out = strings.TrimRight(out[:32], "_")
	}
	return out
}

// buildMenu lists visible commands in registration order, admin commands last.
func buildMenu(cmds []Command) []kit.BotCommand {
	var public, admin []kit.BotCommand
	seen := map[string]bool{}
	for _, c := range cmds {
		if c.Hidden {
			continue
		}
		name := sanitizeCommand(c.Name)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		desc := strings.ReplaceAll(strings.TrimSpace(c.Description), "\n", " ")
		if desc == "" {
			desc = name
		}
		if c.Access == AccessAdmin {
			admin = append(admin, kit.BotCommand{Command: name, Description: "🔒 " + desc})
			continue
		}
		public = append(public, kit.BotCommand{Command: name, Description: desc})
	}
	out := append(public, admin...)
	if len(out) > 100 {
		out = out[:100]
	}
	return out
}

// helpText renders the plain-text command list. Admin commands are only
// shown to admins.
func helpText(cmds []Command, isAdmin bool) string {
	var b strings.Builder
	b.WriteString("Available commands for all users:\n")
	for _, c := range cmds {
		if !c.Hidden && c.Access == AccessEveryone {
			b.WriteString("/" + c.Name + " - " + c.Description + "\n")
		}
	}
	if isAdmin {
		b.WriteString("\nAdmin commands:\n")
		for _, c := range cmds {
			if !c.Hidden && c.Access == AccessAdmin {
				b.WriteString("/" + c.Name + " - " + c.Description + "\n")
			}
		}
	}
	b.WriteString("\nUse /cancel to stop any operation in progress.")
	return b.String()
}

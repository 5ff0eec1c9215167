// Package admin manages the admin role: /addadmin, /removeadmin and
// /listadmins.
package admin

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"announcebot/internal/eventbus"
	"announcebot/internal/plugin"
	"announcebot/internal/storage"
	kit "announcebot/internal/transport"
	"announcebot/internal/transport/telegram/router"
	logx "announcebot/pkg/logx"
)

const (
	flowAdd    = "admin.add"
	flowRemove = "admin.remove"

	textAddPrompt    = "Please enter the Telegram user ID of the new admin:"
	textRemovePrompt = "Please enter the Telegram user ID of the admin to remove:"
	textInvalidID    = "Invalid user ID. Please enter a numeric ID."
	textNoSelf       = "You cannot remove yourself as an admin."
	textNoAdmins     = "No admins found in the database."
	textRevoked      = "🔔 ADMIN STATUS UPDATE 🔔\n\nYour admin privileges have been revoked. You no longer have access to admin commands."
)

type Plugin struct {
	plugin.Base
}

func New() *Plugin { return &Plugin{} }

func (p *Plugin) Name() string { return "admin" }

func (p *Plugin) Init(ctx context.Context, deps plugin.Deps) error {
	p.InitBase(deps, p.Name())
	if deps.Store == nil || deps.Broadcast == nil {
		return fmt.Errorf("admin: store and broadcaster are required")
	}
	return nil
}

func (p *Plugin) Commands() []router.Command {
	return []router.Command{
		{Name: "addadmin", Description: "Add a new admin", Access: router.AccessAdmin, Handle: p.begin(flowAdd, textAddPrompt)},
		{Name: "removeadmin", Description: "Remove an admin", Access: router.AccessAdmin, Handle: p.begin(flowRemove, textRemovePrompt)},
		{Name: "listadmins", Description: "List all admins", Access: router.AccessAdmin, Handle: p.cmdList},
	}
}

func (p *Plugin) Flows() []router.Flow {
	return []router.Flow{
		{Name: flowAdd, Access: router.AccessAdmin, OnText: p.withUserID(p.add)},
		{Name: flowRemove, Access: router.AccessAdmin, OnText: p.withUserID(p.remove)},
	}
}

func (p *Plugin) begin(flow, prompt string) router.HandlerFunc {
	return func(ctx context.Context, req *router.Request) error {
		req.Sessions().Begin(req.Key(), flow, nil)
		_, err := req.Reply(ctx, prompt, nil)
		return err
	}
}

// ParseUserID accepts only a run of ASCII digits.
func ParseUserID(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return id, true
}

// withUserID keeps the conversation open until a valid id arrives, then
// ends it and calls fn.
func (p *Plugin) withUserID(fn func(ctx context.Context, req *router.Request, id int64) error) router.HandlerFunc {
	return func(ctx context.Context, req *router.Request) error {
		id, ok := ParseUserID(req.Text)
		if !ok {
			_, err := req.Reply(ctx, textInvalidID, nil)
			return err
		}
		if req.Session == nil || !req.Sessions().EndIf(req.Key(), req.Session.ID) {
			return nil
		}
		return fn(ctx, req, id)
	}
}

func (p *Plugin) add(ctx context.Context, req *router.Request, id int64) error {
	created, err := p.Deps.Store.AddAdmin(ctx, storage.Admin{
		UserID:          id,
		AddedBy:         req.From.ID,
		AddedByUsername: req.From.Username,
		AddedAt:         time.Now().UTC(),
	})
	p.audit(ctx, req, "admin.add", id, err)
	if err != nil {
		req.Logger.Error("add admin failed", logx.Int64("target", id), logx.Err(err))
		_, err = req.Reply(ctx, fmt.Sprintf("Failed to add user with ID %d as an admin. Please try again later.", id), nil)
		return err
	}
	if !created {
		_, err = req.Reply(ctx, fmt.Sprintf("User with ID %d is already an admin.", id), nil)
		return err
	}
	req.Logger.Info("admin added", logx.Int64("target", id))
	p.PublishEvent(eventbus.TypeAdminAdded, id)
	if _, err := req.Reply(ctx, fmt.Sprintf("User with ID %d has been added as an admin.", id), nil); err != nil {
		return err
	}
	return p.notify(ctx, req, id, "has been added as an admin.")
}

func (p *Plugin) remove(ctx context.Context, req *router.Request, id int64) error {
	if id == req.From.ID {
		_, err := req.Reply(ctx, textNoSelf, nil)
		return err
	}
	removed, err := p.Deps.Store.RemoveAdmin(ctx, id)
	p.audit(ctx, req, "admin.remove", id, err)
	if err != nil || !removed {
		if err != nil {
			req.Logger.Error("remove admin failed", logx.Int64("target", id), logx.Err(err))
		}
		_, err = req.Reply(ctx, fmt.Sprintf("Failed to remove user with ID %d from admins. Please check if the ID is correct.", id), nil)
		return err
	}
	req.Logger.Info("admin removed", logx.Int64("target", id))
	p.PublishEvent(eventbus.TypeAdminRemoved, id)
	if _, err := req.Reply(ctx, fmt.Sprintf("User with ID %d has been removed from admins.", id), nil); err != nil {
		return err
	}
	if err := p.notify(ctx, req, id, "has been removed from admin role."); err != nil {
		return err
	}
	p.tellRevoked(ctx, id)
	return nil
}

// notify broadcasts the role change to every recipient and reports the
// delivery counts to the operator.
func (p *Plugin) notify(ctx context.Context, req *router.Request, id int64, what string) error {
	text := fmt.Sprintf("🔔 ADMIN UPDATE 🔔\n\nUser @%s (ID: %d) %s", p.username(ctx, id), id, what)
	res, err := p.Deps.Broadcast.Broadcast(ctx, text, nil)
	if err != nil {
		req.Logger.Warn("admin notification failed", logx.Err(err))
		return nil
	}
	_, err = req.Reply(ctx, fmt.Sprintf("Notification sent to %d users. (%d failed)", res.Success, res.Failure), nil)
	return err
}

func (p *Plugin) tellRevoked(ctx context.Context, id int64) {
	if p.Deps.Sender == nil {
		return
	}
	chatID := id
	if r, ok, err := p.Deps.Store.GetRecipient(ctx, id); err == nil && ok && r.ChatID != 0 {
		chatID = r.ChatID
	}
	if _, err := p.Deps.Sender.SendText(ctx, kit.ChatTarget{ChatID: chatID}, textRevoked, nil); err != nil {
		p.Log.Debug("revoked admin not reachable", logx.Int64("user_id", id), logx.Err(err))
	}
}

func (p *Plugin) username(ctx context.Context, id int64) string {
	r, ok, err := p.Deps.Store.GetRecipient(ctx, id)
	if err != nil || !ok || r.Username == "" {
		return "Unknown"
	}
	return r.Username
}

func (p *Plugin) audit(ctx context.Context, req *router.Request, action string, target int64, err error) {
	e := storage.AuditEntry{
		At:            time.Now().UTC(),
		ActorID:       req.From.ID,
		ActorUsername: req.From.Username,
		Action:        action,
		Target:        strconv.FormatInt(target, 10),
	}
	if err != nil {
		e.Error = err.Error()
	}
	p.AppendAudit(ctx, e)
}

func (p *Plugin) cmdList(ctx context.Context, req *router.Request) error {
	admins, err := p.Deps.Store.ListAdmins(ctx)
	if err != nil {
		req.Logger.Error("list admins failed", logx.Err(err))
		_, err = req.Reply(ctx, "Failed to load the admin list. Please try again later.", nil)
		return err
	}
	_, err = req.Reply(ctx, FormatList(admins), nil)
	return err
}

// FormatList renders the stored admins in insertion order.
func FormatList(admins []storage.Admin) string {
	if len(admins) == 0 {
		return textNoAdmins
	}
	var b strings.Builder
	b.WriteString("📋 Admin List:\n\n")
	for i, a := range admins {
		by := "system"
		if a.AddedBy != 0 {
			by = strconv.FormatInt(a.AddedBy, 10)
			if a.AddedByUsername != "" {
				by += " (@" + a.AddedByUsername + ")"
			}
		}
		fmt.Fprintf(&b, "%d. Admin ID: %d\n   Added at: %s\n   Added by: %s\n\n",
			i+1, a.UserID, a.AddedAt.UTC().Format(time.RFC3339), by)
	}
	return strings.TrimRight(b.String(), "\n")
}

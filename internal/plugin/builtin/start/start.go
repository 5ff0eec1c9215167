// Package start handles subscription: /start and /stop.
package start

import (
	"context"
	"fmt"
	"time"

	"announcebot/internal/eventbus"
	"announcebot/internal/plugin"
	"announcebot/internal/storage"
	"announcebot/internal/transport/telegram/router"
	logx "announcebot/pkg/logx"
)

const (
	textWelcome      = "Welcome to the community bot! You will receive our announcements here.\n\nType /help to see available commands."
	textFirstAdmin   = "Welcome! You are the first user, so I've made you an admin.\n\nYour user ID is: %d\n\nType /help to see available commands."
	textUnsubscribed = "You have been unsubscribed from announcements. Send /start to subscribe again."
	textNotSubbed    = "You are not subscribed. Send /start to subscribe."
	textFailed       = "Sorry, something went wrong. Please try again later."
)

type Plugin struct {
	plugin.Base
}

func New() *Plugin { return &Plugin{} }

func (p *Plugin) Name() string { return "start" }

func (p *Plugin) Init(ctx context.Context, deps plugin.Deps) error {
	p.InitBase(deps, p.Name())
	if deps.Store == nil {
		return fmt.Errorf("start: store is required")
	}
	return nil
}

func (p *Plugin) Commands() []router.Command {
	return []router.Command{
		{Name: "start", Description: "Start the bot", Handle: p.cmdStart},
		{Name: "stop", Description: "Stop receiving announcements", Handle: p.cmdStop},
	}
}

func (p *Plugin) cmdStart(ctx context.Context, req *router.Request) error {
	st := p.Deps.Store
	chatID := req.Chat.ChatID
	if req.Update.Message != nil && req.Update.Message.IsGroup {
		// announcements go to the user directly, not to the group
		chatID = req.From.ID
	}
	now := time.Now().UTC()
	created, err := st.UpsertRecipient(ctx, storage.Recipient{
		UserID:     req.From.ID,
		ChatID:     chatID,
		Username:   req.From.Username,
		FirstName:  req.From.FirstName,
		LastName:   req.From.LastName,
		CreatedAt:  now,
		LastActive: now,
	})
	if err != nil {
		req.Logger.Error("register recipient failed", logx.Err(err))
		_, err = req.Reply(ctx, textFailed, nil)
		return err
	}
	if created {
		req.Logger.Info("recipient joined")
		p.PublishEvent(eventbus.TypeRecipientJoined, req.From.ID)
	}

	if ok, err := p.bootstrapAdmin(ctx, req); err != nil {
		req.Logger.Warn("first admin check failed", logx.Err(err))
	} else if ok {
		_, err = req.Reply(ctx, fmt.Sprintf(textFirstAdmin, req.From.ID), nil)
		return err
	}
	_, err = req.Reply(ctx, textWelcome, nil)
	return err
}

// bootstrapAdmin makes the caller an admin when no admin is stored yet.
func (p *Plugin) bootstrapAdmin(ctx context.Context, req *router.Request) (bool, error) {
	st := p.Deps.Store
	admins, err := st.ListAdmins(ctx)
	if err != nil || len(admins) > 0 {
		return false, err
	}
	created, err := st.AddAdmin(ctx, storage.Admin{UserID: req.From.ID, AddedAt: time.Now().UTC()})
	if err != nil || !created {
		return false, err
	}
	req.Logger.Info("first user promoted to admin")
	p.AppendAudit(ctx, storage.AuditEntry{
		At:            time.Now().UTC(),
		ActorID:       req.From.ID,
		ActorUsername: req.From.Username,
		Action:        "admin.bootstrap",
		Target:        fmt.Sprint(req.From.ID),
	})
	p.PublishEvent(eventbus.TypeAdminAdded, req.From.ID)
	return true, nil
}

func (p *Plugin) cmdStop(ctx context.Context, req *router.Request) error {
	removed, err := p.Deps.Store.RemoveRecipient(ctx, req.From.ID)
	if err != nil {
		req.Logger.Error("remove recipient failed", logx.Err(err))
		_, err = req.Reply(ctx, textFailed, nil)
		return err
	}
	if !removed {
		_, err = req.Reply(ctx, textNotSubbed, nil)
		return err
	}
	p.PublishEvent(eventbus.TypeRecipientStopped, req.From.ID)
	_, err = req.Reply(ctx, textUnsubscribed, nil)
	return err
}

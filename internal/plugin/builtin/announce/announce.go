// Package announce implements the manual /announce conversation.
package announce

import (
	"context"
	"fmt"
	"strings"
	"time"

	"announcebot/internal/plugin"
	"announcebot/internal/storage"
	kit "announcebot/internal/transport"
	"announcebot/internal/transport/telegram/router"
	logx "announcebot/pkg/logx"
	"announcebot/pkg/tgui"
)

const (
	flowName = "announce"

	textPrompt    = "Please enter the announcement message you want to send to all users:"
	textEmpty     = "The announcement cannot be empty. Please enter the announcement message:"
	textUseButton = "Please use the buttons above to send or cancel the announcement."
	textNoText    = "Error: No announcement text found."
	textCancelled = "Announcement cancelled."
	textExpired   = "This announcement is no longer active."
	textFailed    = "Failed to send the announcement. Please try again later."
	textSending   = "Sending announcement to all users…"
)

// draft is the conversation state stored in the session.
type draft struct {
	Text  string
	Ready bool
}

type Plugin struct {
	plugin.Base
}

func New() *Plugin { return &Plugin{} }

func (p *Plugin) Name() string { return "announce" }

func (p *Plugin) Init(ctx context.Context, deps plugin.Deps) error {
	p.InitBase(deps, p.Name())
	if deps.Broadcast == nil {
		return fmt.Errorf("announce: broadcaster is required")
	}
	if deps.Tasks == nil {
		return fmt.Errorf("announce: task runner is required")
	}
	return nil
}

func (p *Plugin) Commands() []router.Command {
	return []router.Command{{
		Name:        "announce",
		Description: "Send an announcement to all users",
		Access:      router.AccessAdmin,
		Handle:      p.cmdAnnounce,
	}}
}

func (p *Plugin) Callbacks() []router.CallbackRoute {
	return []router.CallbackRoute{
		{Action: "send", Access: router.AccessAdmin, Handle: p.cbSend},
		{Action: "cancel", Access: router.AccessAdmin, Handle: p.cbCancel},
	}
}

func (p *Plugin) Flows() []router.Flow {
	return []router.Flow{{Name: flowName, Access: router.AccessAdmin, OnText: p.onText}}
}

func Preview(text string) string {
	return "📢 Announcement Preview:\n\n" + text + "\n\nDo you want to send this to all users?"
}

func Message(text string) string { return "📢 ANNOUNCEMENT 📢\n\n" + text }

func (p *Plugin) cmdAnnounce(ctx context.Context, req *router.Request) error {
	req.Sessions().Begin(req.Key(), flowName, draft{})
	_, err := req.Reply(ctx, textPrompt, nil)
	return err
}

func (p *Plugin) onText(ctx context.Context, req *router.Request) error {
	sess := req.Session
	d, _ := sess.Data.(draft)
	if d.Ready {
		_, err := req.Reply(ctx, textUseButton, nil)
		return err
	}
	if strings.TrimSpace(req.Text) == "" {
		_, err := req.Reply(ctx, textEmpty, nil)
		return err
	}
	d = draft{Text: req.Text, Ready: true}
	if !req.Sessions().Update(req.Key(), sess.ID, d) {
		return nil
	}
	kb := tgui.Confirm(
		tgui.Btn("Send", tgui.Data(p.Name(), "send", sess.ID)),
		tgui.Btn("Cancel", tgui.Data(p.Name(), "cancel", sess.ID)),
	)
	_, err := req.Reply(ctx, Preview(req.Text), &kit.SendOptions{Keyboard: kb})
	return err
}

// claim ends the session the button belongs to. It fails for buttons of
// an older or finished conversation.
func claim(req *router.Request, id string) (draft, bool) {
	sess := req.Session
	if sess == nil || sess.Flow != flowName || sess.ID != id {
		return draft{}, false
	}
	if !req.Sessions().EndIf(req.Key(), id) {
		return draft{}, false
	}
	d, _ := sess.Data.(draft)
	return d, true
}

func (p *Plugin) cbCancel(ctx context.Context, req *router.Request, payload string) error {
	if _, ok := claim(req, payload); !ok {
		return req.Answer(ctx, textExpired)
	}
	return req.Edit(ctx, textCancelled, nil)
}

// cbSend claims the draft and hands the broadcast to a background task so
// the router worker is free for other users. The preview message is edited
// with the result once every recipient has been tried.
func (p *Plugin) cbSend(ctx context.Context, req *router.Request, payload string) error {
	d, ok := claim(req, payload)
	if !ok {
		return req.Answer(ctx, textExpired)
	}
	if !d.Ready || strings.TrimSpace(d.Text) == "" {
		return req.Edit(ctx, textNoText, nil)
	}
	_ = req.Answer(ctx, "Sending…")
	if err := req.Edit(ctx, textSending, nil); err != nil {
		req.Logger.Warn("edit preview failed", logx.Err(err))
	}

	from, log := req.From, req.Logger
	p.Deps.Tasks.Go0("announce.broadcast", func(ctx context.Context) {
		start := time.Now()
		res, err := p.Deps.Broadcast.Broadcast(ctx, Message(d.Text), nil)
		entry := storage.AuditEntry{
			At:            time.Now().UTC(),
			ActorID:       from.ID,
			ActorUsername: from.Username,
			Action:        "announce",
			OK:            res.Success,
			Fail:          res.Failure,
			TookMS:        time.Since(start).Milliseconds(),
		}
		text := fmt.Sprintf("Announcement sent to %d users. (%d failed)", res.Success, res.Failure)
		if err != nil {
			entry.Error = err.Error()
			text = textFailed
			log.Error("announcement failed", logx.Err(err))
		} else {
			log.Info("announcement sent", logx.Int("ok", res.Success), logx.Int("failed", res.Failure), logx.Duration("took", time.Since(start)))
		}
		p.AppendAudit(ctx, entry)
		if err := req.Edit(ctx, text, nil); err != nil {
			log.Warn("edit announcement result failed", logx.Err(err))
		}
	})
	return nil
}

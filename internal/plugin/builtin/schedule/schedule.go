// Package schedule runs the /setschedule conversation and shows the
// installed announcement triggers.
package schedule

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"announcebot/internal/plugin"
	sched "announcebot/internal/schedule"
	"announcebot/internal/storage"
	kit "announcebot/internal/transport"
	"announcebot/internal/transport/telegram/router"
	logx "announcebot/pkg/logx"
	"announcebot/pkg/tgui"
)

const (
	flowName = "schedule"

	textExpired = "This schedule setup is no longer active."
	previewLen  = 200
)

type Plugin struct {
	plugin.Base
}

func New() *Plugin { return &Plugin{} }

func (p *Plugin) Name() string { return "schedule" }

func (p *Plugin) Init(ctx context.Context, deps plugin.Deps) error {
	p.InitBase(deps, p.Name())
	if deps.Schedule == nil || deps.Jobs == nil {
		return fmt.Errorf("schedule: schedule service and jobs are required")
	}
	return nil
}

func (p *Plugin) Commands() []router.Command {
	return []router.Command{
		{Name: "setschedule", Aliases: []string{"schedule"}, Description: "Configure scheduled announcements", Access: router.AccessAdmin, Handle: p.cmdSet},
		{Name: "schedules", Description: "Show scheduled announcements", Access: router.AccessAdmin, Handle: p.cmdShow},
	}
}

func (p *Plugin) Callbacks() []router.CallbackRoute {
	return []router.CallbackRoute{
		{Action: "type", Access: router.AccessAdmin, Handle: p.cbType},
		{Action: "day", Access: router.AccessAdmin, Handle: p.cbDay},
		{Action: "confirm", Access: router.AccessAdmin, Handle: p.cbConfirm},
		{Action: "abort", Access: router.AccessAdmin, Handle: p.cbAbort},
	}
}

func (p *Plugin) Flows() []router.Flow {
	return []router.Flow{{Name: flowName, Access: router.AccessAdmin, OnText: p.onText, OnCancel: p.onCancel}}
}

func (p *Plugin) cmdSet(ctx context.Context, req *router.Request) error {
	st, eff := sched.Start()
	sess := req.Sessions().Begin(req.Key(), flowName, st)
	_, err := req.Reply(ctx, eff.Text, p.options(eff.Keyboard, sess.ID))
	return err
}

func (p *Plugin) onText(ctx context.Context, req *router.Request) error {
	return p.step(ctx, req, req.Session, sched.Input{Type: sched.InputText, Text: req.Text})
}

func (p *Plugin) onCancel(ctx context.Context, req *router.Request) error {
	return p.step(ctx, req, req.Session, sched.Input{Type: sched.InputCancel})
}

func (p *Plugin) cbType(ctx context.Context, req *router.Request, payload string) error {
	id, val := splitButton(payload)
	in := sched.Input{Type: sched.InputChoose}
	switch val {
	case "daily":
		in.Kind = sched.KindDaily
	case "weekly":
		in.Kind = sched.KindWeekly
	}
	return p.button(ctx, req, id, in)
}

func (p *Plugin) cbDay(ctx context.Context, req *router.Request, payload string) error {
	id, val := splitButton(payload)
	day, err := strconv.Atoi(val)
	if err != nil {
		day = -1
	}
	return p.button(ctx, req, id, sched.Input{Type: sched.InputDay, Day: day})
}

func (p *Plugin) cbConfirm(ctx context.Context, req *router.Request, payload string) error {
	return p.button(ctx, req, payload, sched.Input{Type: sched.InputConfirm})
}

func (p *Plugin) cbAbort(ctx context.Context, req *router.Request, payload string) error {
	return p.button(ctx, req, payload, sched.Input{Type: sched.InputAbort})
}

func splitButton(payload string) (id, val string) {
	parts := tgui.SplitPayload(payload)
	if len(parts) != 2 {
		return "", ""
	}
	return parts[0], parts[1]
}

// button checks that the pressed button belongs to the caller's running
// conversation before stepping it.
func (p *Plugin) button(ctx context.Context, req *router.Request, id string, in sched.Input) error {
	sess := req.Session
	if id == "" || sess == nil || sess.Flow != flowName || sess.ID != id {
		return req.Answer(ctx, textExpired)
	}
	return p.step(ctx, req, sess, in)
}

func (p *Plugin) step(ctx context.Context, req *router.Request, sess *router.Session, in sched.Input) error {
	if sess == nil {
		return nil
	}
	st, ok := sess.Data.(sched.State)
	if !ok {
		req.Sessions().EndIf(req.Key(), sess.ID)
		return nil
	}
	next, eff := sched.Step(st, in)

	switch eff.Type {
	case sched.EffectNone:
		return req.Answer(ctx, "")
	case sched.EffectPrompt, sched.EffectReject:
		if !req.Sessions().Update(req.Key(), sess.ID, next) {
			return req.Answer(ctx, textExpired)
		}
		return p.show(ctx, req, eff.Text, p.options(eff.Keyboard, sess.ID))
	case sched.EffectCancelled:
		req.Sessions().EndIf(req.Key(), sess.ID)
		return p.show(ctx, req, eff.Text, nil)
	case sched.EffectCommit:
		if !req.Sessions().EndIf(req.Key(), sess.ID) {
			return req.Answer(ctx, textExpired)
		}
		return p.commit(ctx, req, *eff.Update)
	}
	return nil
}

// show edits the message for button input and replies to typed input.
func (p *Plugin) show(ctx context.Context, req *router.Request, text string, opt *kit.SendOptions) error {
	if req.Callback != nil {
		return req.Edit(ctx, text, opt)
	}
	_, err := req.Reply(ctx, text, opt)
	return err
}

func (p *Plugin) commit(ctx context.Context, req *router.Request, u sched.Update) error {
	start := time.Now()
	out := p.Deps.Schedule.Commit(ctx, u, p.Deps.Jobs)
	e := storage.AuditEntry{
		At:            time.Now().UTC(),
		ActorID:       req.From.ID,
		ActorUsername: req.From.Username,
		Action:        "schedule.update",
		Target:        u.Kind.JobName(),
		TookMS:        time.Since(start).Milliseconds(),
	}
	if out != sched.OutcomeSaved {
		e.Error = out.String()
	}
	p.AppendAudit(ctx, e)
	req.Logger.Info("schedule committed", logx.String("kind", u.Kind.String()), logx.String("outcome", out.String()))
	return p.show(ctx, req, out.Text(), nil)
}

func (p *Plugin) options(kb sched.Keyboard, id string) *kit.SendOptions {
	data := func(action, val string) string {
		if val == "" {
			return tgui.Data(p.Name(), action, id)
		}
		return tgui.Data(p.Name(), action, tgui.JoinPayload(id, val))
	}
	var rows kit.Keyboard
	switch kb {
	case sched.KeyboardType:
		rows = tgui.NewInline().
			Row(tgui.Btn("Daily Announcement", data("type", "daily"))).
			Row(tgui.Btn("Weekly Announcement", data("type", "weekly"))).
			Keyboard()
	case sched.KeyboardWeekday:
		day := func(d int) kit.Button { return tgui.Btn(sched.DayName(d), data("day", strconv.Itoa(d))) }
		rows = tgui.NewInline().
			Row(day(1), day(2), day(3)).
			Row(day(4), day(5), day(6)).
			Row(day(0)).
			Keyboard()
	case sched.KeyboardConfirm:
		rows = tgui.Confirm(
			tgui.Btn("✅ Confirm", data("confirm", "")),
			tgui.Btn("❌ Cancel", data("abort", "")),
		)
	default:
		return nil
	}
	return &kit.SendOptions{Keyboard: rows}
}

func (p *Plugin) cmdShow(ctx context.Context, req *router.Request) error {
	cfg, err := p.Deps.Schedule.Current(ctx)
	if err != nil {
		req.Logger.Error("read schedule failed", logx.Err(err))
		_, err = req.Reply(ctx, "Failed to load the schedule. Please try again later.", nil)
		return err
	}
	_, err = req.Reply(ctx, FormatSchedule(cfg, p.Deps.Jobs.Jobs()), nil)
	return err
}

// FormatSchedule renders the stored schedule and the next run of each
// installed trigger.
func FormatSchedule(cfg sched.Config, jobs []plugin.JobInfo) string {
	next := map[sched.Kind]time.Time{}
	active := map[sched.Kind]bool{}
	for _, j := range jobs {
		active[j.Kind] = true
		next[j.Kind] = j.Next
	}
	status := func(k sched.Kind) string {
		switch {
		case !active[k]:
			return "not active"
		case next[k].IsZero():
			return "active"
		default:
			return "next run " + next[k].Format("Mon 2006-01-02 15:04 MST")
		}
	}

	var b strings.Builder
	b.WriteString("📅 Scheduled Announcements\n\n")
	fmt.Fprintf(&b, "Daily at %s (%s)\n", sched.ToDisplay(cfg.DailyTime), status(sched.KindDaily))
	fmt.Fprintf(&b, "📝 %s\n\n", tgui.TruncRunes(cfg.DailyMessage, previewLen))
	fmt.Fprintf(&b, "Weekly on %s at %s (%s)\n", sched.DayName(cfg.WeeklyDay), sched.ToDisplay(cfg.WeeklyTime), status(sched.KindWeekly))
	fmt.Fprintf(&b, "📝 %s", tgui.TruncRunes(cfg.WeeklyMessage, previewLen))
	return b.String()
}

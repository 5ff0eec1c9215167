// Package router turns incoming updates into command, callback and
// conversation handler calls.
package router

import (
	"context"
	"hash/fnv"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"announcebot/internal/runtime/supervisor"
	kit "announcebot/internal/transport"
	logx "announcebot/pkg/logx"
)

const (
	AccessDeniedText = "⛔ Access Denied: This command is only available to admins. You are not registered as an admin in the system."
	CancelText       = "Operation cancelled. What would you like to do next?"
	NothingToCancel  = "There is no active operation to cancel."
	UnknownText      = "Unknown command. Type /help to see available commands."
	BusyText         = "The bot is busy right now, please try again in a moment."
)

type Access int

const (
	AccessEveryone Access = iota
	AccessAdmin
)

type Command struct {
	Name        string
	Aliases     []string
	Description string
	Access      Access
	// Hidden commands are routed but left out of help and the menu.
	Hidden  bool
	Timeout time.Duration
	Handle  HandlerFunc
}

type CallbackHandlerFunc func(ctx context.Context, req *Request, payload string) error

// CallbackRoute handles buttons whose data is "plugin:action:payload".
type CallbackRoute struct {
	Plugin  string
	Action  string
	Access  Access
	Timeout time.Duration
	Handle  CallbackHandlerFunc
}

// Flow receives plain text sent while a session named Name is active.
type Flow struct {
	Name    string
	Access  Access
	Timeout time.Duration
	OnText  HandlerFunc
	// OnCancel, when set, handles /cancel for an active session of this flow
	// and replies in place of CancelText. The session is ended afterwards.
	OnCancel HandlerFunc
}

// Messenger is the outbound surface handlers use.
type Messenger interface {
	kit.Sender
	EditText(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error
	AnswerCallback(ctx context.Context, callbackID string, text string) error
}

// AdminChecker reports whether a user is a stored admin.
type AdminChecker interface {
	IsAdmin(ctx context.Context, userID int64) (bool, error)
}

type Request struct {
	Update   kit.Update
	Chat     kit.ChatTarget
	From     kit.User
	Command  string
	Args     []string
	Text     string
	Callback *kit.Callback
	IsAdmin  bool
	ReqID    string
	Logger   logx.Logger

	// Session is the caller's active conversation, if any.
	Session *Session

	router   *Router
	answered bool
}

func (r *Request) Key() SessionKey { return SessionKey{ChatID: r.Chat.ChatID, UserID: r.From.ID} }

func (r *Request) Sessions() *Sessions { return r.router.sessions }

func (r *Request) Messenger() Messenger { return r.router.out }

func (r *Request) Reply(ctx context.Context, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	return r.router.out.SendText(ctx, r.Chat, text, opt)
}

// Edit rewrites the message a callback came from.
func (r *Request) Edit(ctx context.Context, text string, opt *kit.SendOptions) error {
	if r.Callback == nil {
		_, err := r.Reply(ctx, text, opt)
		return err
	}
	ref := kit.MessageRef{ChatID: r.Callback.ChatID, ThreadID: r.Callback.ThreadID, MessageID: r.Callback.MessageID}
	return r.router.out.EditText(ctx, ref, text, opt)
}

func (r *Request) Answer(ctx context.Context, text string) error {
	if r.Callback == nil || r.answered {
		return nil
	}
	r.answered = true
	return r.router.out.AnswerCallback(ctx, r.Callback.ID, text)
}

type Options struct {
	Out      Messenger
	Admins   AdminChecker
	Owners   []int64
	Sessions *Sessions
	// Workers is the number of handler goroutines. Updates from one user
	// always land on the same worker so a conversation stays ordered.
	Workers  int
	QueueCap int
	Log      logx.Logger
}

type Router struct {
	out      Messenger
	admins   AdminChecker
	sessions *Sessions
	log      logx.Logger

	mu        sync.RWMutex
	owners    []int64
	commands  map[string]*Command
	ordered   []Command
	callbacks map[string]map[string]CallbackRoute
	flows     map[string]Flow

	workers  int
	queueCap int
	queues   atomic.Pointer[[]chan func()]
	reqSeq   atomic.Uint64
}

func New(opt Options) *Router {
	if opt.Log.IsZero() {
		opt.Log = logx.Nop()
	}
	if opt.Sessions == nil {
		opt.Sessions = NewSessions(0)
	}
	if opt.Workers <= 0 {
		opt.Workers = 4
	}
	if opt.QueueCap <= 0 {
		opt.QueueCap = 64
	}
	return &Router{
		out:       opt.Out,
		admins:    opt.Admins,
		sessions:  opt.Sessions,
		log:       opt.Log.With(logx.String("comp", "telegram.router")),
		owners:    append([]int64(nil), opt.Owners...),
		commands:  map[string]*Command{},
		callbacks: map[string]map[string]CallbackRoute{},
		flows:     map[string]Flow{},
		workers:   opt.Workers,
		queueCap:  opt.QueueCap,
	}
}

func (r *Router) Sessions() *Sessions { return r.sessions }

// SetOwners replaces the always-admin user list. Safe during hot reload.
func (r *Router) SetOwners(owners []int64) {
	cp := append([]int64(nil), owners...)
	r.mu.Lock()
	r.owners = cp
	r.mu.Unlock()
}

// Register replaces the routing tables. help and cancel are always present.
func (r *Router) Register(cmds []Command, cbs []CallbackRoute, flows []Flow) {
	cmds = append(cmds,
		Command{Name: "help", Description: "Show this help message", Handle: r.handleHelp},
		Command{Name: "cancel", Description: "Cancel the current operation", Hidden: true, Handle: r.handleCancel},
	)

	byName := map[string]*Command{}
	ordered := make([]Command, 0, len(cmds))
	for _, c := range cmds {
		name := strings.ToLower(strings.TrimSpace(c.Name))
		if name == "" || c.Handle == nil {
			continue
		}
		if _, dup := byName[name]; dup {
			r.log.Warn("duplicate command ignored", logx.String("cmd", name))
			continue
		}
		cc := c
		cc.Name = name
		byName[name] = &cc
		ordered = append(ordered, cc)
		for _, a := range c.Aliases {
			a = strings.ToLower(strings.TrimSpace(a))
			if a == "" {
				continue
			}
			if _, taken := byName[a]; !taken {
				byName[a] = &cc
			}
		}
	}

	cb := map[string]map[string]CallbackRoute{}
	for _, rt := range cbs {
		if rt.Plugin == "" || rt.Action == "" || rt.Handle == nil {
			continue
		}
		if cb[rt.Plugin] == nil {
			cb[rt.Plugin] = map[string]CallbackRoute{}
		}
		cb[rt.Plugin][rt.Action] = rt
	}

	fl := map[string]Flow{}
	for _, f := range flows {
		if f.Name != "" && f.OnText != nil {
			fl[f.Name] = f
		}
	}

	r.mu.Lock()
	r.commands = byName
	r.ordered = ordered
	r.callbacks = cb
	r.flows = fl
	r.mu.Unlock()
	r.log.Info("routes registered", logx.Int("commands", len(ordered)), logx.Int("flows", len(fl)))
}

// PublishMenu pushes the visible commands to the platform menu when the
// messenger supports it.
func (r *Router) PublishMenu(ctx context.Context) error {
	up, ok := r.out.(kit.CommandMenuUpdater)
	if !ok {
		return nil
	}
	r.mu.RLock()
	menu := buildMenu(r.ordered)
	r.mu.RUnlock()
	return up.UpdateMenuCommands(ctx, menu)
}

// Run consumes updates until ctx ends or the channel closes. sessionSweep
// controls how often expired sessions are dropped; zero disables sweeping.
func (r *Router) Run(ctx context.Context, updates <-chan kit.Update, sessionSweep time.Duration) error {
	sup := supervisor.New(ctx, supervisor.WithLogger(r.log), supervisor.WithCancelOnError(false))

	queues := make([]chan func(), r.workers)
	for i := range queues {
		q := make(chan func(), r.queueCap)
		queues[i] = q
		idx := i
		sup.GoRestart("router.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job, ok := <-q:
					if !ok {
						return nil
					}
					r.runJob(idx, job)
				}
			}
		}, supervisor.WithRestartBackoff(200*time.Millisecond, 5*time.Second))
	}
	r.queues.Store(&queues)

	if sessionSweep > 0 {
		sup.Go0("router.session_sweep", func(c context.Context) {
			t := time.NewTicker(sessionSweep)
			defer t.Stop()
			for {
				select {
				case <-c.Done():
					return
				case <-t.C:
					if n := r.sessions.Sweep(); n > 0 {
						r.log.Debug("expired sessions dropped", logx.Int("count", n))
					}
				}
			}
		})
	}

	r.log.Info("dispatcher started", logx.Int("workers", r.workers))
	defer func() {
		r.queues.Store(nil)
		sup.Cancel()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		r.log.Info("dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			r.Route(ctx, up)
		}
	}
}

func (r *Router) runJob(worker int, job func()) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("panic in router job", logx.Int("worker", worker), logx.Any("panic", rec), logx.Stack(string(debug.Stack())))
		}
	}()
	job()
}

// enqueue hands fn to the worker owning userID. Without a running
// dispatcher fn runs inline.
func (r *Router) enqueue(userID int64, fn func()) bool {
	p := r.queues.Load()
	if p == nil {
		fn()
		return true
	}
	qs := *p
	h := fnv.New32a()
	h.Write([]byte(strconv.FormatInt(userID, 10)))
	q := qs[int(h.Sum32()%uint32(len(qs)))]
	select {
	case q <- fn:
		return true
	default:
		return false
	}
}

// Route dispatches a single update.
func (r *Router) Route(ctx context.Context, up kit.Update) {
	switch up.Kind {
	case kit.UpdateMessage:
		if up.Message != nil {
			r.routeMessage(ctx, up)
		}
	case kit.UpdateCallback:
		if up.Callback != nil {
			r.routeCallback(ctx, up)
		}
	}
}

func (r *Router) newRequest(up kit.Update, chat kit.ChatTarget, from kit.User, label string) *Request {
	rid := strconv.FormatUint(r.reqSeq.Add(1), 36)
	return &Request{
		Update: up,
		Chat:   chat,
		From:   from,
		ReqID:  rid,
		Logger: r.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", chat.ChatID),
			logx.Int64("from_id", from.ID),
			logx.String("cmd", label),
		),
		router: r,
	}
}

// ParseCommand splits "/name@bot arg..." into the lower-cased name and args.
func ParseCommand(text string) (name string, args []string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", nil, false
	}
	parts := strings.Fields(text)
	name = strings.TrimPrefix(parts[0], "/")
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name = name[:i]
	}
	if name == "" {
		return "", nil, false
	}
	return strings.ToLower(name), parts[1:], true
}

func (r *Router) routeMessage(ctx context.Context, up kit.Update) {
	msg := up.Message
	chat := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}

	name, args, isCmd := ParseCommand(msg.Text)
	if !isCmd {
		r.routeText(ctx, up, chat)
		return
	}

	r.mu.RLock()
	cmd, found := r.commands[name]
	r.mu.RUnlock()
	if !found {
		if !msg.IsGroup {
			_, _ = r.out.SendText(ctx, chat, UnknownText, nil)
		}
		return
	}

	req := r.newRequest(up, chat, msg.From, cmd.Name)
	req.Command = cmd.Name
	req.Args = args
	req.Text = msg.Text
	h := Chain(cmd.Handle, MWPanicRecover(), MWRequestLog(), MWAccess(cmd.Access), MWTimeout(cmd.Timeout))
	r.submit(ctx, req, h, func() { _, _ = r.out.SendText(ctx, chat, BusyText, nil) })
}

// routeText hands plain text to the active conversation of the sender.
func (r *Router) routeText(ctx context.Context, up kit.Update, chat kit.ChatTarget) {
	msg := up.Message
	key := SessionKey{ChatID: msg.ChatID, UserID: msg.From.ID}
	sess, ok := r.sessions.Get(key)
	if !ok {
		return
	}
	r.mu.RLock()
	flow, found := r.flows[sess.Flow]
	r.mu.RUnlock()
	if !found {
		r.sessions.EndIf(key, sess.ID)
		return
	}
	req := r.newRequest(up, chat, msg.From, "flow:"+flow.Name)
	req.Text = msg.Text
	h := Chain(flow.OnText, MWPanicRecover(), MWRequestLog(), MWAccess(flow.Access), MWTimeout(flow.Timeout))
	r.submit(ctx, req, h, func() { _, _ = r.out.SendText(ctx, chat, BusyText, nil) })
}

func (r *Router) routeCallback(ctx context.Context, up kit.Update) {
	cb := up.Callback
	plugin, action, payload, ok := ParseCallbackData(cb.Data)
	if !ok {
		_ = r.out.AnswerCallback(ctx, cb.ID, "")
		return
	}
	r.mu.RLock()
	route, found := r.callbacks[plugin][action]
	r.mu.RUnlock()
	if !found {
		_ = r.out.AnswerCallback(ctx, cb.ID, "This button is no longer active.")
		return
	}

	chat := kit.ChatTarget{ChatID: cb.ChatID, ThreadID: cb.ThreadID}
	req := r.newRequest(up, chat, cb.From, "cb:"+plugin+":"+action)
	req.Callback = cb
	req.Command = plugin + ":" + action
	handle := func(c context.Context, rq *Request) error { return route.Handle(c, rq, payload) }
	h := Chain(handle, MWPanicRecover(), MWRequestLog(), MWAccess(route.Access), MWTimeout(route.Timeout))
	r.submit(ctx, req, h, func() { _ = r.out.AnswerCallback(ctx, cb.ID, "busy") })
}

// submit resolves admin status and session on the worker, then runs h.
func (r *Router) submit(ctx context.Context, req *Request, h HandlerFunc, onBusy func()) {
	job := func() {
		req.IsAdmin = r.IsAdmin(ctx, req.From.ID)
		if sess, ok := r.sessions.Get(req.Key()); ok {
			req.Session = &sess
		}
		_ = h(ctx, req)
		_ = req.Answer(ctx, "")
	}
	if !r.enqueue(req.From.ID, job) {
		r.log.Warn("router queue full", logx.Int64("from_id", req.From.ID))
		onBusy()
	}
}

// IsAdmin reports whether userID is an owner or a stored admin. Store errors
// deny access.
func (r *Router) IsAdmin(ctx context.Context, userID int64) bool {
	r.mu.RLock()
	owners := r.owners
	r.mu.RUnlock()
	for _, o := range owners {
		if o == userID {
			return true
		}
	}
	if r.admins == nil {
		return false
	}
	ok, err := r.admins.IsAdmin(ctx, userID)
	if err != nil {
		r.log.Warn("admin lookup failed", logx.Int64("user_id", userID), logx.Err(err))
		return false
	}
	return ok
}

// ParseCallbackData splits "plugin:action[:payload]".
func ParseCallbackData(data string) (plugin, action, payload string, ok bool) {
	parts := strings.SplitN(strings.TrimSpace(data), ":", 3)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", "", false
	}
	if len(parts) == 3 {
		payload = parts[2]
	}
	return parts[0], parts[1], payload, true
}

// CallbackData joins the parts ParseCallbackData splits.
func CallbackData(plugin, action, payload string) string {
	if payload == "" {
		return plugin + ":" + action
	}
	return plugin + ":" + action + ":" + payload
}

func (r *Router) handleCancel(ctx context.Context, req *Request) error {
	if sess := req.Session; sess != nil {
		r.mu.RLock()
		flow, found := r.flows[sess.Flow]
		r.mu.RUnlock()
		if found && flow.OnCancel != nil {
			err := flow.OnCancel(ctx, req)
			r.sessions.EndIf(req.Key(), sess.ID)
			return err
		}
	}
	if _, ok := r.sessions.End(req.Key()); !ok {
		_, err := req.Reply(ctx, NothingToCancel, nil)
		return err
	}
	_, err := req.Reply(ctx, CancelText, nil)
	return err
}

func (r *Router) handleHelp(ctx context.Context, req *Request) error {
	r.mu.RLock()
	text := helpText(r.ordered, req.IsAdmin)
	r.mu.RUnlock()
	_, err := req.Reply(ctx, text, &kit.SendOptions{DisablePreview: true})
	return err
}

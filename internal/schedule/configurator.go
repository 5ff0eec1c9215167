package schedule

import (
	"fmt"
	"strings"
)

// Stage is the position of a configuration conversation.
type Stage int

const (
	StageChoosingType Stage = iota
	StageTypingMessage
	StageTypingTime
	StageTypingDay
	StageConfirming
	StageDone
)

func (s Stage) String() string {
	switch s {
	case StageChoosingType:
		return "choosing_type"
	case StageTypingMessage:
		return "typing_message"
	case StageTypingTime:
		return "typing_time"
	case StageTypingDay:
		return "typing_day"
	case StageConfirming:
		return "confirming"
	case StageDone:
		return "done"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// Draft is the schedule being collected. Time is canonical once set.
type Draft struct {
	Kind    Kind
	Message string
	Time    string
	Day     int
	HasDay  bool
}

// State is the full conversation state. It is a value; Step never mutates
// its argument.
type State struct {
	Stage Stage
	Draft Draft
}

func (s State) Terminal() bool { return s.Stage == StageDone }

type InputType int

const (
	InputChoose  InputType = iota + 1 // type button; Input.Kind
	InputText                         // free text
	InputDay                          // weekday button; Input.Day
	InputConfirm                      // confirm button
	InputAbort                        // cancel button on the summary
	InputCancel                       // global /cancel
)

type Input struct {
	Type InputType
	Kind Kind
	Text string
	Day  int
}

type EffectType int

const (
	// EffectNone means the input does not apply to the current stage.
	EffectNone EffectType = iota
	EffectPrompt
	// EffectReject re-prompts in the same stage after invalid input.
	EffectReject
	// EffectCommit asks the caller to persist Effect.Update.
	EffectCommit
	EffectCancelled
)

// Keyboard names the inline keyboard to attach to a prompt.
type Keyboard int

const (
	KeyboardNone Keyboard = iota
	KeyboardType
	KeyboardWeekday
	KeyboardConfirm
)

type Effect struct {
	Type     EffectType
	Text     string
	Keyboard Keyboard
	Update   *Update
}

const (
	PromptChooseType = "Please select the type of scheduled announcement you want to set up:"
	PromptWeekday    = "Please select the day for the weekly announcement:"
	RejectTime       = "Invalid time format. Please enter a time in format like '9:00 AM' or '14:30':"
	RejectMessage    = "The announcement message cannot be empty. Please enter the message:"
	TextAborted      = "Schedule update cancelled."
	TextCancelled    = "Operation cancelled. What would you like to do next?"
)

// Start opens a new conversation.
func Start() (State, Effect) {
	return State{Stage: StageChoosingType}, Effect{Type: EffectPrompt, Text: PromptChooseType, Keyboard: KeyboardType}
}

// Step is the transition function of the configuration conversation.
func Step(st State, in Input) (State, Effect) {
	if st.Terminal() {
		return st, Effect{}
	}
	if in.Type == InputCancel {
		return State{Stage: StageDone}, Effect{Type: EffectCancelled, Text: TextCancelled}
	}

	d := st.Draft
	switch st.Stage {
	case StageChoosingType:
		if in.Type != InputChoose || (in.Kind != KindDaily && in.Kind != KindWeekly) {
			return st, Effect{}
		}
		d = Draft{Kind: in.Kind}
		return State{Stage: StageTypingMessage, Draft: d}, Effect{
			Type: EffectPrompt,
			Text: fmt.Sprintf("You've selected %s Announcement.\n\nPlease enter the message for the %s announcement:", in.Kind.Title(), in.Kind),
		}

	case StageTypingMessage:
		if in.Type != InputText {
			return st, Effect{}
		}
		if strings.TrimSpace(in.Text) == "" {
			return st, Effect{Type: EffectReject, Text: RejectMessage}
		}
		d.Message = in.Text
		return State{Stage: StageTypingTime, Draft: d}, Effect{
			Type: EffectPrompt,
			Text: fmt.Sprintf("Please enter the time for the %s announcement (e.g., 9:00 AM or 14:30):", d.Kind),
		}

	case StageTypingTime:
		if in.Type != InputText {
			return st, Effect{}
		}
		c, err := ParseTime(in.Text)
		if err != nil {
			return st, Effect{Type: EffectReject, Text: RejectTime}
		}
		d.Time = c.Canonical()
		if d.Kind == KindWeekly {
			return State{Stage: StageTypingDay, Draft: d}, Effect{Type: EffectPrompt, Text: PromptWeekday, Keyboard: KeyboardWeekday}
		}
		return confirm(d)

	case StageTypingDay:
		if in.Type != InputDay || in.Day < 0 || in.Day > 6 {
			return st, Effect{}
		}
		d.Day, d.HasDay = in.Day, true
		return confirm(d)

	case StageConfirming:
		switch in.Type {
		case InputConfirm:
			u := Update{Kind: d.Kind, Message: d.Message, Time: d.Time, Day: d.Day}
			return State{Stage: StageDone, Draft: d}, Effect{Type: EffectCommit, Update: &u}
		case InputAbort:
			return State{Stage: StageDone}, Effect{Type: EffectCancelled, Text: TextAborted}
		}
	}
	return st, Effect{}
}

func confirm(d Draft) (State, Effect) {
	return State{Stage: StageConfirming, Draft: d}, Effect{Type: EffectPrompt, Text: Summary(d), Keyboard: KeyboardConfirm}
}

// Summary renders the confirmation text for d.
func Summary(d Draft) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📅 %s Announcement Settings:\n\n", d.Kind.Title())
	if d.Kind == KindWeekly {
		fmt.Fprintf(&b, "📆 Day: %s\n", DayName(d.Day))
	}
	fmt.Fprintf(&b, "⏰ Time: %s\n", ToDisplay(d.Time))
	fmt.Fprintf(&b, "📝 Message:\n%s\n\n", d.Message)
	b.WriteString("Do you want to save these settings?")
	return b.String()
}

package tgui

import kit "announcebot/internal/transport"

// Inline builds an inline keyboard row by row.
type Inline struct {
	rows kit.Keyboard
}

func NewInline() *Inline { return &Inline{} }

func (i *Inline) Row(btn ...kit.Button) *Inline {
	if len(btn) > 0 {
		i.rows = append(i.rows, btn)
	}
	return i
}

func (i *Inline) Keyboard() kit.Keyboard { return i.rows }

// Btn creates a callback button. data is sent back verbatim.
func Btn(text, data string) kit.Button { return kit.Button{Text: text, Data: data} }

// Grid lays buttons out cols per row.
func Grid(cols int, buttons ...kit.Button) kit.Keyboard {
	if cols <= 0 {
		cols = 1
	}
	var kb kit.Keyboard
	for len(buttons) > 0 {
		n := min(cols, len(buttons))
		kb = append(kb, buttons[:n])
		buttons = buttons[n:]
	}
	return kb
}

// Confirm is a single row with a yes and a no button.
func Confirm(yes, no kit.Button) kit.Keyboard {
	return NewInline().Row(yes, no).Keyboard()
}

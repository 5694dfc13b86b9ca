package main

import tea "github.com/charmbracelet/bubbletea"

// leaveKey ends a shell session without sending anything to it.
const leaveKey = "ctrl+]"

var sequences = map[tea.KeyType]string{
	tea.KeyUp:       "\x1b[A",
	tea.KeyDown:     "\x1b[B",
	tea.KeyRight:    "\x1b[C",
	tea.KeyLeft:     "\x1b[D",
	tea.KeyHome:     "\x1b[H",
	tea.KeyEnd:      "\x1b[F",
	tea.KeyPgUp:     "\x1b[5~",
	tea.KeyPgDown:   "\x1b[6~",
	tea.KeyDelete:   "\x1b[3~",
	tea.KeyInsert:   "\x1b[2~",
	tea.KeyShiftTab: "\x1b[Z",
}

// keyBytes translates a key press into what a terminal would send.
func keyBytes(msg tea.KeyMsg) []byte {
	var s string
	switch {
	case msg.Type == tea.KeyRunes || msg.Type == tea.KeySpace:
		s = string(msg.Runes)
		if msg.Paste {
			s = "\x1b[200~" + s + "\x1b[201~"
		}
	case msg.Type >= 0 && msg.Type < 32, msg.Type == 127:
		// Control keys are their own ASCII code.
		s = string(rune(msg.Type))
	default:
		seq, ok := sequences[msg.Type]
		if !ok {
			return nil
		}
		s = seq
	}
	if msg.Alt {
		s = "\x1b" + s
	}
	return []byte(s)
}

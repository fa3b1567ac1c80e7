package model

import (
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
)

// EditorField is a named text input in the editor form.
type EditorField struct {
	Label string
	Input textinput.Model
}

// EnvEditor is the inline form for writing one worker .env key.
type EnvEditor struct {
	fields    []EditorField
	activeIdx int
}

// NewEnvEditor creates a blank key/value form.
func NewEnvEditor() *EnvEditor {
	fields := []EditorField{
		newField("key", ""),
		newField("value", ""),
	}
	fields[0].Input.Focus()
	return &EnvEditor{fields: fields}
}

func newField(label, value string) EditorField {
	ti := textinput.New()
	ti.Placeholder = label
	ti.SetValue(value)
	ti.CharLimit = 256
	return EditorField{Label: label, Input: ti}
}

// HandleKey processes key events in editor mode.
func (e *EnvEditor) HandleKey(a App, msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		a.mode = ModeNormal
		a.editor = nil
		return a, nil

	case "enter":
		key := e.fields[0].Input.Value()
		value := e.fields[1].Input.Value()
		a.mode = ModeNormal
		a.editor = nil
		if key == "" {
			a.statusMsg = "env edit cancelled: empty key"
			return a, nil
		}
		if a.client == nil {
			a.statusMsg = "not connected"
			return a, nil
		}
		a.statusMsg = "saving " + key + "..."
		return a, configSetCmd(a.client, key, value)

	case "tab":
		e.fields[e.activeIdx].Input.Blur()
		e.activeIdx = (e.activeIdx + 1) % len(e.fields)
		e.fields[e.activeIdx].Input.Focus()
		return a, textinput.Blink

	case "shift+tab":
		e.fields[e.activeIdx].Input.Blur()
		e.activeIdx = (e.activeIdx - 1 + len(e.fields)) % len(e.fields)
		e.fields[e.activeIdx].Input.Focus()
		return a, textinput.Blink

	default:
		var cmd tea.Cmd
		e.fields[e.activeIdx].Input, cmd = e.fields[e.activeIdx].Input.Update(msg)
		return a, cmd
	}
}

// View renders the editor form.
func (e *EnvEditor) View(width int) string {
	s := titleStyle.Render(" Worker Env ") + "\n\n"
	for i, f := range e.fields {
		prefix := "  "
		if i == e.activeIdx {
			prefix = "▸ "
		}
		s += prefix + dimStyle.Render(f.Label+": ") + f.Input.View() + "\n"
	}
	s += "\n" + helpStyle.Render("  tab:next  shift+tab:prev  enter:save  esc:cancel")
	return s
}

package tui

import "github.com/charmbracelet/bubbles/key"

type keyMap struct {
	Play      key.Binding
	Stop      key.Binding
	Left      key.Binding
	Right     key.Binding
	Seek      key.Binding
	Select    key.Binding
	MarkIn    key.Binding
	MarkOut   key.Binding
	Deselect  key.Binding
	Cut       key.Binding
	Copy      key.Binding
	Paste     key.Binding
	Delete    key.Binding
	ClearAll  key.Binding
	Undo      key.Binding
	Redo      key.Binding
	ZoomIn    key.Binding
	ZoomOut   key.Binding
	ZoomReset key.Binding
	VolUp     key.Binding
	VolDown   key.Binding
	Save      key.Binding
	Export    key.Binding
	Help      key.Binding
	Quit      key.Binding
}

var keys = keyMap{
	Play:      key.NewBinding(key.WithKeys(" "), key.WithHelp("space", "play/pause")),
	Stop:      key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "stop")),
	Left:      key.NewBinding(key.WithKeys("left", "h"), key.WithHelp("←/h", "cursor left")),
	Right:     key.NewBinding(key.WithKeys("right", "l"), key.WithHelp("→/l", "cursor right")),
	Seek:      key.NewBinding(key.WithKeys("g"), key.WithHelp("g", "seek to cursor")),
	Select:    key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "select 1s")),
	MarkIn:    key.NewBinding(key.WithKeys("["), key.WithHelp("[", "mark in")),
	MarkOut:   key.NewBinding(key.WithKeys("]"), key.WithHelp("]", "mark out")),
	Deselect:  key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "clear selection")),
	Cut:       key.NewBinding(key.WithKeys("x"), key.WithHelp("x", "cut")),
	Copy:      key.NewBinding(key.WithKeys("c"), key.WithHelp("c", "copy")),
	Paste:     key.NewBinding(key.WithKeys("v"), key.WithHelp("v", "paste at cursor")),
	Delete:    key.NewBinding(key.WithKeys("d", "delete"), key.WithHelp("d", "delete")),
	ClearAll:  key.NewBinding(key.WithKeys("C"), key.WithHelp("C", "clear all")),
	Undo:      key.NewBinding(key.WithKeys("u", "ctrl+z"), key.WithHelp("u", "undo")),
	Redo:      key.NewBinding(key.WithKeys("ctrl+r", "ctrl+y"), key.WithHelp("ctrl+r", "redo")),
	ZoomIn:    key.NewBinding(key.WithKeys("+", "="), key.WithHelp("+", "zoom in")),
	ZoomOut:   key.NewBinding(key.WithKeys("-"), key.WithHelp("-", "zoom out")),
	ZoomReset: key.NewBinding(key.WithKeys("0"), key.WithHelp("0", "zoom reset")),
	VolUp:     key.NewBinding(key.WithKeys("."), key.WithHelp(".", "volume up")),
	VolDown:   key.NewBinding(key.WithKeys(","), key.WithHelp(",", "volume down")),
	Save:      key.NewBinding(key.WithKeys("ctrl+s"), key.WithHelp("ctrl+s", "save")),
	Export:    key.NewBinding(key.WithKeys("e"), key.WithHelp("e", "export")),
	Help:      key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "help")),
	Quit:      key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Play, k.Select, k.Cut, k.Paste, k.Delete, k.Undo, k.Help, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Play, k.Stop, k.Seek, k.Left, k.Right},
		{k.Select, k.MarkIn, k.MarkOut, k.Deselect},
		{k.Cut, k.Copy, k.Paste, k.Delete, k.ClearAll},
		{k.Undo, k.Redo, k.ZoomIn, k.ZoomOut, k.ZoomReset},
		{k.VolUp, k.VolDown, k.Save, k.Export, k.Quit},
	}
}

package cli

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// menuItem represents a single configurable option in the TUI.
type menuItem struct {
	label   string
	value   string
	options []menuOption
	editing bool
	cursor  int // cursor within options when editing
}

type menuOption struct {
	label string
	value string
}

// menuState tracks which phase the TUI is in.
type menuState int

const (
	stateMenu menuState = iota
	stateEditing
)

// tuiModel is the Bubble Tea model for the interactive menu.
type tuiModel struct {
	items     []menuItem
	cursor    int
	state     menuState
	width     int
	err       error
	confirmed bool
	cancelled bool
}

// style constants
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7D56F4")).
			MarginBottom(1)

	menuLabelStyle = lipgloss.NewStyle().
			Width(18).
			Align(lipgloss.Right).
			MarginRight(2)

	menuValueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#04B575"))

	menuValueDimStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#555555")).
				Italic(true)

	cursorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#7D56F4")).
			Bold(true)

	optionStyle = lipgloss.NewStyle().
			PaddingLeft(4)

	selectedOptionStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#04B575")).
				Bold(true).
				PaddingLeft(2)

	buttonStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 3)

	buttonDimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#555555")).
			Padding(0, 3)

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#626262")).
			MarginTop(1)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF5555")).
			Bold(true)

	headerBorder = lipgloss.NewStyle().
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true).
			BorderForeground(lipgloss.Color("#7D56F4")).
			MarginBottom(1).
			PaddingBottom(0)
)

// menu item indices
const (
	idxAudioDir = iota
	idxTextDir
	idxCheckpointDir
	idxOutputDir
	idxLanguage
	idxEngine
	idxDevice
	idxStart
)

func buildMenuItems() []menuItem {
	items := []menuItem{
		{label: "Recordings", value: flagAudioDir},
		{label: "Texts", value: flagTextDir},
		{label: "Checkpoint", value: flagCheckpointDir},
		{label: "Output", value: flagOutputDir},
		{
			label: "Language",
			value: strings.ToUpper(flagLanguage),
			options: []menuOption{
				{label: "English (default)", value: "EN"},
				{label: "Spanish", value: "ES"},
				{label: "French", value: "FR"},
				{label: "Chinese", value: "ZH"},
				{label: "Japanese", value: "JP"},
				{label: "Korean", value: "KR"},
			},
		},
		{
			label: "Engine",
			value: flagEngine,
			options: []menuOption{
				{label: "MeloTTS sidecar (default)", value: "melo"},
				{label: "Google Cloud TTS (Chirp 3 HD)", value: "google"},
			},
		},
		{
			label: "Device",
			value: flagDevice,
			options: []menuOption{
				{label: "CPU (default)", value: "cpu"},
				{label: "CUDA", value: "cuda"},
			},
		},
		{label: ">>> Start <<<"},
	}

	// Pre-select cursor position for options
	for i := range items {
		for j, opt := range items[i].options {
			if opt.value == items[i].value {
				items[i].cursor = j
				break
			}
		}
	}

	return items
}

func initialTUIModel() tuiModel {
	return tuiModel{
		items:  buildMenuItems(),
		cursor: idxAudioDir,
		state:  stateMenu,
	}
}

func (m tuiModel) Init() tea.Cmd {
	return nil
}

func (m tuiModel) isTextInput(idx int) bool {
	return idx <= idxOutputDir
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case tea.KeyMsg:
		switch m.state {
		case stateMenu:
			return m.updateMenu(msg)
		case stateEditing:
			return m.updateEditing(msg)
		}
	}
	return m, nil
}

func (m tuiModel) updateMenu(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "q":
		m.cancelled = true
		return m, tea.Quit

	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}

	case "down", "j":
		if m.cursor < len(m.items)-1 {
			m.cursor++
		}

	case "enter", " ":
		if m.cursor == idxStart {
			if m.items[idxAudioDir].value == "" {
				m.err = fmt.Errorf("recordings directory is required")
				return m, nil
			}
			m.confirmed = true
			return m, tea.Quit
		}

		m.state = stateEditing
		m.items[m.cursor].editing = true
		m.err = nil
		return m, nil
	}
	return m, nil
}

func (m tuiModel) updateEditing(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	idx := m.cursor
	item := &m.items[idx]

	// Text input for the directory fields
	if m.isTextInput(idx) {
		switch msg.String() {
		case "enter":
			item.editing = false
			m.state = stateMenu
			if m.cursor < len(m.items)-1 {
				m.cursor++
			}
			return m, nil
		case "esc":
			item.editing = false
			m.state = stateMenu
			return m, nil
		case "backspace":
			if len(item.value) > 0 {
				item.value = item.value[:len(item.value)-1]
			}
			return m, nil
		case "ctrl+u":
			item.value = ""
			return m, nil
		default:
			if msg.Type == tea.KeyRunes {
				item.value += string(msg.Runes)
			}
			return m, nil
		}
	}

	// Option selector for the rest
	switch msg.String() {
	case "enter", " ":
		if item.cursor >= 0 && item.cursor < len(item.options) {
			item.value = item.options[item.cursor].value
		}
		item.editing = false
		m.state = stateMenu
		if m.cursor < len(m.items)-1 {
			m.cursor++
		}
		return m, nil

	case "esc":
		item.editing = false
		m.state = stateMenu
		return m, nil

	case "up", "k":
		if item.cursor > 0 {
			item.cursor--
		}

	case "down", "j":
		if item.cursor < len(item.options)-1 {
			item.cursor++
		}
	}
	return m, nil
}

func (m tuiModel) View() string {
	var b strings.Builder

	title := titleStyle.Render("VocalTwin")
	header := headerBorder.Render(title)
	b.WriteString(header)
	b.WriteString("\n")

	for i, item := range m.items {
		isActive := m.cursor == i

		if i == idxStart {
			b.WriteString("\n")
			if isActive {
				b.WriteString("  " + buttonStyle.Render(" Start "))
			} else {
				b.WriteString("  " + buttonDimStyle.Render(" Start "))
			}
			b.WriteString("\n")
			continue
		}

		cursor := "  "
		if isActive {
			cursor = cursorStyle.Render("> ")
		}

		renderedLabel := menuLabelStyle.Render(item.label)

		var renderedValue string
		if item.editing && m.isTextInput(i) {
			renderedValue = menuValueStyle.Render(item.value + "_")
		} else if item.value == "" {
			placeholder := "(not set)"
			if len(item.options) > 0 {
				placeholder = item.options[0].label
			}
			renderedValue = menuValueDimStyle.Render(placeholder)
		} else {
			displayVal := item.value
			for _, opt := range item.options {
				if opt.value == item.value {
					displayVal = opt.label
					break
				}
			}
			renderedValue = menuValueStyle.Render(displayVal)
		}

		b.WriteString(cursor + renderedLabel + " " + renderedValue + "\n")

		if item.editing && len(item.options) > 0 {
			for j, opt := range item.options {
				if j == item.cursor {
					b.WriteString(selectedOptionStyle.Render("> "+opt.label) + "\n")
				} else {
					b.WriteString(optionStyle.Render("  "+opt.label) + "\n")
				}
			}
		}
	}

	if m.err != nil {
		b.WriteString("\n" + errorStyle.Render("  Error: "+m.err.Error()) + "\n")
	}

	switch m.state {
	case stateMenu:
		b.WriteString(helpStyle.Render("  j/k or arrows to navigate | enter to edit | q to quit"))
	case stateEditing:
		if m.isTextInput(m.cursor) {
			b.WriteString(helpStyle.Render("  type value | enter to confirm | esc to cancel | ctrl+u to clear"))
		} else {
			b.WriteString(helpStyle.Render("  j/k or arrows to pick | enter to select | esc to cancel"))
		}
	}
	b.WriteString("\n")

	return b.String()
}

// runInteractiveSetup runs the wizard and applies selections to the flags.
// Returns false when the user backed out.
func runInteractiveSetup() (bool, error) {
	m := initialTUIModel()

	p := tea.NewProgram(m, tea.WithAltScreen())
	result, err := p.Run()
	if err != nil {
		return false, fmt.Errorf("TUI error: %w", err)
	}

	final := result.(tuiModel)
	if final.cancelled || !final.confirmed {
		return false, nil
	}

	flagAudioDir = final.items[idxAudioDir].value
	flagTextDir = final.items[idxTextDir].value
	flagCheckpointDir = final.items[idxCheckpointDir].value
	flagOutputDir = final.items[idxOutputDir].value
	flagLanguage = final.items[idxLanguage].value
	flagEngine = final.items[idxEngine].value
	flagDevice = final.items[idxDevice].value

	return true, nil
}

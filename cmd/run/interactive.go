package main

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"
	"golang.org/x/term"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	promptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	consoleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

// maxEntries bounds the transcript kept on screen.
const maxEntries = 200

// consoleBuffer collects console output between evaluations.
type consoleBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *consoleBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *consoleBuffer) take() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := strings.TrimRight(b.buf.String(), "\n")
	b.buf.Reset()
	return s
}

type entry struct {
	input   string
	console string
	res     result
}

type interactiveModel struct {
	sess    *session
	console *consoleBuffer
	input   textinput.Model
	entries []entry
	history []string
	histIdx int
	busy    bool
	seq     int
}

func newInteractiveModel(sess *session, console *consoleBuffer) *interactiveModel {
	ti := textinput.New()
	ti.Prompt = promptStyle.Render("> ")
	ti.Placeholder = "javascript"
	ti.Width = 80
	ti.Focus()
	return &interactiveModel{sess: sess, console: console, input: ti}
}

type evalResultMsg struct {
	entry entry
}

func (m *interactiveModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m *interactiveModel) evaluate(src string) tea.Cmd {
	m.seq++
	name := fmt.Sprintf("repl:%d", m.seq)
	return func() tea.Msg {
		r := m.sess.eval(src, name)
		return evalResultMsg{entry: entry{input: src, console: m.console.take(), res: r}}
	}
}

func (m *interactiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			if m.busy {
				m.sess.Interrupt()
				return m, nil
			}
			return m, tea.Quit

		case "ctrl+d", "esc":
			if !m.busy {
				return m, tea.Quit
			}

		case "ctrl+l":
			m.entries = nil
			return m, nil

		case "up":
			if m.histIdx > 0 {
				m.histIdx--
				m.input.SetValue(m.history[m.histIdx])
				m.input.CursorEnd()
			}
			return m, nil

		case "down":
			if m.histIdx < len(m.history)-1 {
				m.histIdx++
				m.input.SetValue(m.history[m.histIdx])
				m.input.CursorEnd()
			} else {
				m.histIdx = len(m.history)
				m.input.SetValue("")
			}
			return m, nil

		case "enter":
			src := strings.TrimSpace(m.input.Value())
			if m.busy || src == "" {
				return m, nil
			}
			m.history = append(m.history, src)
			m.histIdx = len(m.history)
			m.input.SetValue("")
			m.busy = true
			return m, m.evaluate(src)
		}

	case evalResultMsg:
		m.busy = false
		m.entries = append(m.entries, msg.entry)
		if len(m.entries) > maxEntries {
			m.entries = m.entries[len(m.entries)-maxEntries:]
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *interactiveModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("JS Runtime"))
	b.WriteString(" ")
	b.WriteString(helpStyle.Render(versionString()))
	b.WriteString("\n\n")

	for _, e := range m.entries {
		b.WriteString(promptStyle.Render("> "))
		b.WriteString(e.input)
		b.WriteString("\n")
		if e.console != "" {
			b.WriteString(consoleStyle.Render(e.console))
			b.WriteString("\n")
		}
		if e.res.err != nil {
			b.WriteString(errorStyle.Render(formatError(e.res)))
		} else {
			b.WriteString(resultStyle.Render(e.res.text))
		}
		b.WriteString("\n")
	}

	b.WriteString(m.input.View())
	b.WriteString("\n\n")
	if m.busy {
		b.WriteString(helpStyle.Render("running • ctrl+c interrupt"))
	} else {
		b.WriteString(helpStyle.Render("enter eval • ↑/↓ history • ctrl+l clear • ctrl+c quit"))
	}
	return b.String()
}

func runInteractive(cfg config, log *zap.Logger) error {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		sess, err := newSession(cfg, log, os.Stdout, os.Stderr)
		if err != nil {
			return err
		}
		defer sess.Close()
		return runLines(sess, os.Stdin, os.Stdout)
	}

	console := &consoleBuffer{}
	sess, err := newSession(cfg, log, console, console)
	if err != nil {
		return err
	}
	defer sess.Close()

	p := tea.NewProgram(newInteractiveModel(sess, console), tea.WithAltScreen())
	_, err = p.Run()
	return err
}

// runLines evaluates r line by line, for piped input.
func runLines(sess *session, r io.Reader, w io.Writer) error {
	sc := bufio.NewScanner(r)
	for n := 1; sc.Scan(); n++ {
		src := strings.TrimSpace(sc.Text())
		if src == "" {
			continue
		}
		res := sess.eval(src, fmt.Sprintf("stdin:%d", n))
		if res.err != nil {
			fmt.Fprintln(w, formatError(res))
			continue
		}
		fmt.Fprintln(w, res.text)
	}
	return sc.Err()
}

func formatError(r result) string {
	if r.stack != "" {
		return r.stack
	}
	return fmt.Sprintf("Error: %v", r.err)
}

package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/wippyai/wasm-bridge/engine"
	"github.com/wippyai/wasm-bridge/runtime"
	"github.com/wippyai/wasm-bridge/value"
	"github.com/wippyai/wasm-bridge/wasm"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#2E6F9E")).
			Padding(0, 1)

	funcStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#98FB98"))
	typeStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#87CEEB"))
	selectedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FAFAFA")).Background(lipgloss.Color("#2E6F9E"))
	resultStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#90EE90"))
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B"))
	outputStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#CCCCCC")).BorderStyle(lipgloss.NormalBorder()).BorderLeft(true).PaddingLeft(1)
	helpStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#666666"))
)

const outputLines = 8

type callOptions struct {
	module moduleOptions
}

func newCallCmd(root *rootOptions) *cobra.Command {
	o := &callOptions{}
	cmd := &cobra.Command{
		Use:   "call <module>",
		Short: "Call exports of a live instance interactively",
		Long: `Open a terminal UI over one instance of the module. Pick an export, enter
its arguments and see the result. The instance stays alive between calls, so
globals and memory carry over. Guest stdout and stderr are bound to the
instance and shown below the result.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !term.IsTerminal(int(os.Stdout.Fd())) {
				return fmt.Errorf("call needs a terminal; use run for scripted calls")
			}
			return o.run(cmd, root, args[0])
		},
	}
	o.module.register(cmd.Flags())
	return cmd
}

func (o *callOptions) run(cmd *cobra.Command, root *rootOptions, path string) error {
	ctx := cmd.Context()
	raw, err := root.rawConfig()
	if err != nil {
		return err
	}
	for _, stream := range []string{"stdin", "stdout", "stderr"} {
		raw["wasi."+stream+".bindMode"] = "instance"
	}

	eng, err := engine.New(ctx, root.engineOptions()...)
	if err != nil {
		return err
	}
	defer eng.Close(context.WithoutCancel(ctx))

	mod, err := o.module.load(ctx, eng, path)
	if err != nil {
		return err
	}

	m := newCallModel(path, mod)
	inst, err := runtime.New(eng).InstantiateMap(ctx, mod, nil, raw, runtime.WithEvents(m.events()))
	if err != nil {
		return err
	}
	defer inst.Close(context.WithoutCancel(ctx))
	// the UI owns the terminal, so guest reads see end of input
	_ = inst.StdinClose()
	m.inst = inst
	m.ctx = ctx

	_, err = tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	return err
}

type modelState int

const (
	stateSelectFunc modelState = iota
	stateInputArgs
	stateShowResult
)

type callModel struct {
	ctx      context.Context
	inst     *runtime.Instance
	filename string
	funcs    []wasm.FuncExport
	inputs   []textinput.Model
	output   *outputLog
	result   string
	err      error
	selected int
	focusIdx int
	state    modelState
}

type callResultMsg struct {
	result string
	err    error
}

func newCallModel(filename string, mod *engine.Module) *callModel {
	funcs := append([]wasm.FuncExport(nil), mod.Exports()...)
	sort.Slice(funcs, func(i, j int) bool { return funcs[i].Name < funcs[j].Name })
	return &callModel{
		filename: filename,
		funcs:    funcs,
		output:   &outputLog{},
	}
}

// outputLog keeps the last guest output lines. Calls run in bubbletea
// command goroutines while View reads it.
type outputLog struct {
	mu    sync.Mutex
	lines []string
}

func (l *outputLog) emit(prefix string) func(string) {
	return func(s string) {
		l.mu.Lock()
		defer l.mu.Unlock()
		for _, line := range strings.Split(strings.TrimSuffix(s, "\n"), "\n") {
			l.lines = append(l.lines, prefix+line)
		}
		if len(l.lines) > outputLines {
			l.lines = l.lines[len(l.lines)-outputLines:]
		}
	}
}

func (l *outputLog) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return strings.Join(l.lines, "\n")
}

func (m *callModel) events() runtime.Events {
	return runtime.Events{
		StdoutEmit: m.output.emit(""),
		StderrEmit: m.output.emit("! "),
	}
}

func (m *callModel) Init() tea.Cmd { return nil }

func (m *callModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit

		case "q":
			if m.state != stateInputArgs {
				return m, tea.Quit
			}

		case "up", "k":
			if m.state == stateSelectFunc && m.selected > 0 {
				m.selected--
			}

		case "down", "j":
			if m.state == stateSelectFunc && m.selected < len(m.funcs)-1 {
				m.selected++
			}

		case "enter":
			switch m.state {
			case stateSelectFunc:
				if len(m.funcs) == 0 {
					return m, nil
				}
				m.prepareInputs()
				if len(m.inputs) == 0 {
					return m, m.callFunction
				}
				m.state = stateInputArgs
				return m, textinput.Blink

			case stateInputArgs:
				return m, m.callFunction

			case stateShowResult:
				m.reset()
			}
			return m, nil

		case "tab":
			if m.state == stateInputArgs && len(m.inputs) > 1 {
				m.inputs[m.focusIdx].Blur()
				m.focusIdx = (m.focusIdx + 1) % len(m.inputs)
				m.inputs[m.focusIdx].Focus()
			}
			return m, nil

		case "esc":
			if m.state != stateSelectFunc {
				m.reset()
			}
			return m, nil
		}

	case callResultMsg:
		m.result = msg.result
		m.err = msg.err
		m.state = stateShowResult
		return m, nil
	}

	if m.state == stateInputArgs {
		cmds := make([]tea.Cmd, len(m.inputs))
		for i := range m.inputs {
			m.inputs[i], cmds[i] = m.inputs[i].Update(msg)
		}
		return m, tea.Batch(cmds...)
	}
	return m, nil
}

func (m *callModel) reset() {
	m.state = stateSelectFunc
	m.inputs = nil
	m.result = ""
	m.err = nil
}

func (m *callModel) prepareInputs() {
	f := m.funcs[m.selected]
	m.inputs = make([]textinput.Model, len(f.Type.Params))
	for i, p := range f.Type.Params {
		ti := textinput.New()
		ti.Placeholder = p.String()
		ti.Prompt = fmt.Sprintf("arg%d: ", i)
		ti.Width = 40
		if i == 0 {
			ti.Focus()
		}
		m.inputs[i] = ti
	}
	m.focusIdx = 0
}

func (m *callModel) callFunction() tea.Msg {
	f := m.funcs[m.selected]
	args := make([]value.Variant, len(m.inputs))
	for i, input := range m.inputs {
		v, err := argForType(input.Value(), f.Type.Params[i])
		if err != nil {
			return callResultMsg{err: fmt.Errorf("arg%d: %w", i, err)}
		}
		args[i] = v
	}
	res, err := m.inst.CallWasm(m.ctx, f.Name, args...)
	if err != nil {
		return callResultMsg{err: err}
	}
	return callResultMsg{result: formatValue(res)}
}

func (m *callModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("wasmbridge"))
	b.WriteString(" ")
	b.WriteString(m.filename)
	b.WriteString("\n\n")

	if len(m.funcs) == 0 {
		b.WriteString("The module exports no functions.\n\n")
		b.WriteString(helpStyle.Render("q quit"))
		return b.String()
	}

	switch m.state {
	case stateSelectFunc:
		b.WriteString("Select an export:\n\n")
		for i, f := range m.funcs {
			if i == m.selected {
				b.WriteString(selectedStyle.Render("> " + f.Name + " " + f.Type.String()))
			} else {
				b.WriteString("  " + formatFunc(f))
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("↑/↓ select • enter call • q quit"))

	case stateInputArgs:
		f := m.funcs[m.selected]
		fmt.Fprintf(&b, "Calling %s\n\n", funcStyle.Render(f.Name))
		for _, input := range m.inputs {
			b.WriteString(input.View())
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("tab next field • enter call • esc back"))

	case stateShowResult:
		f := m.funcs[m.selected]
		fmt.Fprintf(&b, "Result of %s:\n\n", funcStyle.Render(f.Name))
		if m.err != nil {
			b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
		} else {
			b.WriteString(resultStyle.Render(m.result))
		}
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("enter continue • q quit"))
	}

	if out := m.output.String(); out != "" {
		b.WriteString("\n\n")
		b.WriteString(outputStyle.Render(out))
	}
	return b.String()
}

func formatFunc(f wasm.FuncExport) string {
	params := lo.Map(f.Type.Params, func(t wasm.ValType, _ int) string { return typeStyle.Render(t.String()) })
	results := lo.Map(f.Type.Results, func(t wasm.ValType, _ int) string { return typeStyle.Render(t.String()) })
	s := funcStyle.Render(f.Name) + "(" + strings.Join(params, ", ") + ")"
	if len(results) > 0 {
		s += " -> " + strings.Join(results, ", ")
	}
	return s
}

package main

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	wasmengine "github.com/wippyai/wasm-engine"
	"github.com/wippyai/wasm-engine/runtime"
	"github.com/wippyai/wasm-engine/types"
)

var interactiveCmd = &cobra.Command{
	Use:   "interactive <file>",
	Short: "Pick exports and call them from a terminal UI",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p := tea.NewProgram(newInteractiveModel(cmd, args[0]), tea.WithAltScreen())
		_, err := p.Run()
		return err
	},
}

type modelState int

const (
	stateSelectFunc modelState = iota
	stateInputArgs
	stateShowResult
)

type funcInfo struct {
	name string
	typ  *types.FunctionType
}

type interactiveModel struct {
	cmd      *cobra.Command
	filename string
	err      error
	instance *runtime.Instance
	output   *bytes.Buffer
	funcs    []funcInfo
	inputs   []textinput.Model
	result   string
	selected int
	focusIdx int
	state    modelState
}

type loadedMsg struct {
	err   error
	inst  *runtime.Instance
	funcs []funcInfo
}

type callResultMsg struct {
	err    error
	result string
}

func newInteractiveModel(cmd *cobra.Command, filename string) *interactiveModel {
	return &interactiveModel{
		cmd:      cmd,
		filename: filename,
		output:   new(bytes.Buffer),
		state:    stateSelectFunc,
	}
}

func (m *interactiveModel) Init() tea.Cmd {
	return m.load
}

func (m *interactiveModel) load() tea.Msg {
	inst, err := instantiate(m.cmd, m.filename, m.output)
	if err != nil {
		return loadedMsg{err: err}
	}
	var funcs []funcInfo
	for _, exp := range inst.Exports() {
		if ft, ok := exp.Type.(*types.FunctionType); ok {
			funcs = append(funcs, funcInfo{name: exp.Name, typ: ft})
		}
	}
	sort.Slice(funcs, func(i, j int) bool { return funcs[i].name < funcs[j].name })
	if len(funcs) == 0 {
		return loadedMsg{err: fmt.Errorf("%s exports no functions", m.filename)}
	}
	return loadedMsg{inst: inst, funcs: funcs}
}

func (m *interactiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			if m.state != stateInputArgs || msg.String() == "ctrl+c" {
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
					break
				}
				m.prepareInputs()
				if len(m.inputs) == 0 {
					return m, m.callFunction
				}
				m.state = stateInputArgs

			case stateInputArgs:
				return m, m.callFunction

			case stateShowResult:
				m.reset()
			}

		case "tab":
			if m.state == stateInputArgs && len(m.inputs) > 1 {
				m.inputs[m.focusIdx].Blur()
				m.focusIdx = (m.focusIdx + 1) % len(m.inputs)
				m.inputs[m.focusIdx].Focus()
			}

		case "esc":
			if m.state != stateSelectFunc {
				m.reset()
			}
		}

	case loadedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.instance = msg.inst
		m.funcs = msg.funcs

	case callResultMsg:
		m.result = msg.result
		m.err = msg.err
		m.state = stateShowResult
	}

	if m.state == stateInputArgs {
		var cmds []tea.Cmd
		for i := range m.inputs {
			var cmd tea.Cmd
			m.inputs[i], cmd = m.inputs[i].Update(msg)
			cmds = append(cmds, cmd)
		}
		return m, tea.Batch(cmds...)
	}
	return m, nil
}

func (m *interactiveModel) reset() {
	m.state = stateSelectFunc
	m.inputs = nil
	m.result = ""
	m.err = nil
	m.output.Reset()
}

func (m *interactiveModel) prepareInputs() {
	params := m.funcs[m.selected].typ.Params()
	m.inputs = make([]textinput.Model, len(params))
	for i, p := range params {
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

func (m *interactiveModel) callFunction() tea.Msg {
	f := m.funcs[m.selected]
	args := make([]string, len(m.inputs))
	for i, input := range m.inputs {
		args[i] = strings.TrimSpace(input.Value())
	}
	vals, err := wasmengine.ParseArgs(f.typ, args)
	if err != nil {
		return callResultMsg{err: err}
	}
	res, err := m.instance.Call(context.Background(), f.name, vals...)
	if err != nil {
		return callResultMsg{err: err}
	}
	out := make([]string, len(res))
	for i, v := range res {
		out[i] = v.String()
	}
	return callResultMsg{result: strings.Join(out, " ")}
}

func (m *interactiveModel) View() string {
	if m.err != nil && m.state != stateShowResult {
		return errStyle.Render(fmt.Sprintf("Error: %v\n\nPress q to quit.", m.err))
	}
	if len(m.funcs) == 0 {
		return "Loading module..."
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("wasmrun"))
	b.WriteString(" ")
	b.WriteString(m.filename)
	if m.instance != nil {
		fmt.Fprintf(&b, " [%s]", m.instance.State())
	}
	b.WriteString("\n\n")

	switch m.state {
	case stateSelectFunc:
		b.WriteString("Select a function to call:\n\n")
		for i, f := range m.funcs {
			if i == m.selected {
				b.WriteString(selectedStyle.Render("> " + f.name + " " + f.typ.String()))
			} else {
				b.WriteString("  " + formatFunc(f))
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("↑/↓ select • enter call • q quit"))

	case stateInputArgs:
		f := m.funcs[m.selected]
		fmt.Fprintf(&b, "Calling %s\n\n", funcStyle.Render(f.name))
		for _, input := range m.inputs {
			b.WriteString(input.View())
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("tab next field • enter call • esc back"))

	case stateShowResult:
		f := m.funcs[m.selected]
		fmt.Fprintf(&b, "Result of %s:\n\n", funcStyle.Render(f.name))
		if m.err != nil {
			b.WriteString(errStyle.Render(fmt.Sprintf("Error: %v", m.err)))
		} else {
			b.WriteString(resultStyle.Render(m.result))
		}
		if m.output.Len() > 0 {
			b.WriteString("\n\n")
			b.WriteString(helpStyle.Render("output:"))
			b.WriteString("\n")
			b.WriteString(m.output.String())
		}
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("enter continue • q quit"))
	}
	return b.String()
}

func formatFunc(f funcInfo) string {
	return funcStyle.Render(f.name) + " " + typeStyle.Render(f.typ.String())
}

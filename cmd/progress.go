package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Zzyang0/Takachar-kobo-sharepoint-pipeline/cmd/kobo"
)

type runPhase int

const (
	phaseConnecting runPhase = iota
	phaseTransferring
	phaseComplete
)

var (
	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#626262")).
			Margin(0, 2)

	stageStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#04B575")).
			Margin(0, 2)

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFAA00")).
			Bold(true).
			Margin(0, 2)

	progressInfoStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#888888")).
				Margin(0, 2)
)

type eventMsg pipelineEvent

type runDoneMsg struct {
	report *RunReport
	err    error
}

type transferModel struct {
	phase           runPhase
	overallProgress progress.Model
	currentSpinner  spinner.Model
	messages        []string
	currentForm     string
	currentFile     string
	formCount       int
	formsDone       int
	transferred     int
	skipped         int
	failed          int
	width           int
	done            bool
	startTime       time.Time
	report          *RunReport
	err             error

	events <-chan tea.Msg
	cancel context.CancelFunc
}

func newTransferModel(events <-chan tea.Msg, cancel context.CancelFunc) transferModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	overallProg := progress.New(
		progress.WithScaledGradient("#FF7CCB", "#FDFF8C"),
		progress.WithWidth(60),
	)

	return transferModel{
		phase:           phaseConnecting,
		overallProgress: overallProg,
		currentSpinner:  s,
		messages:        make([]string, 0),
		startTime:       time.Now(),
		events:          events,
		cancel:          cancel,
	}
}

func (m transferModel) waitForEvent() tea.Cmd {
	return func() tea.Msg {
		return <-m.events
	}
}

func (m transferModel) Init() tea.Cmd {
	return tea.Batch(
		m.currentSpinner.Tick,
		m.waitForEvent(),
	)
}

func (m transferModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyMsg(msg)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.overallProgress.Width = msg.Width - 10
		return m, nil
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.currentSpinner, cmd = m.currentSpinner.Update(msg)
		return m, cmd
	case progress.FrameMsg:
		pm, cmd := m.overallProgress.Update(msg)
		if p, ok := pm.(progress.Model); ok {
			m.overallProgress = p
		}
		return m, cmd
	case eventMsg:
		return m.handleEventMsg(pipelineEvent(msg))
	case runDoneMsg:
		m.phase = phaseComplete
		m.done = true
		m.report = msg.report
		m.err = msg.err
		return m, tea.Quit
	}
	return m, nil
}

func (m transferModel) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.String() == "ctrl+c" || msg.String() == "q" {
		if m.cancel != nil {
			m.cancel()
		}
		m.done = true
		return m, tea.Quit
	}
	return m, nil
}

func (m transferModel) handleEventMsg(ev pipelineEvent) (tea.Model, tea.Cmd) {
	m.phase = phaseTransferring
	m.currentForm = ev.Form
	if ev.FormCount > 0 {
		m.formCount = ev.FormCount
	}

	var cmds []tea.Cmd
	if ev.FormDone {
		m.formsDone = ev.FormIdx + 1
		m.currentFile = ""
		m.addMessage(fmt.Sprintf("✅ Finished form: %s", ev.Form))
		if m.formCount > 0 {
			cmds = append(cmds, m.overallProgress.SetPercent(float64(m.formsDone)/float64(m.formCount)))
		}
	} else {
		m.currentFile = ev.File
		switch ev.Outcome {
		case OutcomeTransferred:
			m.transferred++
		case OutcomeSkipExisting, OutcomeSkipDuplicateRun, OutcomeSkipExistingRace:
			m.skipped++
		case OutcomeSourceUnreachable, OutcomeUploadFailed:
			m.failed++
			m.addMessage(fmt.Sprintf("❌ %s (%s)", ev.File, ev.Outcome))
		}
	}

	cmds = append(cmds, m.waitForEvent())
	return m, tea.Batch(cmds...)
}

func (m *transferModel) addMessage(msg string) {
	m.messages = append(m.messages, msg)
	if len(m.messages) > 10 {
		m.messages = m.messages[len(m.messages)-10:]
	}
}

func (m transferModel) View() string {
	if m.done && m.phase == phaseComplete {
		return ""
	}

	var sections []string

	sections = append(sections, "")
	sections = append(sections, headerStyle.Render("   Kobo → SharePoint media transfer"))
	sections = append(sections, "")

	sections = append(sections, helpStyle.Render("   Log:"))
	if len(m.messages) == 0 {
		sections = append(sections, "     (waiting for operations...)")
	} else {
		for _, msg := range m.messages {
			sections = append(sections, "     "+msg)
		}
	}
	sections = append(sections, "")

	switch m.phase {
	case phaseConnecting:
		sections = append(sections, stageStyle.Render(fmt.Sprintf("   %s Connecting and listing forms...", m.currentSpinner.View())))
	case phaseTransferring:
		if m.formCount > 0 {
			overallInfo := fmt.Sprintf("   Overall: %d/%d forms", m.formsDone, m.formCount)
			sections = append(sections, progressInfoStyle.Render(overallInfo))
			sections = append(sections, "   "+m.overallProgress.ViewAs(float64(m.formsDone)/float64(m.formCount)))
			sections = append(sections, "")
		}
		if m.currentForm != "" {
			stageInfo := fmt.Sprintf("   %s %s", m.currentSpinner.View(), m.currentForm)
			if m.currentFile != "" {
				stageInfo += progressInfoStyle.Render(" " + m.currentFile)
			}
			sections = append(sections, stageStyle.Render(stageInfo))
		}
		counters := fmt.Sprintf("   %d transferred, %d skipped, %d failed, elapsed %s",
			m.transferred, m.skipped, m.failed, time.Since(m.startTime).Round(time.Second))
		sections = append(sections, progressInfoStyle.Render(counters))
	}

	sections = append(sections, "")
	sections = append(sections, helpStyle.Render("   Press Ctrl+C or 'q' to quit"))

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

// runWithProgress drives the pipeline under the TUI: the run happens in a
// goroutine feeding the model's event channel while the model owns the
// terminal. The pipeline result is reported on a separate channel so it is
// never lost when the user quits the display early.
func runWithProgress(ctx context.Context, p *pipeline, forms []kobo.Form) (*RunReport, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	events := make(chan tea.Msg, 64)
	done := make(chan runDoneMsg, 1)

	p.notify = func(ev pipelineEvent) {
		select {
		case events <- eventMsg(ev):
		default:
			// Display is behind; dropping a progress event is harmless.
		}
	}

	go func() {
		report, err := p.Run(ctx, forms)
		msg := runDoneMsg{report: report, err: err}
		done <- msg
		select {
		case events <- msg:
		default:
		}
	}()

	program := tea.NewProgram(newTransferModel(events, cancel))
	if _, err := program.Run(); err != nil {
		cancel()
		res := <-done
		if res.err != nil {
			return res.report, res.err
		}
		return res.report, err
	}

	res := <-done
	return res.report, res.err
}

package tui

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/tatianab/conestoga/internal/game"
	"github.com/tatianab/conestoga/internal/models"
)

// tickRate is how often the controller polls for finished requests.
const tickRate = 100 * time.Millisecond

// saveName is the slot written by the save key.
const saveName = "current"

type model struct {
	ctrl     *game.Controller
	saveDir  string
	items    *models.ItemCatalog
	spinner  spinner.Model
	viewport viewport.Model
	gameLog  string
	notice   string
	width    int
	height   int
}

var (
	choiceStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#EEEEEE")).
			PaddingLeft(1)

	lockedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666")).
			PaddingLeft(1)

	gameStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFFFF"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#888888")).
			Italic(true)

	noticeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFD75F"))

	stateStyle = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder(), false, false, false, true).
			BorderForeground(lipgloss.Color("#3C3C3C")).
			PaddingLeft(2).
			Foreground(lipgloss.Color("#AAAAAA"))

	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFA500")).
			Bold(true).
			Underline(true)
)

func newModel(ctrl *game.Controller, saveDir string, items *models.ItemCatalog) model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	return model{
		ctrl:     ctrl,
		saveDir:  saveDir,
		items:    items,
		spinner:  sp,
		viewport: viewport.New(60, 20),
		gameLog:  gameStyle.Bold(true).Render("The wagon stands ready at Independence.") + "\n\n",
	}
}

type tickMsg time.Time

func tick() tea.Cmd {
	return tea.Tick(tickRate, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m model) Init() tea.Cmd {
	return tea.Batch(tick(), m.spinner.Tick)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.String() == "q" {
			return m, tea.Quit
		}
		m.handleKey(msg)
		m.refresh()
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.viewport.Width = int(float64(msg.Width) * 0.70)
		m.viewport.Height = max(msg.Height-6, 5)
		m.refresh()
		return m, nil

	case tickMsg:
		before := m.ctrl.Mode()
		if m.ctrl.Tick() {
			m.afterTransition(before)
		}
		return m, tick()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m *model) handleKey(msg tea.KeyMsg) {
	before := m.ctrl.Mode()
	var err error
	switch key := msg.String(); key {
	case " ":
		err = m.ctrl.Travel()
		if err == nil {
			m.appendLog(m.ctrl.Message())
		}
	case "1", "2", "3":
		err = m.choose(int(key[0] - '1'))
	case "enter":
		err = m.ctrl.Continue()
	case "esc":
		if before == game.ModeInventory {
			err = m.ctrl.ToggleInventory()
		} else {
			err = m.ctrl.Cancel()
		}
	case "i":
		err = m.ctrl.ToggleInventory()
	case "s":
		if err = m.ctrl.Save(m.saveDir, saveName); err == nil {
			m.afterTransition(before)
			m.notice = m.ctrl.Message()
			return
		}
	case "r":
		err = m.ctrl.Restart()
		if err == nil {
			m.gameLog = ""
			m.appendLog("A new wagon sets out.")
		}
	default:
		return
	}
	if err != nil {
		if !errors.Is(err, game.ErrWrongMode) {
			m.notice = err.Error()
		}
		return
	}
	m.afterTransition(before)
}

func (m *model) choose(i int) error {
	ev, _ := m.ctrl.Event()
	if ev == nil || i >= len(ev.Choices) {
		return game.ErrWrongMode
	}
	choice := ev.Choices[i]
	if err := m.ctrl.Choose(choice.ID); err != nil {
		return err
	}
	m.appendLog("> " + choice.Text)
	return nil
}

// afterTransition writes whatever the last transition produced to the log.
func (m *model) afterTransition(before game.Mode) {
	if n := m.ctrl.OfflineNotice(); n != "" {
		m.notice = n
	}
	mode := m.ctrl.Mode()
	if mode == before {
		return
	}
	switch mode {
	case game.ModeEvent:
		ev, _ := m.ctrl.Event()
		m.appendLog(titleStyle.Render(ev.Title) + "\n" + ev.Narrative)
	case game.ModeResolution, game.ModeTravel:
		if before == game.ModeLoadingResolution || before == game.ModeEvent {
			m.logResult()
		}
	case game.ModeGameOver:
		if before == game.ModeLoadingResolution || before == game.ModeEvent {
			m.logResult()
		}
		victory, why := m.ctrl.Over()
		if victory {
			m.appendLog(titleStyle.Render("You reached Oregon.") + "\n" + why)
		} else {
			m.appendLog(titleStyle.Render("The journey ends.") + "\n" + why)
		}
	}
	m.refresh()
}

func (m *model) logResult() {
	r := m.ctrl.Result()
	if r == nil {
		return
	}
	var b strings.Builder
	if r.Check != nil {
		verdict := "failure"
		if r.Success {
			verdict = "success"
		}
		fmt.Fprintf(&b, "[%s check: %d + %d vs %d, %s]\n", r.Check.Skill, r.Roll, r.Bonus, r.Check.DC, verdict)
	}
	b.WriteString(r.Narrative)
	if r.Aborted {
		b.WriteString("\n" + helpStyle.Render(m.ctrl.Message()))
	}
	m.appendLog(b.String())
}

func (m *model) appendLog(s string) {
	if s == "" {
		return
	}
	m.gameLog += gameStyle.Width(max(m.viewport.Width-2, 20)).Render(s) + "\n\n"
	m.refresh()
}

func (m *model) refresh() {
	m.viewport.SetContent(m.gameLog + m.renderPrompt())
	m.viewport.GotoBottom()
}

// renderPrompt shows the choices of the current event.
func (m model) renderPrompt() string {
	if m.ctrl.Mode() != game.ModeEvent {
		return ""
	}
	ev, _ := m.ctrl.Event()
	var b strings.Builder
	for i, c := range ev.Choices {
		line := fmt.Sprintf("%d. %s", i+1, c.Text)
		if c.Check != nil {
			line += fmt.Sprintf(" (%s check)", c.Check.Skill)
		}
		if why := m.ctrl.LockReason(c); why != "" {
			b.WriteString(lockedStyle.Render(line+" [locked: "+why+"]") + "\n")
			continue
		}
		b.WriteString(choiceStyle.Render(line) + "\n")
	}
	return b.String()
}

func (m model) View() string {
	mode := m.ctrl.Mode()
	var main string
	switch mode {
	case game.ModeInventory:
		main = lipgloss.NewStyle().Width(m.viewport.Width).Height(m.viewport.Height).Render(m.renderInventory())
	default:
		main = m.viewport.View()
	}
	mainView := lipgloss.JoinHorizontal(lipgloss.Top, main, m.renderState())

	status := m.renderStatus()
	if mode == game.ModeLoadingEvent || mode == game.ModeLoadingResolution {
		status = m.spinner.View() + " The storyteller is thinking... " + status
	}
	lines := []string{mainView, status}
	if m.notice != "" {
		lines = append(lines, noticeStyle.Render(m.notice))
	}
	lines = append(lines, helpStyle.Render(help(mode)))
	return "\n" + lipgloss.JoinVertical(lipgloss.Left, lines...) + "\n"
}

func help(mode game.Mode) string {
	switch mode {
	case game.ModeTravel:
		return "space: travel  i: inventory  s: save  q: quit"
	case game.ModeLoadingEvent, game.ModeLoadingResolution:
		return "esc: stop waiting  q: quit"
	case game.ModeEvent:
		return "1-3: choose  q: quit"
	case game.ModeResolution:
		return "enter: continue  q: quit"
	case game.ModeInventory:
		return "esc/i: close  s: save  q: quit"
	case game.ModeGameOver:
		return "r: restart  q: quit"
	}
	return "q: quit"
}

func (m model) renderStatus() string {
	st := m.ctrl.Status()
	conn := "online"
	if st.Offline {
		conn = "offline (" + string(st.OfflineCause) + ")"
	}
	return helpStyle.Render(fmt.Sprintf("storyteller: %s  last fallback: %s  trail book: %d events, %d outcomes",
		conn, st.LastReason, st.EventFallbacks, st.ResolutionFallbacks))
}

func (m model) renderState() string {
	s := m.ctrl.State()
	var b strings.Builder

	b.WriteString(titleStyle.Render("TRAIL") + "\n")
	fmt.Fprintf(&b, "Day %d\n%d / %d miles\n%s, %s\n\n", s.Day, s.MilesTraveled, s.TargetMiles, s.Environment.Biome, s.Environment.Weather)

	b.WriteString(titleStyle.Render("SUPPLIES") + "\n")
	for _, r := range models.Resources {
		fmt.Fprintf(&b, "%s: %d\n", r, s.Resources[r])
	}
	b.WriteString("\n")

	b.WriteString(titleStyle.Render("PARTY") + "\n")
	for _, p := range s.Party {
		line := fmt.Sprintf("%s  hp %d  mor %d", p.Name, p.Health, p.Morale)
		if !p.Active() {
			line += "  (down)"
		} else if len(p.Conditions) > 0 {
			conds := make([]string, len(p.Conditions))
			for i, c := range p.Conditions {
				conds[i] = string(c)
			}
			line += "  " + strings.Join(conds, ",")
		}
		b.WriteString(line + "\n")
	}

	width := max(int(float64(m.width)*0.27), 24)
	return stateStyle.Width(width).Height(m.viewport.Height).Render(b.String())
}

func (m model) renderInventory() string {
	s := m.ctrl.State()
	var b strings.Builder
	b.WriteString(titleStyle.Render("INVENTORY") + "\n")
	if len(s.Inventory) == 0 {
		b.WriteString("(empty)\n")
	}
	for _, id := range slices.Sorted(maps.Keys(s.Inventory)) {
		if n := s.Inventory[id]; n > 0 {
			fmt.Fprintf(&b, "- %s x%d\n", m.items.Name(id), n)
		}
	}
	if len(s.Journal) > 0 {
		b.WriteString("\n" + titleStyle.Render("JOURNAL") + "\n")
		for _, j := range s.Journal {
			b.WriteString("- " + j + "\n")
		}
	}
	return b.String()
}

// Run plays ctrl in the terminal until the player quits. items supplies the
// display names shown in the inventory.
func Run(ctrl *game.Controller, saveDir string, items *models.ItemCatalog) error {
	p := tea.NewProgram(newModel(ctrl, saveDir, items), tea.WithAltScreen())
	_, err := p.Run()
	return err
}

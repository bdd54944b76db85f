package ui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	log "github.com/sirupsen/logrus"

	"taskdeck/internal/config"
	"taskdeck/internal/netstat"
	"taskdeck/internal/orchestrator"
	"taskdeck/internal/tasks"
)

type mode int

const (
	modeList mode = iota
	modeSearch
	modeForm
	modeConfirmDelete
	modeConfirmClear
)

var (
	errLoadTimeout  = errors.New("timed out waiting for tasks")
	errStreamClosed = errors.New("task stream closed")
)

// Subscriber delivers task snapshots, the current one first.
type Subscriber interface {
	Subscribe(ctx context.Context) (<-chan []tasks.Task, error)
}

type Deps struct {
	Tasks Subscriber
	Orch  *orchestrator.Orchestrator
	Net   netstat.Source
	// NetChanges is nil when connectivity never changes.
	NetChanges <-chan netstat.Status
	Config     config.Config
	Log        *log.Entry
}

type Model struct {
	ctx        context.Context
	sub        Subscriber
	orch       *orchestrator.Orchestrator
	netChanges <-chan netstat.Status
	cfg        config.Config
	log        *log.Entry
	styles     styles

	gen       int
	subCtx    context.Context
	cancelSub context.CancelFunc
	snapshot  []tasks.Task
	loadErr   error

	query      tasks.Query
	cursor     int
	selectedID string

	mode      mode
	input     textinput.Model
	search    textinput.Model
	form      *formState
	pending   *tasks.Task
	notice    orchestrator.Notice
	noticeSeq int
	net       netstat.Status
	width     int
}

func New(ctx context.Context, deps Deps) Model {
	ti := textinput.New()
	ti.CharLimit = 256
	ti.Width = 40

	si := textinput.New()
	si.Prompt = "/ "
	si.Placeholder = "search title or description"
	si.CharLimit = 128
	si.Width = 40

	m := Model{
		ctx:        ctx,
		sub:        deps.Tasks,
		orch:       deps.Orch,
		netChanges: deps.NetChanges,
		cfg:        deps.Config,
		log:        deps.Log,
		styles:     newStyles(deps.Config.Theme),
		query:      tasks.Query{Status: deps.Config.Filter()},
		input:      ti,
		search:     si,
		mode:       modeList,
		net:        deps.Net.Status(),
	}
	m.gen = 1
	m.subCtx, m.cancelSub = context.WithCancel(ctx)
	return m
}

// Run blocks until the user quits or ctx is done.
func Run(ctx context.Context, deps Deps) error {
	m := New(ctx, deps)
	program := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	final, err := program.Run()
	if fm, ok := final.(Model); ok {
		fm.stop()
	} else {
		m.stop()
	}
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

func (m Model) stop() {
	if m.cancelSub != nil {
		m.cancelSub()
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		subscribeCmd(m.subCtx, m.sub, m.gen),
		loadTimeoutCmd(m.cfg.LoadTimeoutDuration(), m.gen),
		waitForNet(m.netChanges),
	)
}

// resubscribe abandons the current subscription and starts a new one.
func (m Model) resubscribe() (Model, tea.Cmd) {
	m.stop()
	m.gen++
	m.loadErr = nil
	m.snapshot = nil
	m.subCtx, m.cancelSub = context.WithCancel(m.ctx)
	m.log.WithField("gen", m.gen).Info("retrying task subscription")
	return m, tea.Batch(
		subscribeCmd(m.subCtx, m.sub, m.gen),
		loadTimeoutCmd(m.cfg.LoadTimeoutDuration(), m.gen),
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.input.Width = msg.Width - 10
		m.search.Width = msg.Width - 10
	case subscribedMsg:
		if msg.gen != m.gen {
			return m, nil
		}
		return m, waitForSnapshot(msg.ch, msg.gen)
	case subscribeErrMsg:
		if msg.gen != m.gen {
			return m, nil
		}
		m.log.WithError(msg.err).Error("subscribe failed")
		m.loadErr = msg.err
	case snapshotMsg:
		if msg.gen != m.gen {
			return m, nil
		}
		m.snapshot = msg.snapshot
		if m.snapshot == nil {
			m.snapshot = []tasks.Task{}
		}
		m.loadErr = nil
		m.syncCursor()
		return m, waitForSnapshot(msg.ch, msg.gen)
	case streamClosedMsg:
		if msg.gen != m.gen {
			return m, nil
		}
		m.log.Warn("task stream closed")
		m.snapshot = nil
		m.loadErr = errStreamClosed
	case loadTimeoutMsg:
		if msg.gen == m.gen && m.snapshot == nil && m.loadErr == nil {
			m.log.WithField("timeout", m.cfg.LoadTimeoutDuration()).Warn("initial load timed out")
			m.loadErr = errLoadTimeout
		}
	case outcomeMsg:
		return m.handleOutcome(msg.out)
	case noticeExpiredMsg:
		if msg.seq == m.noticeSeq {
			m.notice = orchestrator.Notice{}
		}
	case netMsg:
		m.net = msg.status
		return m, waitForNet(m.netChanges)
	}
	return m, nil
}

func (m Model) handleOutcome(out orchestrator.Outcome) (tea.Model, tea.Cmd) {
	m.orch.Finish(out)
	entry := m.log.WithField("op", out.Op)
	if out.Err != nil {
		entry.WithError(out.Err).Warn("mutation failed")
	} else if out.Started {
		entry.Info("mutation done")
	}
	if out.CloseForm && m.mode == modeForm {
		m.closeForm()
	}
	if out.Notice.IsZero() {
		return m, nil
	}
	return m.showNotice(out.Notice)
}

func (m Model) showNotice(n orchestrator.Notice) (Model, tea.Cmd) {
	m.noticeSeq++
	m.notice = n
	return m, expireNoticeCmd(m.cfg.NoticeDurationValue(), m.noticeSeq)
}

func (m Model) dispatch(call orchestrator.Call) tea.Cmd {
	return runCall(m.ctx, call)
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	if key == "ctrl+c" {
		return m, tea.Quit
	}
	switch m.mode {
	case modeSearch:
		return m.updateSearchMode(key, msg)
	case modeForm:
		return m.updateFormMode(key, msg)
	case modeConfirmDelete, modeConfirmClear:
		return m.updateConfirm(key)
	}
	if m.snapshot == nil {
		return m.updateLoadingKeys(key)
	}
	return m.updateListMode(key)
}

func (m Model) updateLoadingKeys(key string) (tea.Model, tea.Cmd) {
	switch key {
	case m.cfg.Keys.Quit:
		return m, tea.Quit
	case m.cfg.Keys.Theme:
		m.styles = m.styles.next()
	case m.cfg.Keys.Retry:
		if m.loadErr != nil {
			return m.resubscribe()
		}
	}
	return m, nil
}

func (m Model) updateListMode(key string) (tea.Model, tea.Cmd) {
	visible := m.visible()
	switch key {
	case m.cfg.Keys.Quit:
		return m, tea.Quit
	case m.cfg.Keys.Down, "down":
		m.setCursor(m.cursor+1, visible)
	case m.cfg.Keys.Up, "up":
		m.setCursor(m.cursor-1, visible)
	case m.cfg.Keys.MoveUp, "shift+up":
		return m.move(visible, -1)
	case m.cfg.Keys.MoveDown, "shift+down":
		return m.move(visible, 1)
	case m.cfg.Keys.Add:
		m.form = newCreateForm()
		return m.openForm()
	case m.cfg.Keys.Edit:
		t, ok := m.current(visible)
		if !ok {
			return m, nil
		}
		m.form = newEditForm(t)
		return m.openForm()
	case m.cfg.Keys.Toggle:
		t, ok := m.current(visible)
		if !ok {
			return m, nil
		}
		return m, m.dispatch(m.orch.Toggle(t))
	case m.cfg.Keys.Delete:
		t, ok := m.current(visible)
		if !ok {
			return m, nil
		}
		m.pending = &t
		m.mode = modeConfirmDelete
	case m.cfg.Keys.ClearCompleted:
		if tasks.Summarize(m.snapshot).Completed == 0 {
			return m, m.dispatch(m.orch.ClearCompleted(m.snapshot))
		}
		m.mode = modeConfirmClear
	case m.cfg.Keys.Renormalize:
		return m, m.dispatch(m.orch.Renormalize(m.snapshot))
	case m.cfg.Keys.Search:
		m.mode = modeSearch
		m.search.SetValue(m.query.Search)
		m.search.CursorEnd()
		return m, m.search.Focus()
	case m.cfg.Keys.Filter:
		m.query.Status = m.query.Status.Next()
		m.syncCursor()
	case m.cfg.Keys.Theme:
		m.styles = m.styles.next()
	}
	return m, nil
}

// move drags the selected task one slot within the visible list and saves
// the new order of that list.
func (m Model) move(visible []tasks.Task, delta int) (tea.Model, tea.Cmd) {
	permuted := tasks.Move(visible, m.cursor, m.cursor+delta)
	if permuted == nil {
		return m, nil
	}
	return m, m.dispatch(m.orch.Reorder(permuted))
}

func (m Model) updateSearchMode(key string, msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch key {
	case m.cfg.Keys.Cancel:
		m.search.SetValue("")
		m.query.Search = ""
		m.search.Blur()
		m.mode = modeList
		m.syncCursor()
		return m, nil
	case m.cfg.Keys.Confirm:
		m.search.Blur()
		m.mode = modeList
		return m, nil
	}
	var cmd tea.Cmd
	m.search, cmd = m.search.Update(msg)
	m.query.Search = m.search.Value()
	m.syncCursor()
	return m, cmd
}

func (m Model) openForm() (tea.Model, tea.Cmd) {
	m.mode = modeForm
	m.input.SetValue(m.form.currentValue())
	m.input.Placeholder = m.form.currentLabel()
	m.input.CursorEnd()
	return m, m.input.Focus()
}

func (m *Model) closeForm() {
	m.form = nil
	m.mode = modeList
	m.input.SetValue("")
	m.input.Blur()
}

func (m Model) updateFormMode(key string, msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch key {
	case m.cfg.Keys.Cancel:
		m.closeForm()
		return m, nil
	case "tab", "down":
		m.shiftField(1)
		return m, nil
	case "shift+tab", "up":
		m.shiftField(-1)
		return m, nil
	case m.cfg.Keys.Confirm:
		m.form.setCurrentValue(m.input.Value())
		if !m.form.last() {
			m.shiftField(1)
			return m, nil
		}
		return m.submitForm()
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) shiftField(delta int) {
	m.form.setCurrentValue(m.input.Value())
	m.form.move(delta)
	m.input.SetValue(m.form.currentValue())
	m.input.Placeholder = m.form.currentLabel()
	m.input.CursorEnd()
}

func (m Model) submitForm() (tea.Model, tea.Cmd) {
	if m.form.editing == nil {
		return m, m.dispatch(m.orch.Create(m.form.draft()))
	}
	return m, m.dispatch(m.orch.Edit(*m.form.editing, m.form.draft()))
}

func (m Model) updateConfirm(key string) (tea.Model, tea.Cmd) {
	confirmMode := m.mode
	m.mode = modeList
	switch key {
	case "y", "Y":
		if confirmMode == modeConfirmClear {
			return m, m.dispatch(m.orch.ClearCompleted(m.snapshot))
		}
		if m.pending == nil {
			return m, nil
		}
		t := *m.pending
		m.pending = nil
		return m, m.dispatch(m.orch.Delete(t))
	case "n", "N", m.cfg.Keys.Cancel:
		m.pending = nil
		return m, nil
	}
	m.mode = confirmMode
	return m, nil
}

func (m Model) visible() []tasks.Task {
	return tasks.Visible(m.snapshot, m.query)
}

func (m Model) current(visible []tasks.Task) (tasks.Task, bool) {
	if m.cursor < 0 || m.cursor >= len(visible) {
		return tasks.Task{}, false
	}
	return visible[m.cursor], true
}

func (m *Model) setCursor(cur int, visible []tasks.Task) {
	m.cursor = clampCursor(cur, len(visible))
	m.selectedID = ""
	if len(visible) > 0 {
		m.selectedID = visible[m.cursor].ID
	}
}

// syncCursor keeps the selection on the same task after the visible list
// changed, falling back to the same row.
func (m *Model) syncCursor() {
	visible := m.visible()
	for i, t := range visible {
		if t.ID == m.selectedID {
			m.cursor = i
			return
		}
	}
	m.setCursor(m.cursor, visible)
}

func clampCursor(cur, n int) int {
	if n <= 0 || cur < 0 {
		return 0
	}
	if cur >= n {
		return n - 1
	}
	return cur
}

func (m Model) View() string {
	var b strings.Builder
	s := m.styles

	b.WriteString(s.title.Render("taskdeck"))
	b.WriteString("\n")
	if !m.net.Online() {
		b.WriteString(s.banner.Render("Offline: changes are disabled until the connection returns"))
		b.WriteString("\n")
	}
	b.WriteString("\n")

	switch {
	case m.snapshot == nil && m.loadErr != nil:
		b.WriteString(s.danger.Render("Could not load tasks"))
		b.WriteString("\n  " + m.loadErr.Error() + "\n\n")
		b.WriteString(s.help.Render(fmt.Sprintf("%s retry • %s quit", m.cfg.Keys.Retry, m.cfg.Keys.Quit)))
		return b.String()
	case m.snapshot == nil:
		b.WriteString("Loading tasks...\n\n")
		b.WriteString(s.help.Render(fmt.Sprintf("%s quit", m.cfg.Keys.Quit)))
		return b.String()
	}

	b.WriteString(m.renderStats())
	b.WriteString("\n")
	b.WriteString(m.renderTabs())
	b.WriteString("\n")
	if m.mode == modeSearch {
		b.WriteString(m.search.View())
		b.WriteString("\n")
	} else if m.query.Search != "" {
		b.WriteString(s.meta.Render(fmt.Sprintf("search: %q", m.query.Search)))
		b.WriteString("\n")
	}
	b.WriteString("\n")

	visible := m.visible()
	if len(visible) == 0 {
		b.WriteString(s.meta.Render(m.emptyMessage()))
		b.WriteString("\n")
	} else {
		b.WriteString(m.renderTaskList(visible))
	}

	if m.mode == modeForm && m.form != nil {
		b.WriteString("\n")
		panel := m.form.heading() + "\n\n" + m.form.render(s) + "\n" + m.input.View()
		b.WriteString(s.panel.Render(panel))
		b.WriteString("\n")
		b.WriteString(s.help.Render(m.form.prompt()))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	switch m.mode {
	case modeConfirmDelete:
		if m.pending != nil {
			b.WriteString(fmt.Sprintf("Delete %q? y/n\n", m.pending.Title))
		}
	case modeConfirmClear:
		n := tasks.Summarize(m.snapshot).Completed
		b.WriteString(fmt.Sprintf("Delete %d completed tasks? y/n\n", n))
	}
	if !m.notice.IsZero() {
		b.WriteString(m.renderNotice())
		b.WriteString("\n")
	}
	b.WriteString(s.help.Render(renderHelp(m.cfg.Keys)))
	return b.String()
}

func (m Model) emptyMessage() string {
	if len(m.snapshot) == 0 {
		return fmt.Sprintf("No tasks yet. Press '%s' to add one.", m.cfg.Keys.Add)
	}
	return "No tasks match the current filter."
}

func (m Model) renderStats() string {
	st := tasks.Summarize(m.snapshot)
	line := fmt.Sprintf("%d tasks • %d active • %d done", st.Total, st.Active, st.Completed)
	if op := m.orch.InFlight(); op != "" {
		line += " • saving (" + string(op) + ")"
	}
	return m.styles.stats.Render(line)
}

func (m Model) renderTabs() string {
	statuses := []tasks.Status{tasks.StatusAll, tasks.StatusActive, tasks.StatusCompleted}
	parts := make([]string, 0, len(statuses))
	for _, st := range statuses {
		label := string(st)
		if st == m.query.Status {
			parts = append(parts, m.styles.tabOn.Render(label))
		} else {
			parts = append(parts, m.styles.tabOff.Render(label))
		}
	}
	return strings.Join(parts, "  ")
}

func (m Model) renderTaskList(visible []tasks.Task) string {
	var b strings.Builder
	s := m.styles
	for i, t := range visible {
		cursor := " "
		if m.cursor == i && m.mode == modeList {
			cursor = ">"
		}
		checkbox := "[ ]"
		title := s.item.Render(t.Title)
		if t.Completed {
			checkbox = "[x]"
			title = s.done.Render(t.Title)
		}
		if m.cursor == i && !t.Completed {
			title = s.selected.Render(t.Title)
		}
		b.WriteString(fmt.Sprintf("%s %s %s", cursor, checkbox, title))
		if due := tasks.FormatDue(t.DueDate); due != "" {
			b.WriteString(s.meta.Render("  due " + due))
		}
		b.WriteString("\n")
		if t.Description != "" {
			b.WriteString("      " + s.meta.Render(t.Description) + "\n")
		}
	}
	return b.String()
}

func (m Model) renderNotice() string {
	style := m.styles.info
	switch m.notice.Level {
	case orchestrator.LevelSuccess:
		style = m.styles.success
	case orchestrator.LevelError:
		style = m.styles.danger
	}
	text := style.Bold(true).Render(m.notice.Title)
	if m.notice.Body != "" {
		text += " " + m.notice.Body
	}
	return m.styles.noticeBox.BorderForeground(style.GetForeground()).Render(text)
}

func renderHelp(k config.Keymap) string {
	toggle := k.Toggle
	if toggle == " " {
		toggle = "space"
	}
	return fmt.Sprintf("%s/%s move • %s/%s drag • %s add • %s edit • %s toggle • %s delete • %s search • %s filter • %s clear done • %s renumber • %s theme • %s quit",
		k.Up, k.Down, k.MoveUp, k.MoveDown, k.Add, k.Edit, toggle, k.Delete, k.Search, k.Filter, k.ClearCompleted, k.Renormalize, k.Theme, k.Quit)
}

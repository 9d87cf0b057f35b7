// Package explorer implements the interactive host/output browser the `-i`
// flag drops into after a single-command run completes (§4.15): a
// fuzzy-filterable host list on the left, the selected host's captured
// output on the right, and a footer summarizing the run's counters. It
// reads back the same HostResult records the audit store persisted; it
// never re-executes anything and cannot affect the exit code already
// computed before it launches.
package explorer

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/lithammer/fuzzysearch/fuzzy"

	"github.com/jross/cumin-go/internal/audit"
)

var (
	styleListSel   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.AdaptiveColor{Light: "#1a7f37", Dark: "#56d364"})
	styleListItem  = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#24292f", Dark: "#c9d1d9"})
	styleBorder    = lipgloss.NewStyle().Border(lipgloss.NormalBorder()).Padding(0, 1)
	styleFooter    = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#656d76", Dark: "#8b949e"})
	styleFilterBar = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#bf8700", Dark: "#f9e71e"})
)

// entry is one row of the host list: a host plus a summary of its state,
// read from the audit store rather than re-executed.
type entry struct {
	host    string
	summary audit.HostResultSummary
}

// Model is the Bubble Tea model backing the explorer.
type Model struct {
	ctx   context.Context
	store *audit.Store
	runID string

	entries  []entry
	filtered []entry

	filter       textinput.Model
	filterActive bool

	cursor   int
	viewport viewport.Model

	footer string
	width  int
	height int
}

// New builds an explorer Model over runID's persisted host results. footer
// is a one-line summary of the run's final counters (rendered by the
// caller from the same handler.Result the reporter already has).
func New(ctx context.Context, store *audit.Store, runID, footer string) (*Model, error) {
	results, err := store.ListHostResults(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("explorer: %w", err)
	}

	byHost := make(map[string]audit.HostResultSummary, len(results))
	for _, r := range results {
		byHost[r.Host] = r
	}
	hosts := make([]string, 0, len(byHost))
	for h := range byHost {
		hosts = append(hosts, h)
	}
	sort.Strings(hosts)

	entries := make([]entry, 0, len(hosts))
	for _, h := range hosts {
		entries = append(entries, entry{host: h, summary: byHost[h]})
	}

	ti := textinput.New()
	ti.Placeholder = "filter hosts"
	ti.Prompt = "/"

	vp := viewport.New(60, 20)

	m := &Model{
		ctx:      ctx,
		store:    store,
		runID:    runID,
		entries:  entries,
		filtered: entries,
		filter:   ti,
		viewport: vp,
		footer:   footer,
	}
	return m, nil
}

func (m *Model) Init() tea.Cmd { return m.loadSelectedOutput() }

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.viewport.Width = m.width - 24
		m.viewport.Height = m.height - 3
		return m, nil

	case outputLoadedMsg:
		m.viewport.SetContent(msg.text)
		return m, nil

	case tea.KeyMsg:
		if m.filterActive {
			switch msg.String() {
			case "esc":
				m.filterActive = false
				m.filter.Blur()
				return m, nil
			case "enter":
				m.filterActive = false
				m.filter.Blur()
				return m, nil
			}
			var cmd tea.Cmd
			m.filter, cmd = m.filter.Update(msg)
			m.applyFilter()
			return m, cmd
		}

		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "/":
			m.filterActive = true
			m.filter.Focus()
			return m, nil
		case "up", "k":
			if m.cursor > 0 {
				m.cursor--
				return m, m.loadSelectedOutput()
			}
		case "down", "j":
			if m.cursor < len(m.filtered)-1 {
				m.cursor++
				return m, m.loadSelectedOutput()
			}
		}
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m *Model) applyFilter() {
	q := strings.TrimSpace(m.filter.Value())
	if q == "" {
		m.filtered = m.entries
		m.cursor = 0
		return
	}
	labels := make([]string, len(m.entries))
	for i, e := range m.entries {
		labels[i] = e.host
	}
	ranks := fuzzy.RankFindNormalizedFold(q, labels)
	sort.Sort(ranks)
	filtered := make([]entry, 0, len(ranks))
	for _, rk := range ranks {
		filtered = append(filtered, m.entries[rk.OriginalIndex])
	}
	m.filtered = filtered
	m.cursor = 0
}

type outputLoadedMsg struct{ text string }

func (m *Model) loadSelectedOutput() tea.Cmd {
	if m.cursor >= len(m.filtered) {
		return nil
	}
	host := m.filtered[m.cursor].host
	return func() tea.Msg {
		stdout, stderr, err := m.store.Output(m.ctx, m.runID, host)
		if err != nil {
			return outputLoadedMsg{text: fmt.Sprintf("(failed to load output: %v)", err)}
		}
		var b strings.Builder
		b.Write(stdout)
		if len(stderr) > 0 {
			b.WriteString("\n--- stderr ---\n")
			b.Write(stderr)
		}
		return outputLoadedMsg{text: b.String()}
	}
}

func (m *Model) View() string {
	var list strings.Builder
	for i, e := range m.filtered {
		line := fmt.Sprintf("%-20s %s", e.host, e.summary.State)
		if i == m.cursor {
			list.WriteString(styleListSel.Render("> " + line))
		} else {
			list.WriteString(styleListItem.Render("  " + line))
		}
		list.WriteString("\n")
	}

	left := styleBorder.Width(20).Height(m.viewport.Height).Render(list.String())
	right := styleBorder.Render(m.viewport.View())
	body := lipgloss.JoinHorizontal(lipgloss.Top, left, right)

	filterBar := "press '/' to filter hosts, q to quit"
	if m.filterActive || strings.TrimSpace(m.filter.Value()) != "" {
		filterBar = "filter: " + m.filter.View()
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		body,
		styleFilterBar.Render(filterBar),
		styleFooter.Render(m.footer),
	)
}

// Run launches the explorer as a blocking Bubble Tea program.
func Run(ctx context.Context, store *audit.Store, runID, footer string) error {
	m, err := New(ctx, store, runID, footer)
	if err != nil {
		return err
	}
	p := tea.NewProgram(m, tea.WithAltScreen())
	_, err = p.Run()
	return err
}

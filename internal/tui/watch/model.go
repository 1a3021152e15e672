package watch

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/zika/internal/events"
)

const (
	healthInterval  = 5 * time.Second
	historyInterval = 10 * time.Second
)

// Model is the BubbleTea model for the watch TUI.
type Model struct {
	apiURL string
	apiKey string

	width  int
	height int

	health         HealthState
	actions        map[string]*ActionState
	eventLog       []events.Event
	history        table.Model
	historyEnabled bool

	ticker  Ticker
	spinner Spinner
	theme   Theme

	hubEvents chan events.Event

	lastError string
}

// New creates a watch model for the daemon at apiURL.
func New(apiURL, apiKey string) *Model {
	theme := NewDefaultTheme()
	return &Model{
		apiURL:         apiURL,
		apiKey:         apiKey,
		actions:        make(map[string]*ActionState),
		history:        newHistoryTable(theme),
		historyEnabled: true,
		hubEvents:      make(chan events.Event, 100),
		ticker:         NewTicker(),
		spinner:        NewSpinner(),
		theme:          theme,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		subscribeToEvents(m.apiURL, m.apiKey, m.hubEvents),
		receiveNextEvent(m.hubEvents),
		func() tea.Msg { return fetchHealth(m.apiURL, m.apiKey) },
		func() tea.Msg { return fetchHistory(m.apiURL, m.apiKey) },
		tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) }),
		tea.EnterAltScreen,
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "r":
			return m, func() tea.Msg { return fetchHistory(m.apiURL, m.apiKey) }
		}
		var cmd tea.Cmd
		m.history, cmd = m.history.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tickMsg:
		m.ticker.Tick()
		m.spinner.Decay()
		return m, tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })

	case eventMsg:
		e := events.Event(msg)

		// Newest first.
		m.eventLog = append([]events.Event{e}, m.eventLog...)
		if len(m.eventLog) > eventLogSize {
			m.eventLog = m.eventLog[:eventLogSize]
		}
		m.spinner.OnEvent()
		updateActionState(m.actions, e)

		switch e.Type {
		case events.TypeBrokerConnected:
			m.health.BrokerConnected = true
		case events.TypeBrokerDisconnected:
			m.health.BrokerConnected = false
		}

		m.health.Connected = true
		m.lastError = ""

		cmds := []tea.Cmd{receiveNextEvent(m.hubEvents)}
		if e.Type == events.TypeActionCompleted && m.historyEnabled {
			cmds = append(cmds, func() tea.Msg { return fetchHistory(m.apiURL, m.apiKey) })
		}
		return m, tea.Batch(cmds...)

	case healthMsg:
		m.health.Status = msg.Status
		m.health.UptimeSeconds = msg.UptimeSeconds
		m.health.QueueDepth = msg.QueueDepth
		m.health.Busy = msg.Busy
		m.health.Current = ""
		if msg.Current != nil {
			m.health.Current = msg.Current.Alias
		}
		m.health.CommandsLoaded = msg.CommandsLoaded
		m.health.Executor = msg.Executor
		m.health.BrokerConnected = msg.BrokerConnected
		m.health.Connected = true
		m.health.LastCheck = time.Now()
		m.lastError = ""

		return m, tea.Tick(healthInterval, func(time.Time) tea.Msg {
			return fetchHealth(m.apiURL, m.apiKey)
		})

	case historyMsg:
		m.historyEnabled = true
		m.history.SetRows(historyTableRows(msg.Entries))
		return m, tea.Tick(historyInterval, func(time.Time) tea.Msg {
			return fetchHistory(m.apiURL, m.apiKey)
		})

	case historyDisabledMsg:
		m.historyEnabled = false

	case sseDisconnectedMsg:
		m.health.Connected = false
		m.lastError = "SSE disconnected, reconnecting..."
		// The pending receiveNextEvent keeps reading the same channel, so
		// only the subscription needs restarting.
		return m, tea.Tick(3*time.Second, func(time.Time) tea.Msg {
			return reconnectMsg{}
		})

	case reconnectMsg:
		return m, subscribeToEvents(m.apiURL, m.apiKey, m.hubEvents)

	case errMsg:
		m.lastError = msg.Error()
		return m, tea.Tick(healthInterval, func(time.Time) tea.Msg {
			return fetchHealth(m.apiURL, m.apiKey)
		})
	}

	return m, nil
}

func (m Model) View() string {
	if m.width == 0 {
		return "Connecting to zika..."
	}

	parts := []string{
		renderHeader(m.health, m.ticker, m.spinner, m.theme, m.width),
		renderActions(m.actions, m.theme, m.width),
		renderHistory(m.history, m.historyEnabled, m.theme, m.width),
		renderEventStream(m.eventLog, m.theme, m.width),
	}
	if m.lastError != "" {
		parts = append(parts, m.theme.StatusFailed.Render(fmt.Sprintf(" ⚠ %s", m.lastError)))
	}
	parts = append(parts, lipgloss.NewStyle().
		Foreground(lipgloss.Color("241")).
		Render(" [q] Quit • [↑/↓] Scroll history • [r] Refresh"))

	return lipgloss.NewStyle().Margin(1, 2).Render(
		lipgloss.JoinVertical(lipgloss.Left, parts...),
	)
}

// Run starts the watch TUI and blocks until the user quits.
func Run(apiURL, apiKey string) error {
	_, err := tea.NewProgram(New(apiURL, apiKey), tea.WithAltScreen()).Run()
	return err
}

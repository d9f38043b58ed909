package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/gorilla/websocket"

	"alphafactory/pkg/alphafactory"
)

// Styles.
var (
	titleStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("0")).Background(lipgloss.Color("6"))
	colHeaderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	idStyle        = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	gainStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	lossStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	eventStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("13"))
)

// headerHeight is the number of lines View draws above the viewport.
const headerHeight = 2

const maxEvents = 8

// Messages.
type tickMsg time.Time

type listMsg struct {
	list []alphafactory.Summary
	err  error
}

type eventMsg struct {
	typ     string
	summary alphafactory.Summary
	at      time.Time
}

type wsStatusMsg struct {
	connected bool
	err       error
}

func tickCmd() tea.Cmd {
	return tea.Tick(5*time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Model.
type model struct {
	client *alphafactory.Client
	server string
	limit  int

	list        []alphafactory.Summary
	events      []eventMsg
	lastErr     error
	wsConnected bool
	updated     time.Time

	viewport      viewport.Model
	ready         bool
	width, height int
}

func (m model) fetchCmd() tea.Cmd {
	c, limit := m.client, m.limit
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		list, err := c.ListBacktests(ctx, limit)
		return listMsg{list: list, err: err}
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(tickCmd(), m.fetchCmd())
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "r":
			return m, m.fetchCmd()
		}

	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		vh := max(msg.Height-headerHeight, 1)
		if !m.ready {
			m.viewport = viewport.New(msg.Width, vh)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = vh
		}
		m.refresh()
		return m, nil

	case tickMsg:
		return m, tea.Batch(tickCmd(), m.fetchCmd())

	case listMsg:
		m.lastErr = msg.err
		if msg.err == nil {
			m.list = msg.list
			m.updated = time.Now()
		}
		m.refresh()
		return m, nil

	case eventMsg:
		m.events = append([]eventMsg{msg}, m.events...)
		if len(m.events) > maxEvents {
			m.events = m.events[:maxEvents]
		}
		m.refresh()
		return m, m.fetchCmd()

	case wsStatusMsg:
		m.wsConnected = msg.connected
		if msg.err != nil {
			m.lastErr = msg.err
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m *model) refresh() {
	if m.ready {
		m.viewport.SetContent(m.body())
	}
}

func (m model) View() string {
	if !m.ready {
		return "loading..."
	}
	return m.header() + "\n" + m.viewport.View()
}

func (m model) header() string {
	ws := lossStyle.Render("ws down")
	if m.wsConnected {
		ws = gainStyle.Render("ws live")
	}
	status := fmt.Sprintf(" %s  runs: %d  updated: %s  %s", m.server, len(m.list), m.updated.Format(time.TimeOnly), ws)
	if m.lastErr != nil {
		status += "  " + lossStyle.Render(m.lastErr.Error())
	}
	cols := fmt.Sprintf("%-36s  %-19s  %-16s  %4s  %9s  %7s  %8s  %6s",
		"ID", "CREATED", "STRATEGY", "SYMS", "RETURN", "SHARPE", "MAX DD", "TRADES")
	return titleStyle.Render(" alphafactory ") + dimStyle.Render(status) + "  (r refresh, q quit)\n" +
		colHeaderStyle.Render(cols)
}

func (m model) body() string {
	var b strings.Builder
	for _, s := range m.list {
		b.WriteString(formatRow(s))
		b.WriteByte('\n')
	}
	if len(m.list) == 0 {
		b.WriteString(dimStyle.Render("no backtests yet"))
		b.WriteByte('\n')
	}

	if len(m.events) > 0 {
		b.WriteString("\n" + eventStyle.Render("Recent events") + "\n")
		for _, e := range m.events {
			fmt.Fprintf(&b, "  %s  %-20s %s %s\n",
				e.at.Format(time.TimeOnly), e.typ, idStyle.Render(e.summary.ID), pctStyle(e.summary.TotalReturn))
		}
	}
	return b.String()
}

func formatRow(s alphafactory.Summary) string {
	return fmt.Sprintf("%s  %-19s  %-16s  %4d  %s  %7.3f  %7.2f%%  %6d",
		idStyle.Render(fmt.Sprintf("%-36s", s.ID)),
		s.CreatedAt.Local().Format(time.DateTime),
		truncate(s.Strategy, 16),
		len(s.Symbols),
		pctStyle(s.TotalReturn),
		s.SharpeRatio,
		s.MaxDrawdown*100,
		s.NumTrades,
	)
}

func pctStyle(f float64) string {
	str := fmt.Sprintf("%8.2f%%", f*100)
	if f < 0 {
		return lossStyle.Render(str)
	}
	return gainStyle.Render(str)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "~"
}

// streamEvents forwards hub events to p, reconnecting until ctx ends.
func streamEvents(ctx context.Context, wsURL string, p *tea.Program) {
	for ctx.Err() == nil {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
		if err != nil {
			p.Send(wsStatusMsg{err: fmt.Errorf("ws: %w", err)})
			select {
			case <-ctx.Done():
				return
			case <-time.After(5 * time.Second):
			}
			continue
		}
		p.Send(wsStatusMsg{connected: true})

		stop := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				conn.Close()
			case <-stop:
			}
		}()

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				break
			}
			var ev struct {
				Type    string               `json:"type"`
				Payload alphafactory.Summary `json:"payload"`
			}
			if json.Unmarshal(data, &ev) == nil && ev.Type != "" {
				p.Send(eventMsg{typ: ev.Type, summary: ev.Payload, at: time.Now()})
			}
		}
		close(stop)
		conn.Close()
		p.Send(wsStatusMsg{connected: false})
	}
}

func main() {
	server := flag.String("server", envOr("AF_SERVER", "http://localhost:8080"), "alphafactory server URL")
	limit := flag.Int("n", 30, "backtests to show")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	base := strings.TrimRight(*server, "/")
	m := model{client: alphafactory.NewClient(base), server: base, limit: *limit}
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))

	go streamEvents(ctx, "ws"+strings.TrimPrefix(base, "http")+"/ws", p)

	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

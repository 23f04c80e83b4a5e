// Copyright 2026 The Slatecast Authors
// SPDX-License-Identifier: Apache-2.0

// Package panelui is the operator's terminal panel for a whiteboard
// session: the pending edit-permission queue with approve/reject
// actions, plus a live client summary. All state lives in the host;
// the panel polls the control socket and renders.
package panelui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/slatecast/slatecast/host"
)

// refreshInterval is the poll cadence against the control socket.
const refreshInterval = 4 * time.Second

// noticeFadeDelay is how long action feedback stays in the status
// bar.
const noticeFadeDelay = 3 * time.Second

// Control is the slice of the control protocol the panel uses.
// Satisfied by *host.ControlClient; tests substitute a fake.
type Control interface {
	Status() (host.Status, error)
	Pending() ([]host.PendingRequest, error)
	Clients() ([]host.ClientInfo, error)
	Approve(clientID string) error
	Reject(clientID string) error
}

// refreshTickMsg drives the periodic poll.
type refreshTickMsg struct{}

// snapshotMsg carries one complete poll result.
type snapshotMsg struct {
	status  host.Status
	pending []host.PendingRequest
	clients []host.ClientInfo
	err     error
}

// actionResultMsg reports an approve/reject outcome.
type actionResultMsg struct {
	verb     string
	clientID string
	err      error
}

// noticeFadeMsg clears the status-bar notice.
type noticeFadeMsg struct{}

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("62")).
			Padding(0, 1)

	statusStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	cursorStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	rowStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	noticeStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("114"))
	sectionStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("110"))
)

// Model is the bubbletea model for the operator panel.
type Model struct {
	control Control
	keys    KeyMap

	status  host.Status
	pending []host.PendingRequest
	clients []host.ClientInfo
	cursor  int

	notice    string
	noticeErr bool
	pollErr   error

	width  int
	height int
}

// New creates a panel model polling the given control surface.
func New(control Control) Model {
	return Model{control: control, keys: DefaultKeyMap}
}

// Init starts the first poll and the refresh timer.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.fetch(), scheduleRefresh())
}

func scheduleRefresh() tea.Cmd {
	return tea.Tick(refreshInterval, func(time.Time) tea.Msg {
		return refreshTickMsg{}
	})
}

// fetch polls the control socket for a complete snapshot.
func (m Model) fetch() tea.Cmd {
	control := m.control
	return func() tea.Msg {
		status, err := control.Status()
		if err != nil {
			return snapshotMsg{err: err}
		}
		pending, err := control.Pending()
		if err != nil {
			return snapshotMsg{err: err}
		}
		clients, err := control.Clients()
		if err != nil {
			return snapshotMsg{err: err}
		}
		return snapshotMsg{status: status, pending: pending, clients: clients}
	}
}

// resolve issues an approve or reject for the request under the
// cursor.
func (m Model) resolve(verb string) tea.Cmd {
	if m.cursor >= len(m.pending) {
		return nil
	}
	control := m.control
	clientID := m.pending[m.cursor].ClientID
	return func() tea.Msg {
		var err error
		switch verb {
		case "approved":
			err = control.Approve(clientID)
		case "rejected":
			err = control.Reject(clientID)
		}
		return actionResultMsg{verb: verb, clientID: clientID, err: err}
	}
}

// Update handles one message.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case refreshTickMsg:
		return m, tea.Batch(m.fetch(), scheduleRefresh())

	case snapshotMsg:
		if msg.err != nil {
			m.pollErr = msg.err
			return m, nil
		}
		m.pollErr = nil
		m.status = msg.status
		m.pending = msg.pending
		m.clients = msg.clients
		if m.cursor >= len(m.pending) && m.cursor > 0 {
			m.cursor = len(m.pending) - 1
			if m.cursor < 0 {
				m.cursor = 0
			}
		}
		return m, nil

	case actionResultMsg:
		if msg.err != nil {
			m.notice = fmt.Sprintf("%s failed: %v", msg.verb, msg.err)
			m.noticeErr = true
		} else {
			m.notice = fmt.Sprintf("%s %s", msg.verb, shortID(msg.clientID))
			m.noticeErr = false
		}
		return m, tea.Batch(
			m.fetch(),
			tea.Tick(noticeFadeDelay, func(time.Time) tea.Msg {
				return noticeFadeMsg{}
			}),
		)

	case noticeFadeMsg:
		m.notice = ""
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Up):
			if m.cursor > 0 {
				m.cursor--
			}
		case key.Matches(msg, m.keys.Down):
			if m.cursor < len(m.pending)-1 {
				m.cursor++
			}
		case key.Matches(msg, m.keys.Refresh):
			return m, m.fetch()
		case key.Matches(msg, m.keys.Approve):
			return m, m.resolve("approved")
		case key.Matches(msg, m.keys.Reject):
			return m, m.resolve("rejected")
		}
	}
	return m, nil
}

// View renders the panel.
func (m Model) View() string {
	s := titleStyle.Render("slatecast operator") + "\n"
	s += statusStyle.Render(fmt.Sprintf(
		"clients %d · approved %d · pending %d · up %s",
		m.status.Clients, m.status.Approved, m.status.Pending,
		(time.Duration(m.status.UptimeSeconds) * time.Second).String(),
	)) + "\n\n"

	if m.pollErr != nil {
		s += errorStyle.Render(fmt.Sprintf("control socket unreachable: %v", m.pollErr)) + "\n\n"
	}

	s += sectionStyle.Render("Pending requests") + "\n"
	if len(m.pending) == 0 {
		s += dimStyle.Render("  none") + "\n"
	}
	for i, request := range m.pending {
		line := fmt.Sprintf("%s  %s  %s",
			shortID(request.ClientID),
			request.Origin,
			fmt.Sprintf("%ds ago", request.AgeSeconds),
		)
		if request.Preview != "" {
			line += "  " + fmt.Sprintf("%q", request.Preview)
		}
		if i == m.cursor {
			s += cursorStyle.Render("> "+line) + "\n"
		} else {
			s += rowStyle.Render("  "+line) + "\n"
		}
	}

	s += "\n" + sectionStyle.Render("Clients") + "\n"
	if len(m.clients) == 0 {
		s += dimStyle.Render("  none connected") + "\n"
	}
	for _, client := range m.clients {
		viewport := ""
		if client.ViewportWidth > 0 {
			viewport = fmt.Sprintf("  %dx%d", client.ViewportWidth, client.ViewportHeight)
		}
		s += rowStyle.Render(fmt.Sprintf("  %s  %s  %s%s",
			shortID(client.ID), client.RemoteAddr, client.Approval, viewport,
		)) + "\n"
	}

	s += "\n"
	if m.notice != "" {
		if m.noticeErr {
			s += errorStyle.Render(m.notice) + "\n"
		} else {
			s += noticeStyle.Render(m.notice) + "\n"
		}
	}
	s += dimStyle.Render("a approve · r reject · j/k move · C-r refresh · q quit")
	return s
}

// shortID abbreviates a uuid for display.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

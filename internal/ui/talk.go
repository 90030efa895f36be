package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/JuanfranciscoFioretti/Walkie-Talkie/internal/session"
)

type sessionEventMsg session.Event

type sessionDoneMsg struct{}

// TalkModel is the live room view: member table, speaking indicators, and
// per-peer volume/mute controls driven by the peer session manager.
type TalkModel struct {
	sess     *session.Session
	room     string
	username string
	server   string

	spinner       spinner.Model
	members       []session.Member
	selected      int
	notice        string
	transmitting  bool
	transmissions int
	startTime     time.Time
	quitting      bool
}

// NewTalkModel builds the live view over a running session.
func NewTalkModel(sess *session.Session, room, username, server string) *TalkModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle

	return &TalkModel{
		sess:      sess,
		room:      room,
		username:  username,
		server:    server,
		spinner:   s,
		members:   sess.Members(),
		startTime: time.Now(),
	}
}

func (m *TalkModel) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		m.listenForEvents(),
		m.waitForDone(),
	)
}

func (m *TalkModel) listenForEvents() tea.Cmd {
	return func() tea.Msg {
		return sessionEventMsg(<-m.sess.Events())
	}
}

func (m *TalkModel) waitForDone() tea.Cmd {
	return func() tea.Msg {
		<-m.sess.Done()
		return sessionDoneMsg{}
	}
}

func (m *TalkModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit

		case " ", "t":
			m.toggleTransmit()

		case "up", "k":
			if m.selected > 0 {
				m.selected--
			}

		case "down", "j":
			if m.selected < len(m.members)-1 {
				m.selected++
			}

		case "+", "=":
			m.adjustVolume(0.1)

		case "-", "_":
			m.adjustVolume(-0.1)

		case "m":
			if peer := m.selectedPeer(); peer != nil {
				m.sess.TogglePeerMute(peer.ID)
				m.members = m.sess.Members()
			}

		case "r":
			if err := m.sess.Reconnect(); err != nil {
				m.notice = err.Error()
			} else {
				m.notice = "reconnecting..."
			}
		}

	case sessionEventMsg:
		if msg.Kind == session.EventNotice {
			m.notice = msg.Message
		}
		m.members = m.sess.Members()
		if m.selected >= len(m.members) && len(m.members) > 0 {
			m.selected = len(m.members) - 1
		}
		cmds = append(cmds, m.listenForEvents())

	case sessionDoneMsg:
		m.quitting = true
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

func (m *TalkModel) toggleTransmit() {
	if m.transmitting {
		if err := m.sess.StopSpeaking(); err != nil {
			m.notice = err.Error()
			return
		}
		m.transmitting = false
	} else {
		if err := m.sess.StartSpeaking(); err != nil {
			m.notice = err.Error()
			return
		}
		m.transmitting = true
		m.transmissions++
	}
	m.members = m.sess.Members()
}

func (m *TalkModel) adjustVolume(delta float64) {
	peer := m.selectedPeer()
	if peer == nil {
		return
	}
	m.sess.SetPeerVolume(peer.ID, peer.Volume+delta)
	m.members = m.sess.Members()
}

// selectedPeer returns the highlighted member, nil when it is ourselves.
func (m *TalkModel) selectedPeer() *session.Member {
	if m.selected < 0 || m.selected >= len(m.members) {
		return nil
	}
	peer := m.members[m.selected]
	if peer.Self {
		return nil
	}
	return &peer
}

func (m *TalkModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder

	b.WriteString(RoomBanner(m.room, m.username, m.server))
	b.WriteString("\n\n")

	if m.transmitting {
		b.WriteString(fmt.Sprintf("%s %s\n\n", IconMic, SpeakingStyle.Render("TRANSMITTING")))
	} else {
		b.WriteString(fmt.Sprintf("%s %s\n\n", m.spinner.View(), MutedStyle.Render("listening")))
	}

	b.WriteString(NewMemberTable(m.members, m.selected).View())
	b.WriteString("\n")

	if m.notice != "" {
		b.WriteString("\n" + WarningStyle.Render(IconWarning+" "+m.notice) + "\n")
	}

	b.WriteString(FooterStyle.Render(
		"space: talk  ↑/↓: select  +/-: volume  m: mute  r: reconnect  q: leave"))

	return b.String()
}

// Summary reports the exit stats for the session summary table.
func (m *TalkModel) Summary() SessionSummary {
	peers := 0
	for _, member := range m.members {
		if !member.Self {
			peers++
		}
	}
	return SessionSummary{
		Room:       m.room,
		Duration:   time.Since(m.startTime).Round(time.Second).String(),
		PeersSeen:  peers,
		TimesSpoke: m.transmissions,
	}
}

// RunTalk runs the live view until the user leaves or the session ends, then
// returns the exit summary.
func RunTalk(sess *session.Session, room, username, server string) (SessionSummary, error) {
	model := NewTalkModel(sess, room, username, server)
	program := tea.NewProgram(model)
	final, err := program.Run()
	if err != nil {
		return model.Summary(), err
	}
	if m, ok := final.(*TalkModel); ok {
		return m.Summary(), nil
	}
	return model.Summary(), nil
}

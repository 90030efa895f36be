package ui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	lipglosstable "github.com/charmbracelet/lipgloss/table"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/JuanfranciscoFioretti/Walkie-Talkie/internal/session"
)

// MemberTable renders the live member list. The selected row is highlighted
// so the volume/mute keys have an obvious target.
type MemberTable struct {
	members  []session.Member
	selected int
}

func NewMemberTable(members []session.Member, selected int) *MemberTable {
	return &MemberTable{members: members, selected: selected}
}

// View renders the table as a string
func (t *MemberTable) View() string {
	if len(t.members) == 0 {
		return MutedStyle.Render("Nobody here yet")
	}

	headers := []string{" ", "Name", "Status", "Link", "Volume"}

	var rows [][]string
	for _, m := range t.members {
		indicator := " "
		status := MutedStyle.Render("idle")
		if m.Speaking {
			indicator = IconMic
			status = "speaking"
		}

		name := m.Username
		if m.Self {
			name += " (you)"
		}

		link := "-"
		if !m.Self {
			link = m.Link.String()
		}

		volume := fmt.Sprintf("%3.0f%%", m.Volume*100)
		if m.Muted {
			volume = IconMutedSpk + " muted"
		}

		rows = append(rows, []string{indicator, name, status, link, volume})
	}

	tbl := lipglosstable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(Primary)).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == lipglosstable.HeaderRow:
				return TableHeaderStyle
			case row == t.selected:
				return SelectedStyle.Padding(0, 1)
			case row%2 == 0:
				return TableRowStyle
			default:
				return TableRowAltStyle
			}
		})

	return tbl.Render()
}

// SessionSummary holds the exit stats printed after leaving a room.
type SessionSummary struct {
	Room       string
	Duration   string
	PeersSeen  int
	TimesSpoke int
}

// SessionSummaryView renders the exit stats using a go-pretty table.
func SessionSummaryView(summary SessionSummary) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Metric", "Value"})
	t.AppendRows([]table.Row{
		{"Room", summary.Room},
		{"Time on air", summary.Duration},
		{"Peers seen", summary.PeersSeen},
		{"Transmissions", summary.TimesSpoke},
	})
	return t.Render()
}

func RenderSessionSummary(summary SessionSummary) {
	fmt.Println(SessionSummaryView(summary))
}

// RoomBanner renders the joined-room box shown above the live view.
func RoomBanner(room, username, server string) string {
	content := fmt.Sprintf("%s On Air\n\n%s Room:    %s\n%s Name:    %s\n%s Relay:   %s",
		IconWave,
		IconRoom, BoldStyle.Foreground(Primary).Render(room),
		IconPeer, BoldStyle.Render(username),
		IconConnect, MutedStyle.Render(server),
	)
	return BoxStyle.Render(content)
}

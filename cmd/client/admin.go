// Package main – rendering and the watch subcommand (bubbletea + lipgloss).
package main

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	admingrpc "github.com/i-melnichenko/raftstore/internal/transport/grpc/admin"
)

const watchRefreshInterval = 500 * time.Millisecond

// ---- Data types -------------------------------------------------------------

type watchConn struct {
	addr   string
	client *admingrpc.Client
}

type watchRow struct {
	addr     string
	nodeID   string
	first    uint64
	last     uint64
	lastTerm uint64
	term     uint64
	commit   uint64
	snapshot uint64
	voters   string
	size     int64
	snapping bool
	err      string
}

// ---- Bubbletea messages -----------------------------------------------------

type tickMsg time.Time

type rowsMsg struct {
	rows []watchRow
	ts   time.Time
}

// ---- Lipgloss styles --------------------------------------------------------

type uiStyles struct {
	dotHealthy  lipgloss.Style
	dotBusy     lipgloss.Style
	dotUnavail  lipgloss.Style
	addr        lipgloss.Style
	label       lipgloss.Style
	termVal     lipgloss.Style
	metric      lipgloss.Style
	confChange  lipgloss.Style
	tableHeader lipgloss.Style
	appHeader   lipgloss.Style
	tsStyle     lipgloss.Style
	footer      lipgloss.Style
	errorKind   lipgloss.Style
	box         lipgloss.Style
}

var styles = buildStyles()

func buildStyles() uiStyles {
	return uiStyles{
		dotHealthy:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("2")),
		dotBusy:     lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("3")),
		dotUnavail:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("1")),
		addr:        lipgloss.NewStyle().Faint(true).Foreground(lipgloss.Color("6")),
		label:       lipgloss.NewStyle().Faint(true).Width(12),
		termVal:     lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("3")),
		metric:      lipgloss.NewStyle(),
		confChange:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("5")),
		tableHeader: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("7")).Background(lipgloss.Color("8")),
		appHeader:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("6")),
		tsStyle:     lipgloss.NewStyle().Faint(true),
		footer:      lipgloss.NewStyle().Faint(true),
		errorKind:   lipgloss.NewStyle().Foreground(lipgloss.Color("1")),
		box:         lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1),
	}
}

// ---- One-shot rendering -----------------------------------------------------

func renderLogState(addr string, s *admingrpc.LogState) string {
	line := func(label, value string) string {
		return styles.label.Render(label) + value
	}
	lines := []string{
		styles.appHeader.Render(s.NodeID) + "  " + styles.addr.Render(addr),
		line("log", fmt.Sprintf("[%d, %d] last term %s", s.FirstIndex, s.LastIndex, styles.termVal.Render(fmt.Sprint(s.LastTerm)))),
		line("compacted", fmt.Sprintf("index %d term %d", s.WatermarkIndex, s.WatermarkTerm)),
		line("hard state", fmt.Sprintf("term %d vote %d commit %d", s.HardState.Term, s.HardState.Vote, s.HardState.Commit)),
		line("voters", formatIDs(s.Voters)),
	}
	if len(s.Learners) > 0 {
		lines = append(lines, line("learners", formatIDs(s.Learners)))
	}
	snap := "-"
	if s.SnapshotIndex > 0 {
		snap = fmt.Sprintf("index %d term %d (%s)", s.SnapshotIndex, s.SnapshotTerm, formatBytes(s.SnapshotSizeBytes))
	}
	if s.SnapshotInFlight {
		snap += " " + styles.dotBusy.Render("generating")
	}
	lines = append(lines,
		line("snapshot", snap),
		line("backend", formatBytes(s.BackendSizeBytes)),
	)
	return styles.box.Render(strings.Join(lines, "\n"))
}

func renderNodeError(addr string, err error) string {
	return styles.dotUnavail.Render("●") + " " + styles.addr.Render(addr) + " " +
		styles.errorKind.Render(errorKind(err.Error())) + " " + errorSummary(err.Error())
}

func renderEntries(entries []admingrpc.Entry) string {
	const (
		wIndex = 10
		wTerm  = 8
		wType  = 12
		wSize  = 8
	)
	var b strings.Builder
	b.WriteString(styles.tableHeader.Render(fmt.Sprintf("%-*s %-*s %-*s %-*s %s",
		wIndex, "INDEX", wTerm, "TERM", wType, "TYPE", wSize, "SIZE", "DATA")))
	for _, e := range entries {
		typ := e.Type
		if typ != "normal" {
			typ = styles.confChange.Render(fmt.Sprintf("%-*s", wType, typ))
		} else {
			typ = fmt.Sprintf("%-*s", wType, typ)
		}
		b.WriteString("\n")
		b.WriteString(fmt.Sprintf("%-*d %s %s %-*d %s",
			wIndex, e.Index,
			styles.termVal.Render(fmt.Sprintf("%-*d", wTerm, e.Term)),
			typ,
			wSize, len(e.Data),
			shorten(printable(e.Data), 48)))
	}
	return b.String()
}

// ---- Watch model ------------------------------------------------------------

type watchModel struct {
	conns   []watchConn
	timeout time.Duration
	rows    []watchRow
	ts      time.Time
	width   int
	height  int
}

func newWatchModel(conns []watchConn, timeout time.Duration) watchModel {
	return watchModel{
		conns:   conns,
		timeout: timeout,
		width:   120,
		height:  40,
	}
}

func (m watchModel) Init() tea.Cmd {
	// rowsMsg schedules the next tick, so only one poll is in flight.
	return m.pollCmd()
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tickMsg:
		return m, m.pollCmd()

	case rowsMsg:
		m.rows = msg.rows
		m.ts = msg.ts
		tickFn := func(t time.Time) tea.Msg { return tickMsg(t) }
		return m, tea.Tick(watchRefreshInterval, tickFn)

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m watchModel) View() string {
	contentWidth := m.width - 2
	if contentWidth <= 0 {
		contentWidth = 80
	}

	var b strings.Builder
	b.WriteString("  ")
	b.WriteString(styles.appHeader.Render("Log storage"))
	b.WriteString("  ")
	b.WriteString(styles.tsStyle.Render(m.ts.Format(time.RFC3339)))
	b.WriteString("\n\n")

	b.WriteString(styles.tableHeader.Render(shorten(watchHeader(), contentWidth)))
	b.WriteString("\n")
	visible := minInt(len(m.rows), maxInt(1, m.height-6))
	for _, r := range m.rows[:visible] {
		b.WriteString(renderWatchRow(r, contentWidth))
		b.WriteString("\n")
	}

	b.WriteString("\n  ")
	b.WriteString(styles.footer.Render("q or Ctrl+C to exit"))

	// Pad to the terminal height so a shorter frame overwrites the previous one.
	out := b.String()
	if m.height > 0 {
		lines := strings.Split(out, "\n")
		for len(lines) < m.height {
			lines = append(lines, "")
		}
		return strings.Join(lines, "\n")
	}
	return out
}

func watchHeader() string {
	return fmt.Sprintf("  %-10s %-20s %10s %10s %6s %6s %10s %10s %-10s %10s",
		"NODE", "ADDR", "FIRST", "LAST", "LTERM", "TERM", "COMMIT", "SNAPSHOT", "VOTERS", "SIZE")
}

func renderWatchRow(r watchRow, width int) string {
	if r.err != "" {
		return styles.dotUnavail.Render("●") + " " +
			fmt.Sprintf("%-10s %-20s ", "-", shorten(r.addr, 20)) +
			styles.errorKind.Render(errorKind(r.err)) + " " +
			shorten(errorSummary(r.err), maxInt(10, width-45))
	}
	dot := styles.dotHealthy.Render("●")
	if r.snapping {
		dot = styles.dotBusy.Render("●")
	}
	return dot + " " + fmt.Sprintf("%-10s %-20s %10d %10d %6d %6d %10d %10d %-10s %10s",
		shorten(r.nodeID, 10), shorten(r.addr, 20),
		r.first, r.last, r.lastTerm, r.term, r.commit, r.snapshot,
		shorten(r.voters, 10), formatBytes(r.size))
}

func (m watchModel) pollCmd() tea.Cmd {
	conns := m.conns
	timeout := m.timeout
	return func() tea.Msg {
		rows, ts := pollWatchRows(context.Background(), conns, timeout)
		return rowsMsg{rows: rows, ts: ts}
	}
}

func cmdWatch(addrs []string, timeout time.Duration) error {
	conns := make([]watchConn, 0, len(addrs))
	defer func() {
		for _, c := range conns {
			_ = c.client.Close()
		}
	}()
	for _, addr := range addrs {
		client, err := dial(addr)
		if err != nil {
			return err
		}
		conns = append(conns, watchConn{addr: addr, client: client})
	}

	p := tea.NewProgram(newWatchModel(conns, timeout), tea.WithAltScreen())
	_, err := p.Run()
	return err
}

func pollWatchRows(ctx context.Context, conns []watchConn, timeout time.Duration) ([]watchRow, time.Time) {
	rows := make([]watchRow, len(conns))
	var wg sync.WaitGroup
	wg.Add(len(conns))

	for i, c := range conns {
		go func(i int, c watchConn) {
			defer wg.Done()

			reqCtx, cancel := context.WithTimeout(ctx, timeout)
			state, err := c.client.GetLogState(reqCtx)
			cancel()
			if err != nil {
				rows[i] = watchRow{addr: c.addr, err: err.Error()}
				return
			}
			rows[i] = rowFromState(c.addr, state)
		}(i, c)
	}
	wg.Wait()

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].nodeID == rows[j].nodeID {
			return rows[i].addr < rows[j].addr
		}
		if rows[i].nodeID == "" {
			return false
		}
		if rows[j].nodeID == "" {
			return true
		}
		return rows[i].nodeID < rows[j].nodeID
	})

	return rows, time.Now()
}

func rowFromState(addr string, s *admingrpc.LogState) watchRow {
	return watchRow{
		addr:     addr,
		nodeID:   s.NodeID,
		first:    s.FirstIndex,
		last:     s.LastIndex,
		lastTerm: s.LastTerm,
		term:     s.HardState.Term,
		commit:   s.HardState.Commit,
		snapshot: s.SnapshotIndex,
		voters:   formatIDs(s.Voters),
		size:     s.BackendSizeBytes,
		snapping: s.SnapshotInFlight,
	}
}

// ---- Formatting helpers -----------------------------------------------------

func formatIDs(ids []uint64) string {
	if len(ids) == 0 {
		return "-"
	}
	items := make([]string, 0, len(ids))
	for _, id := range ids {
		items = append(items, fmt.Sprint(id))
	}
	return strings.Join(items, ",")
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%dB", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f%ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func printable(data []byte) string {
	var b strings.Builder
	for _, c := range data {
		if c >= 0x20 && c < 0x7f {
			b.WriteByte(c)
		} else {
			b.WriteByte('.')
		}
	}
	return b.String()
}

func errorKind(err string) string {
	switch {
	case strings.Contains(err, "code = Unavailable"):
		return "Unavailable"
	case strings.Contains(err, "code = Unimplemented"):
		return "Unimplemented"
	case strings.Contains(err, "code = DeadlineExceeded"):
		return "Timeout"
	case strings.Contains(err, "code = DataLoss"):
		return "Corruption"
	default:
		return "Error"
	}
}

func errorSummary(err string) string {
	err = strings.TrimSpace(err)
	err = strings.ReplaceAll(err, "\n", " ")
	return strings.Join(strings.Fields(err), " ")
}

func shorten(s string, n int) string {
	if n <= 0 {
		return s
	}
	if len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}

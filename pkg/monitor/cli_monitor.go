package monitor

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/muesli/termenv"
)

// CLIMonitor implements the Monitor interface, printing every protocol frame
// to a terminal with colored direction markers.
type CLIMonitor struct {
	mu     sync.Mutex
	writer io.Writer // The output destination, typically os.Stdout.
	out    *termenv.Output
}

// NewCLIMonitor creates a CLI monitor on stdout.
func NewCLIMonitor() *CLIMonitor {
	return NewCLIMonitorTo(os.Stdout)
}

// NewCLIMonitorTo creates a CLI monitor writing to w. Colors are used only
// when w is a terminal that supports them, unless opts force a profile.
func NewCLIMonitorTo(w io.Writer, opts ...termenv.OutputOption) *CLIMonitor {
	return &CLIMonitor{
		writer: w,
		out:    termenv.NewOutput(w, opts...),
	}
}

// Start prints the banner line.
func (m *CLIMonitor) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	fmt.Fprintln(m.writer, "----------------------------------------------------------------")
	fmt.Fprintln(m.writer, "📡 Protocol Monitor Active - every frame will appear here")
	fmt.Fprintln(m.writer, "----------------------------------------------------------------")
	return nil
}

func (m *CLIMonitor) Stop() error {
	return nil
}

// OnMessage displays one frame.
func (m *CLIMonitor) OnMessage(msg MonitorMessage) {
	timestamp := msg.Timestamp.Format("2006-01-02 15:04:05")

	arrow := m.out.String("<-").Foreground(m.out.Color("2"))
	if msg.Direction == Outbound {
		arrow = m.out.String("->").Foreground(m.out.Color("4"))
	}
	ts := m.out.String("[" + timestamp + "]").Foreground(m.out.Color("8"))
	cmd := m.out.String(msg.Command).Bold()

	m.mu.Lock()
	defer m.mu.Unlock()
	fmt.Fprintf(m.writer, "%s %s [%s] %s %s\n", ts, arrow, shortID(msg.ConnectionID), cmd, msg.Content)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

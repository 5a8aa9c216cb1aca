// Package console implements the interactive operator prompt.
package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/chzyer/readline"

	"github.com/kstaniek/go-bms-bridge/internal/bms"
	"github.com/kstaniek/go-bms-bridge/internal/telemetry"
)

// ErrQuit is returned by Execute for "quit" and "exit".
var ErrQuit = errors.New("quit")

// Poller is the part of the scheduler the console drives.
type Poller interface {
	Request(ctx context.Context, a, b bms.FrameID) error
	Cursors() (a, b int)
	Lists() (a, b []bms.FrameID)
}

type Console struct {
	model  *bms.Model
	poller Poller
	last   *telemetry.LastValues
}

// New returns a console over the loaded model. poller and last may be nil;
// the commands that need them then report that they are unavailable.
func New(m *bms.Model, p Poller, last *telemetry.LastValues) *Console {
	return &Console{model: m, poller: p, last: last}
}

const helpText = `commands:
  groups            configured frame ids and their fields
  lists             poll lists and the next position of each cursor
  last [name]       last decoded value of every (or one) parameter
  poll <a> <b>      send one poll request for ids a and b (hex 0x.. or decimal)
  help              this text
  quit              leave the console and stop the bridge
`

// Execute runs one command line and writes its output to w.
func (c *Console) Execute(ctx context.Context, w io.Writer, line string) error {
	args := strings.Fields(line)
	if len(args) == 0 {
		return nil
	}
	switch args[0] {
	case "help", "?":
		_, err := io.WriteString(w, helpText)
		return err
	case "groups":
		return c.groups(w)
	case "lists":
		return c.lists(w)
	case "last":
		return c.lastValues(w, args[1:])
	case "poll":
		return c.poll(ctx, w, args[1:])
	case "quit", "exit":
		return ErrQuit
	default:
		return fmt.Errorf("unknown command %q (try 'help')", args[0])
	}
}

func (c *Console) groups(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tOFFSET\tLEN\tSIGNED\tFACTOR\tUNIT")
	for _, id := range c.model.IDs() {
		g, _ := c.model.Group(id)
		if len(g) == 0 {
			fmt.Fprintf(tw, "0x%02X\t-\t\t\t\t\t\n", uint8(id))
			continue
		}
		for _, p := range g {
			fmt.Fprintf(tw, "0x%02X\t%s\t%d\t%d\t%t\t%g\t%s\n", uint8(id), p.Name, p.Offset, p.Length, p.Signed, p.Factor, p.Unit)
		}
	}
	return tw.Flush()
}

func (c *Console) lists(w io.Writer) error {
	if c.poller == nil {
		return errors.New("polling is not running")
	}
	a, b := c.poller.Lists()
	ca, cb := c.poller.Cursors()
	for _, l := range []struct {
		name   string
		ids    []bms.FrameID
		cursor int
	}{{"a", a, ca}, {"b", b, cb}} {
		parts := make([]string, len(l.ids))
		for i, id := range l.ids {
			s := fmt.Sprintf("0x%02X", uint8(id))
			if i == l.cursor {
				s = "[" + s + "]"
			}
			parts[i] = s
		}
		if _, err := fmt.Fprintf(w, "%s: %s\n", l.name, strings.Join(parts, " ")); err != nil {
			return err
		}
	}
	return nil
}

func (c *Console) lastValues(w io.Writer, args []string) error {
	if c.last == nil {
		return errors.New("no value store")
	}
	var samples []bms.Sample
	if len(args) > 0 {
		for _, name := range args {
			s, ok := c.last.Get(name)
			if !ok {
				return fmt.Errorf("no value for %q yet", name)
			}
			samples = append(samples, s)
		}
	} else {
		samples = c.last.All()
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, s := range samples {
		fmt.Fprintf(tw, "%s\t%g\t%s\t0x%02X\t%s\n", s.Name, s.Value, s.Unit, uint8(s.FrameID), s.At.Format("15:04:05.000"))
	}
	return tw.Flush()
}

func (c *Console) poll(ctx context.Context, w io.Writer, args []string) error {
	if c.poller == nil {
		return errors.New("polling is not running")
	}
	if len(args) != 2 {
		return errors.New("usage: poll <a> <b>")
	}
	a, err := ParseFrameID(args[0])
	if err != nil {
		return err
	}
	b, err := ParseFrameID(args[1])
	if err != nil {
		return err
	}
	if err := c.poller.Request(ctx, a, b); err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "requested 0x%02X 0x%02X\n", uint8(a), uint8(b))
	return err
}

// ParseFrameID accepts decimal or 0x-prefixed hex in 0..255.
func ParseFrameID(s string) (bms.FrameID, error) {
	v, err := strconv.ParseUint(s, 0, 8)
	if err != nil {
		return 0, fmt.Errorf("bad frame id %q: want 0..255", s)
	}
	return bms.FrameID(v), nil
}

// readlineWriter keeps log lines from clobbering the prompt.
type readlineWriter struct {
	rl  *readline.Instance
	out io.Writer
}

func (w *readlineWriter) Write(p []byte) (int, error) {
	w.rl.Clean()
	n, err := w.out.Write(p)
	w.rl.Refresh()
	return n, err
}

func historyFile() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return ""
	}
	dir = filepath.Join(dir, "bms-bridge")
	_ = os.MkdirAll(dir, 0o750)
	return filepath.Join(dir, "console_history")
}

// Run reads commands until ctx is done, EOF, or quit. Ctrl+C and quit call
// cancel so the whole bridge shuts down. setLogOutput is called with a
// prompt-aware writer on start and with os.Stderr on exit.
func (c *Console) Run(ctx context.Context, cancel context.CancelFunc, setLogOutput func(io.Writer)) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:      "bms> ",
		HistoryFile: historyFile(),
	})
	if err != nil {
		return fmt.Errorf("console: %w", err)
	}
	defer func() { _ = rl.Close() }()
	if setLogOutput != nil {
		setLogOutput(&readlineWriter{rl: rl, out: os.Stderr})
		defer setLogOutput(os.Stderr)
	}
	go func() {
		<-ctx.Done()
		_ = rl.Close()
	}()

	_, _ = fmt.Fprintln(rl.Stdout(), "type 'help' for commands")
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			cancel()
			return nil
		}
		if err != nil {
			return nil
		}
		switch err := c.Execute(ctx, rl.Stdout(), line); {
		case errors.Is(err, ErrQuit):
			cancel()
			return nil
		case err != nil:
			_, _ = fmt.Fprintln(rl.Stderr(), "error:", err)
		}
	}
}

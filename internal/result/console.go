package result

import (
	"fmt"
	"io"
	"os"
	"sync"
	"text/tabwriter"

	"github.com/andresmejia3/blinkauth/internal/liveness"
	"github.com/andresmejia3/blinkauth/internal/types"
	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
)

const (
	ansiReset = "\x1b[0m"
	ansiRed   = "\x1b[31m"
	ansiGreen = "\x1b[32m"
)

// Console prints status prompts and results. On a terminal it keeps a
// spinner counting analyzed frames.
type Console struct {
	mu       sync.Mutex
	w        io.Writer
	terminal bool
	bar      *progressbar.ProgressBar
	last     string
}

func NewConsole(w io.Writer) *Console {
	c := &Console{w: w, terminal: isTerminal(w)}
	if c.terminal {
		c.bar = progressbar.NewOptions(-1,
			progressbar.OptionSetDescription("👁️  Starting"),
			progressbar.OptionSetWriter(w),
			progressbar.OptionSpinnerType(14),
			progressbar.OptionShowCount(),
			progressbar.OptionSetItsString("frames"),
			progressbar.OptionShowIts(),
		)
	}
	return c
}

func isTerminal(w io.Writer) bool {
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// Status shows a prompt. Repeats of the current prompt are ignored.
func (c *Console) Status(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if msg == c.last {
		return
	}
	c.last = msg

	if c.bar != nil {
		c.bar.Describe("👁️  " + msg)
		return
	}
	fmt.Fprintf(c.w, "👁️  %s\n", msg)
}

// Tick advances the frame spinner.
func (c *Console) Tick(liveness.Step) {
	if c.bar == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bar.Add(1)
}

// Render prints an authentication outcome.
func (c *Console) Render(res types.AuthenticationResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.bar != nil {
		c.bar.Clear()
		fmt.Fprintln(c.w)
	}

	switch res.Status {
	case types.StatusMatched:
		c.line(ansiGreen, "✅ %s", res.Message)
		faceID := res.FaceID
		if faceID == "" {
			faceID = "N/A"
		}
		tw := tabwriter.NewWriter(c.w, 0, 0, 3, ' ', 0)
		fmt.Fprintf(tw, "   Employee ID:\t%s\n", res.EmployeeID)
		fmt.Fprintf(tw, "   Confidence:\t%.2f%%\n", res.Confidence)
		fmt.Fprintf(tw, "   Face ID:\t%s\n", faceID)
		tw.Flush()
	case types.StatusNotMatched:
		c.line("", "🚫 %s", res.Message)
	default:
		c.line(ansiRed, "❌ %s", res.Message)
	}
	c.last = ""
}

// Finish stops the spinner.
func (c *Console) Finish() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.bar != nil {
		c.bar.Finish()
		fmt.Fprintln(c.w)
	}
}

func (c *Console) line(color, format string, args ...any) {
	text := fmt.Sprintf(format, args...)
	if c.terminal && color != "" {
		text = color + text + ansiReset
	}
	fmt.Fprintln(c.w, text)
}

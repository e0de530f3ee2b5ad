package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

// SystemLabel tags console lines that do not belong to an agent
const SystemLabel = "System"

const blockRule = "   -----------------"

// Console prints the operator-facing audit trail. Every call writes its
// lines in one piece so output from concurrent pipelines never interleaves
// within a block.
type Console struct {
	w  io.Writer
	mu sync.Mutex
}

// NewConsole creates a Console writing to w (stdout when nil)
func NewConsole(w io.Writer) *Console {
	if w == nil {
		w = os.Stdout
	}
	return &Console{w: w}
}

// Printf writes an agent-prefixed line: "   [label] message"
func (c *Console) Printf(label, format string, args ...any) {
	c.write(fmt.Sprintf("   [%s] %s\n", label, fmt.Sprintf(format, args...)))
}

// Linef writes an unprefixed, formatted line
func (c *Console) Linef(format string, args ...any) {
	c.write(fmt.Sprintf(format, args...) + "\n")
}

// Block writes a titled, ruled block of captured output
func (c *Console) Block(label, title, body string) {
	var b strings.Builder
	fmt.Fprintf(&b, "   [%s] %s:\n", label, title)
	b.WriteString(blockRule + "\n")
	b.WriteString(body)
	if !strings.HasSuffix(body, "\n") {
		b.WriteString("\n")
	}
	b.WriteString(blockRule + "\n")
	c.write(b.String())
}

func (c *Console) write(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	io.WriteString(c.w, s)
}

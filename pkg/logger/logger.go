package logger

import (
	"fmt"
	"io"
	"log"
	"os"
)

// Console writes build console lines: tagged ones carry a component prefix,
// plain ones are written as is. Lines carry no timestamps so scrapers can
// match them exactly.
type Console struct {
	tagged *log.Logger
	plain  *log.Logger
}

// New returns a console for component writing to w (stdout when nil).
func New(w io.Writer, component string) *Console {
	if w == nil {
		w = os.Stdout
	}
	prefix := fmt.Sprintf("[%s] ", component)
	return &Console{
		tagged: log.New(w, prefix, 0),
		plain:  log.New(w, "", 0),
	}
}

// Printf writes a prefixed line.
func (c *Console) Printf(format string, args ...any) {
	c.tagged.Printf(format, args...)
}

// Plainf writes a line without the prefix.
func (c *Console) Plainf(format string, args ...any) {
	c.plain.Printf(format, args...)
}

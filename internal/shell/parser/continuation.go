package parser

import "strings"

// Step is the result of feeding one input line to a Continuation.
type Step struct {
	// Visible is the line as it should appear in the transcript, without a
	// trailing line-continuation backslash.
	Visible string
	// Command holds the complete logical command once Done is set.
	Command string
	// Done reports that the input forms a complete command.
	Done bool
	// Continued reports that the line was appended to earlier input.
	Continued bool
}

// Continuation joins input lines while quotes are open or a line ends with
// a backslash. A backslash join inserts nothing; a quote join keeps the newline.
type Continuation struct {
	buf       strings.Builder
	active    bool
	noNewline bool
}

// Active reports whether earlier lines are waiting for completion.
func (c *Continuation) Active() bool { return c.active }

// Reset drops any buffered input.
func (c *Continuation) Reset() {
	c.buf.Reset()
	c.active = false
	c.noNewline = false
}

// Feed adds a line of input.
func (c *Continuation) Feed(line string) Step {
	backslash := strings.HasSuffix(line, `\`)
	visible := line
	if backslash {
		visible = line[:len(line)-1]
	}

	if !c.active {
		if IsBlank(line) || (QuotesBalanced(line) && !backslash) {
			return Step{Visible: line, Command: line, Done: true}
		}
		c.active = true
		c.noNewline = backslash
		c.buf.WriteString(visible)
		return Step{Visible: visible}
	}

	if !c.noNewline {
		c.buf.WriteByte('\n')
	}
	c.buf.WriteString(visible)
	c.noNewline = backslash

	cmd := c.buf.String()
	if backslash || !QuotesBalanced(cmd) {
		return Step{Visible: visible, Continued: true}
	}
	c.Reset()
	return Step{Visible: visible, Command: cmd, Done: true, Continued: true}
}

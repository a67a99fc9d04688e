package session

import "strings"

type ansiState uint8

const (
	stText ansiState = iota
	stEsc
	stEscInter
	stCSI
	stString
	stStringEsc
)

// maxParams bounds the parameter bytes remembered for one CSI sequence.
const maxParams = 32

// Sanitizer turns raw job output into plain text for a Sink. It keeps state
// between writes so escape sequences and CRLF pairs split across reads are
// handled. One Sanitizer serves exactly one stream.
type Sanitizer struct {
	state  ansiState
	params []byte
	lastCR bool
}

// Write sanitizes p and delivers the result to sink. A screen clear flushes
// the text before it, then calls sink.ClearOutput.
func (z *Sanitizer) Write(p []byte, sink Sink) {
	var out strings.Builder
	out.Grow(len(p))
	flush := func() {
		if out.Len() > 0 {
			deliver(out.String(), sink)
			out.Reset()
		}
	}

	for _, c := range p {
		switch z.state {
		case stText:
			z.text(c, &out)
		case stEsc:
			switch {
			case c == '[':
				z.state = stCSI
				z.params = z.params[:0]
			case c == ']' || c == 'P' || c == 'X' || c == '^' || c == '_':
				z.state = stString
			case c >= 0x20 && c <= 0x2f:
				z.state = stEscInter
			case c == 0x1b:
			default:
				z.state = stText
			}
		case stEscInter:
			if c >= 0x30 && c <= 0x7e {
				z.state = stText
			} else if c == 0x1b {
				z.state = stEsc
			}
		case stCSI:
			switch {
			case c >= 0x40 && c <= 0x7e:
				z.state = stText
				if c == 'J' && clearsScreen(z.params) {
					flush()
					sink.ClearOutput()
				}
			case c == 0x1b:
				z.state = stEsc
			case c == 0x18 || c == 0x1a:
				z.state = stText
			case len(z.params) < maxParams:
				z.params = append(z.params, c)
			}
		case stString:
			switch c {
			case 0x07:
				z.state = stText
			case 0x1b:
				z.state = stStringEsc
			}
		case stStringEsc:
			if c == '\\' {
				z.state = stText
			} else if c != 0x1b {
				z.state = stString
			}
		}
	}
	flush()
}

func (z *Sanitizer) text(c byte, out *strings.Builder) {
	cr := z.lastCR
	z.lastCR = false
	switch {
	case c == 0x1b:
		z.state = stEsc
	case c == '\r':
		out.WriteByte('\n')
		z.lastCR = true
	case c == '\n':
		if !cr {
			out.WriteByte('\n')
		}
	case c == '\t':
		out.WriteString("    ")
	case c < 0x20 || c == 0x7f:
		// BEL and the remaining control characters are dropped.
	default:
		out.WriteByte(c)
	}
}

// clearsScreen reports whether CSI parameters select the whole screen.
func clearsScreen(params []byte) bool {
	s := string(params)
	return s == "2" || s == "3" || strings.HasPrefix(s, "2;") || strings.HasPrefix(s, "3;")
}

// x11Noise matches the diagnostic Xlib prints when a nested GUI client loses
// its display connection.
func x11Noise(line string) bool {
	return strings.Contains(line, "X connection to ") &&
		strings.Contains(line, "broken (explicit kill or server shutdown)")
}

// deliver forwards text to sink without X11 shutdown noise.
func deliver(text string, sink Sink) {
	if !strings.Contains(text, "X connection to ") {
		sink.AppendOutput(text)
		return
	}
	var kept strings.Builder
	for _, line := range strings.SplitAfter(text, "\n") {
		if !x11Noise(line) {
			kept.WriteString(line)
		}
	}
	if kept.Len() > 0 {
		sink.AppendOutput(kept.String())
	}
}

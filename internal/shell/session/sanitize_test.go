package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizer(t *testing.T) {
	tests := []struct {
		name   string
		chunks []string
		want   string
	}{
		{"plain", []string{"hello\n"}, "hello\n"},
		{"crlf", []string{"a\r\nb\r\n"}, "a\nb\n"},
		{"crlf split across reads", []string{"a\r", "\nb"}, "a\nb"},
		{"lone cr", []string{"a\rb"}, "a\nb"},
		{"tab", []string{"a\tb"}, "a    b"},
		{"bell and controls", []string{"a\x07b\x01c\x7f"}, "abc"},
		{"sgr colour", []string{"\x1b[1;31mred\x1b[0m\n"}, "red\n"},
		{"csi split across reads", []string{"\x1b[3", "2mgreen\x1b", "[0m"}, "green"},
		{"osc title with bel", []string{"\x1b]0;title\x07text"}, "text"},
		{"osc title with st", []string{"\x1b]2;title\x1b\\text"}, "text"},
		{"charset designation", []string{"\x1b(Btext"}, "text"},
		{"cursor movement", []string{"\x1b[H\x1b[Ktext"}, "text"},
		{"utf8 passes", []string{"héllo ✓\n"}, "héllo ✓\n"},
		{
			"x11 noise dropped",
			[]string{"before\nX connection to :0 broken (explicit kill or server shutdown).\nafter\n"},
			"before\nafter\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var (
				z   Sanitizer
				rec recorder
			)
			for _, c := range tt.chunks {
				z.Write([]byte(c), &rec)
			}
			assert.Equal(t, tt.want, rec.String())
			assert.Zero(t, rec.clears)
		})
	}
}

func TestSanitizerClearScreen(t *testing.T) {
	for _, seq := range []string{"\x1b[2J", "\x1b[3J", "\x1b[2;1J"} {
		var (
			z     Sanitizer
			rec   recorder
			early []string
		)
		sink := &clearProbe{rec: &rec, onClear: func() { early = append(early, rec.String()) }}
		z.Write([]byte("old"+seq+"new"), sink)

		assert.Equal(t, []string{"old"}, early, "text before the clear is flushed first")
		assert.Equal(t, 1, rec.clears)
		assert.Equal(t, "new", rec.String())
	}
}

func TestSanitizerPartialClearIsIgnored(t *testing.T) {
	var (
		z   Sanitizer
		rec recorder
	)
	z.Write([]byte("a\x1b[Jb\x1b[1Jc"), &rec)
	assert.Equal(t, "abc", rec.String())
	assert.Zero(t, rec.clears)
}

type clearProbe struct {
	rec     *recorder
	onClear func()
}

func (p *clearProbe) AppendOutput(text string) { p.rec.AppendOutput(text) }

func (p *clearProbe) ClearOutput() {
	p.onClear()
	p.rec.ClearOutput()
}

func TestUnescape(t *testing.T) {
	tests := map[string]string{
		`a\nb`:       "a\nb",
		`a\tb`:       "a    b",
		`a\\b`:       `a\b`,
		`say \"hi\"`: `say "hi"`,
		`it\'s`:      "it's",
		"x\\\ny":     "xy",
		`\q`:         `\q`,
		`end\`:       `end\`,
	}
	for in, want := range tests {
		assert.Equal(t, want, unescape(in), in)
	}
}

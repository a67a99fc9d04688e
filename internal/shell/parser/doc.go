// Package parser turns raw command lines into pipelines.
//
// The grammar is deliberately small:
//   - Arguments are separated by unquoted spaces or tabs
//   - Single and double quotes group text and are stripped
//   - Unquoted '|' separates pipeline stages
//   - Unquoted ';' separates statements
//   - Redirections: <file, >file, >>file, 2>file, 2>>file
//   - A trailing '&' runs the line in the background
//
// Redirection operators are recognised even without surrounding spaces
// (ls>out.txt). No escape sequences are interpreted; lines with an open quote
// or a trailing backslash are joined with the next line by Continuation.
//
// Example Usage:
//
//	p, err := parser.ParsePipeline(`grep -i "foo bar" < in.txt | sort >> out.txt`)
//	// p[0].Argv == []string{"grep", "-i", "foo bar"}, p[0].Redir.Input == "in.txt"
//	// p[1].Argv == []string{"sort"}, p[1].Redir.Output == "out.txt" (append)
package parser

package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
)

// linePrompter answers editor prompts from line-oriented input. EOF
// cancels a filename prompt and declines a confirmation.
type linePrompter struct {
	in       *bufio.Reader
	out      io.Writer
	filename string // preset answer for the filename prompt
}

func newLinePrompter(in io.Reader, out io.Writer, filename string) *linePrompter {
	return &linePrompter{in: bufio.NewReader(in), out: out, filename: filename}
}

// PromptFilename accepts the suggestion on an empty line.
func (p *linePrompter) PromptFilename(ctx context.Context, message, suggested string) (string, bool) {
	if p.filename != "" {
		return p.filename, true
	}

	fmt.Fprintf(p.out, "%s [%s] ", message, suggested)
	line, ok := p.readLine()
	if !ok {
		fmt.Fprintln(p.out)
		return "", false
	}
	if line == "" {
		return suggested, true
	}
	return line, true
}

func (p *linePrompter) Confirm(ctx context.Context, message string) bool {
	fmt.Fprintf(p.out, "%s [y/N] ", message)
	line, ok := p.readLine()
	if !ok {
		return false
	}
	switch strings.ToLower(line) {
	case "y", "yes":
		return true
	default:
		return false
	}
}

func (p *linePrompter) Alert(ctx context.Context, message string) {
	fmt.Fprintln(p.out, message)
}

func (p *linePrompter) readLine() (string, bool) {
	line, err := p.in.ReadString('\n')
	if err != nil && line == "" {
		return "", false
	}
	return strings.TrimSpace(line), true
}

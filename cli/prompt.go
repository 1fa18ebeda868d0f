package cli

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/uoar/pass-manager/crypto"
)

// prompter reads answers from the user. On a terminal secrets are read
// without echo; otherwise every answer is one input line, which lets scripts
// and tests drive the commands.
type prompter struct {
	in  io.Reader
	out io.Writer
	r   *bufio.Reader
}

func (p *prompter) terminal() (int, bool) {
	f, ok := p.in.(*os.File)
	if !ok {
		return 0, false
	}
	fd := int(f.Fd())
	return fd, term.IsTerminal(fd)
}

// secret reads a value without echo. The caller owns and should wipe it.
func (p *prompter) secret(label string) ([]byte, error) {
	fmt.Fprint(p.out, label)
	if fd, ok := p.terminal(); ok {
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(p.out) // newline after hidden input
		if err != nil {
			return nil, fmt.Errorf("failed to read passphrase: %w", err)
		}
		return b, nil
	}
	return p.line()
}

// newSecret asks for a value twice and requires both to match.
func (p *prompter) newSecret(label string, minLen int) ([]byte, error) {
	first, err := p.secret(label)
	if err != nil {
		return nil, err
	}
	if len(first) < minLen {
		crypto.Wipe(first)
		return nil, fmt.Errorf("must be at least %d characters", minLen)
	}
	second, err := p.secret("Repeat to confirm: ")
	if err != nil {
		crypto.Wipe(first)
		return nil, err
	}
	defer crypto.Wipe(second)
	if !bytes.Equal(first, second) {
		crypto.Wipe(first)
		return nil, errors.New("entries do not match")
	}
	return first, nil
}

func (p *prompter) text(label string) (string, error) {
	fmt.Fprint(p.out, label)
	b, err := p.line()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

func (p *prompter) confirm(label string) (bool, error) {
	answer, err := p.text(label + " [y/N]: ")
	if err != nil {
		return false, err
	}
	switch strings.ToLower(answer) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

func (p *prompter) line() ([]byte, error) {
	b, err := p.r.ReadBytes('\n')
	if err != nil {
		if !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to read input: %w", err)
		}
		if len(b) == 0 {
			return nil, errors.New("unexpected end of input")
		}
	}
	return bytes.TrimRight(b, "\r\n"), nil
}

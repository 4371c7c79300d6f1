// Package prompt provides terminal input helpers for the CLI.
package prompt

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"
)

// stdinReader is a shared reader for non-terminal stdin to avoid buffering issues
var stdinReader *bufio.Reader

// ReadPassword reads a passphrase from the terminal without echoing
func ReadPassword(promptText string) ([]byte, error) {
	fmt.Fprint(os.Stderr, promptText)

	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		// Not a terminal, read a line from stdin directly
		line, err := readLine()
		if err != nil {
			return nil, err
		}
		return []byte(line), nil
	}

	password, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr) // New line after password input

	if err != nil {
		return nil, fmt.Errorf("read password: %w", err)
	}

	return password, nil
}

// ReadPasswordConfirm reads a passphrase twice and checks both entries match
func ReadPasswordConfirm(promptText, confirmText string) ([]byte, error) {
	password, err := ReadPassword(promptText)
	if err != nil {
		return nil, err
	}

	confirm, err := ReadPassword(confirmText)
	if err != nil {
		return nil, err
	}

	if string(password) != string(confirm) {
		return nil, fmt.Errorf("passphrases do not match")
	}

	return password, nil
}

// Confirm asks a yes/no question and returns the answer
func Confirm(question string) (bool, error) {
	fmt.Fprintf(os.Stderr, "%s [y/N]: ", question)

	line, err := readLine()
	if err != nil {
		return false, err
	}

	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes", nil
}

func readLine() (string, error) {
	if stdinReader == nil {
		stdinReader = bufio.NewReader(os.Stdin)
	}
	line, err := stdinReader.ReadString('\n')
	if err != nil {
		return "", err
	}
	line = strings.TrimSuffix(line, "\n")
	line = strings.TrimSuffix(line, "\r")
	return line, nil
}

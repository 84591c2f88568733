package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"golang.org/x/term"

	"vfspanel/internal/panel"
)

// terminalUI answers mount prompts on the controlling terminal and prints
// reconciliation notices.
type terminalUI struct {
	in  *bufio.Reader
	out io.Writer
	fd  int
}

var (
	_ panel.UI                 = (*terminalUI)(nil)
	_ panel.CredentialPrompter = (*terminalUI)(nil)
	_ panel.Notifier           = (*terminalUI)(nil)
)

func newTerminalUI(in *os.File, out io.Writer) *terminalUI {
	return &terminalUI{in: bufio.NewReader(in), out: out, fd: int(in.Fd())}
}

// ChooseOption lists the choices and reads a 1-based selection. An empty
// line picks the default; EOF or "q" aborts.
func (u *terminalUI) ChooseOption(message string, choices []string, defaultIndex int) int {
	fmt.Fprintln(u.out, message)
	for i, c := range choices {
		marker := " "
		if i == defaultIndex {
			marker = "*"
		}
		fmt.Fprintf(u.out, " %s %d) %s\n", marker, i+1, c)
	}
	for {
		fmt.Fprint(u.out, "Choice: ")
		line, err := u.readLine()
		if err != nil || line == "q" {
			return -1
		}
		if line == "" {
			return defaultIndex
		}
		n, err := strconv.Atoi(line)
		if err == nil && n >= 1 && n <= len(choices) {
			return n - 1
		}
		fmt.Fprintf(u.out, "Enter a number between 1 and %d.\n", len(choices))
	}
}

func (u *terminalUI) EnterCredentials(req panel.CredentialRequest) (panel.Credentials, bool) {
	fmt.Fprintln(u.out, req.Message)
	creds := panel.Credentials{User: req.User, Domain: req.Domain}

	if req.Flags.Has(panel.NeedUsername) {
		user, err := u.readDefault("User", req.User)
		if err != nil {
			return panel.Credentials{}, false
		}
		creds.User = user
	}
	if req.Flags.Has(panel.NeedDomain) {
		domain, err := u.readDefault("Domain", req.Domain)
		if err != nil {
			return panel.Credentials{}, false
		}
		creds.Domain = domain
	}
	if req.Flags.Has(panel.NeedPassword) {
		pw, err := u.readPassword("Password: ")
		if err != nil {
			return panel.Credentials{}, false
		}
		creds.Password = pw
	}
	return creds, true
}

func (u *terminalUI) RecordMountedExternally() {
	fmt.Fprintln(u.out, "A resource was mounted outside the panel.")
}

func (u *terminalUI) RecordUnmountedExternally(name, path, scheme string) {
	fmt.Fprintf(u.out, "%s (%s) was unmounted outside the panel.\n", name, scheme)
}

// readPassword reads without echo when stdin is a terminal.
func (u *terminalUI) readPassword(prompt string) (string, error) {
	fmt.Fprint(u.out, prompt)
	if !term.IsTerminal(u.fd) {
		return u.readLine()
	}
	b, err := term.ReadPassword(u.fd)
	fmt.Fprintln(u.out)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (u *terminalUI) readDefault(label, def string) (string, error) {
	if def != "" {
		fmt.Fprintf(u.out, "%s [%s]: ", label, def)
	} else {
		fmt.Fprintf(u.out, "%s: ", label)
	}
	line, err := u.readLine()
	if err != nil {
		return "", err
	}
	if line == "" {
		return def, nil
	}
	return line, nil
}

func (u *terminalUI) readLine() (string, error) {
	line, err := u.in.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// Command mash is an interactive SSH multiplexer: it spawns one ssh child
// per target host under its own PTY, tames each into a scriptable,
// prompt-synchronized pipeline, and lets an operator broadcast commands,
// inspect output, and steer individual shells from one terminal.
package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"
	"golang.org/x/term"

	"github.com/crisidev/mash/internal/completion"
	"github.com/crisidev/mash/internal/config"
	"github.com/crisidev/mash/internal/console"
	"github.com/crisidev/mash/internal/displaynames"
	"github.com/crisidev/mash/internal/eventloop"
	"github.com/crisidev/mash/internal/hostsyntax"
	"github.com/crisidev/mash/internal/shellmanager"
)

const defaultSSHTemplate = "exec ssh -oLogLevel=Quiet -t %(host)s %(port)s"

type flags struct {
	hostsFiles   []string
	command      string
	sshTemplate  string
	user         string
	noColor      bool
	passwordFile string
	logFile      string
	abortErrors  bool
	debug        bool
}

func main() {
	f := &flags{}

	root := &cobra.Command{
		Use:   "mash [flags] host...",
		Short: "Drive many interactive ssh sessions from one terminal",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := run(f, args)
			if err != nil {
				return err
			}
			os.Exit(code)
			return nil
		},
		SilenceUsage: true,
	}

	defaults, err := config.LoadDefaults(config.DefaultsPath())
	if err != nil {
		defaults = &config.Defaults{}
	}

	root.Flags().StringArrayVar(&f.hostsFiles, "hosts-file", nil, "read hostnames (one per line, # comments stripped) from this file; repeatable")
	root.Flags().StringVar(&f.command, "command", "", "run this command on every shell and exit instead of opening an interactive session")
	root.Flags().StringVar(&f.sshTemplate, "ssh", firstNonEmpty(defaults.SSHTemplate, defaultSSHTemplate), "ssh invocation template; %(host)s and %(port)s are substituted")
	root.Flags().StringVar(&f.user, "user", defaults.User, "ssh username to prefix every host with")
	root.Flags().BoolVar(&f.noColor, "no-color", defaults.NoColor, "disable ANSI colors in shell prefixes and the prompt")
	root.Flags().StringVar(&f.passwordFile, "password-file", "", "read a password to auto-answer ssh's password prompt from this file, or \"-\" to prompt on the terminal")
	root.Flags().StringVar(&f.logFile, "log-file", "", "append an uncolored transcript of all shell output to this file")
	root.Flags().BoolVar(&f.abortErrors, "abort-errors", defaults.AbortErrors, "abort if some shell fails to initialize")
	root.Flags().BoolVar(&f.debug, "debug", defaults.Debug, "trace every shell's state transitions and raw PTY reads")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func run(f *flags, positionalHosts []string) (int, error) {
	// Keep Go's default SIGPIPE handling: a write to a broken stdout or
	// stderr ends the process, so scripted use like "mash ... | head" stops
	// cleanly, while a failed write on any other descriptor (such as a dead
	// ssh child's pty master) comes back as an ordinary error.
	signal.Reset(syscall.SIGPIPE)

	hosts := append([]string{}, positionalHosts...)
	for _, path := range f.hostsFiles {
		fromFile, err := config.ReadHostsFile(path)
		if err != nil {
			return 1, err
		}
		hosts = append(hosts, fromFile...)
	}
	if len(hosts) == 0 {
		return 1, fmt.Errorf("no hosts given: pass them as arguments or via --hosts-file")
	}

	var expanded []string
	for _, h := range hosts {
		expanded = append(expanded, hostsyntax.ExpandSyntax(h)...)
	}
	hosts = expanded

	interactive := f.command == "" && isTerminal(os.Stdin) && isTerminal(os.Stdout)

	var command *string
	if !isTerminal(os.Stdin) && f.command == "" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return 1, fmt.Errorf("reading command from stdin: %w", err)
		}
		c := string(data)
		command = &c
	} else if f.command != "" {
		command = &f.command
	}

	var password *string
	if f.passwordFile != "" {
		pw, err := readPassword(f.passwordFile)
		if err != nil {
			return 1, err
		}
		password = &pw
	}

	if err := raiseFileLimit(len(hosts)); err != nil {
		fmt.Fprintf(os.Stderr, "warning: could not raise open file limit: %v\n", err)
	}

	// The line editor and ":hide_password" both fiddle with the terminal's
	// attributes; capture them once so they can be put back whatever state
	// they end up in.
	if interactive {
		if saved, err := term.GetState(int(os.Stdin.Fd())); err == nil {
			defer term.Restore(int(os.Stdin.Fd()), saved)
		}
	}

	useColor := !f.noColor && isTerminal(os.Stdout)

	names := displaynames.NewRegistry()
	mgr := shellmanager.New(useColor)
	c := console.New(interactive, f.logFile)

	sessionID := uuid.New().String()
	if f.debug {
		c.Output([]byte(fmt.Sprintf("[dbg] session %s starting, %d hosts\n", sessionID, len(hosts))))
	}

	shellEvents := make(chan eventloop.ShellEvent, 256)
	for i, host := range hosts {
		if interactive {
			fmt.Fprintf(os.Stderr, "Started %d/%d remote processes\r", i, len(hosts))
		}
		if _, err := eventloop.SpawnShell(host, f.sshTemplate, f.user, f.debug, command, password, mgr, names, shellEvents); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			if f.abortErrors {
				return 1, nil
			}
		}
	}
	if interactive && len(hosts) > 0 {
		fmt.Fprintf(os.Stderr, "%s\r", strings.Repeat(" ", 40))
	}

	state := completion.NewStateFromManager(mgr)

	code := eventloop.Run(mgr, names, c, state, shellEvents, eventloop.Options{
		SSHTemplate: f.sshTemplate,
		User:        f.user,
		Debug:       f.debug,
		Interactive: interactive,
		UseColor:    useColor,
		Command:     command,
		Password:    password,
	})
	return code, nil
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

func readPassword(path string) (string, error) {
	if path == "-" {
		fmt.Fprint(os.Stderr, "password: ")
		pw, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("reading password from terminal: %w", err)
		}
		return string(pw), nil
	}

	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open password file %s: %w", path, err)
	}
	defer f.Close()

	line, err := bufio.NewReader(f).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("read password file %s: %w", path, err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// raiseFileLimit bumps RLIMIT_NOFILE so each additional ssh child (which
// needs a PTY master/slave pair plus its own stdio) doesn't run the process
// into the default per-process file descriptor ceiling.
func raiseFileLimit(nrHosts int) error {
	var rlimit unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &rlimit); err != nil {
		return err
	}
	want := uint64(3 + nrHosts*3)
	if rlimit.Cur >= want {
		return nil
	}
	if rlimit.Max < want {
		want = rlimit.Max
	}
	rlimit.Cur = want
	return unix.Setrlimit(unix.RLIMIT_NOFILE, &rlimit)
}

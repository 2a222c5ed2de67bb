// Package ptyspawn launches the external ssh binary under a PTY, exactly as
// a user would type "ssh host" at an interactive terminal. mash never
// speaks the SSH protocol itself; it only drives ssh's terminal.
package ptyspawn

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"
)

// Child is a spawned ssh process attached to a PTY master.
type Child struct {
	Master *os.File
	Cmd    *exec.Cmd
}

// Pid returns the child process's pid.
func (c *Child) Pid() int {
	if c.Cmd.Process == nil {
		return -1
	}
	return c.Cmd.Process.Pid
}

// SpawnSSH starts `/bin/sh -c <evaluated ssh template>` under a fresh PTY.
// sshTemplate may contain the placeholders "%(host)s" and "%(port)s"; when
// it contains neither, the target host is appended to the command line so
// the ssh invocation always receives a destination.
func SpawnSSH(hostname, port, sshTemplate, user string) (*Child, error) {
	name := hostname
	if user != "" {
		name = fmt.Sprintf("%s@%s", user, hostname)
	}
	portArg := ""
	if port != "22" {
		portArg = fmt.Sprintf("-p %s", port)
	}

	hasHostPlaceholder := strings.Contains(sshTemplate, "%(host)s")
	evaluated := strings.ReplaceAll(sshTemplate, "%(host)s", name)
	evaluated = strings.ReplaceAll(evaluated, "%(port)s", portArg)

	if !hasHostPlaceholder && !strings.Contains(sshTemplate, name) {
		evaluated = fmt.Sprintf("%s %s", evaluated, name)
	}

	cmd := exec.Command("/bin/sh", "-c", evaluated)
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid:  true,
		Setctty: true,
	}

	master, err := pty.Start(cmd)
	if err != nil {
		return nil, fmt.Errorf("ptyspawn: start ssh under pty: %w", err)
	}

	disableEchoAndONLCR(master)

	return &Child{Master: master, Cmd: cmd}, nil
}

// disableEchoAndONLCR turns off local echo and output CR/NL translation on
// the PTY master side, since mash renders the remote shell's own echo and
// handles its own newline translation in the output pipeline.
func disableEchoAndONLCR(master *os.File) {
	fd := int(master.Fd())
	attrs, err := unix.IoctlGetTermios(fd, ioctlGetTermios)
	if err != nil {
		return
	}
	attrs.Oflag &^= unix.ONLCR
	attrs.Lflag &^= unix.ECHO
	_ = unix.IoctlSetTermios(fd, ioctlSetTermios, attrs)
}

// SetSize applies the given rows/cols to the PTY so the remote shell's own
// terminal size tracks the local window.
func SetSize(master *os.File, rows, cols int) error {
	return pty.Setsize(master, &pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)})
}

// SetEcho toggles local echo on f's terminal (used on stdin by
// ":hide_password" so a pasted password is never reflected to the screen).
func SetEcho(f *os.File, enabled bool) error {
	fd := int(f.Fd())
	attrs, err := unix.IoctlGetTermios(fd, ioctlGetTermios)
	if err != nil {
		return err
	}
	if enabled {
		attrs.Lflag |= unix.ECHO
	} else {
		attrs.Lflag &^= unix.ECHO
	}
	return unix.IoctlSetTermios(fd, ioctlSetTermios, attrs)
}

// Kill sends SIGKILL to the entire process group rooted at the child, so
// any subprocess the remote shell spawned dies along with it. pid must be a
// real child pid (> 1): "-1" is kill(2)'s broadcast-to-everything target, so
// a pid of 1 (which would never legitimately be a spawned ssh child) is
// rejected rather than silently turned into a process-wide SIGKILL.
func Kill(pid int) error {
	if pid <= 1 {
		return nil
	}
	return syscall.Kill(-pid, syscall.SIGKILL)
}

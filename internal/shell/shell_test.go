package shell

import (
	"bytes"
	"os"
	"testing"
	"time"

	"github.com/crisidev/mash/internal/callbacks"
	"github.com/crisidev/mash/internal/console"
	"github.com/crisidev/mash/internal/displaynames"
)

func newTestConsole() *console.Console {
	return console.New(false, "")
}

func newLoggingConsole(t *testing.T) (*console.Console, string) {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "mash-console-*.log")
	if err != nil {
		t.Fatalf("temp file: %v", err)
	}
	path := f.Name()
	f.Close()
	c := console.New(false, path)
	t.Cleanup(func() { c.DisableLog() })
	return c, path
}

func TestPrintLinesColumnAlignment(t *testing.T) {
	s, _ := makeTestShell(t)
	s.DisplayName = "web1"
	c, path := newLoggingConsole(t)

	s.PrintLines([]byte("first\nsecond\nthird"), c, len("longerhostname"))

	logged, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	lines := bytes.Split(bytes.TrimRight(logged, "\n"), []byte("\n"))
	if len(lines) != 3 {
		t.Fatalf("expected 3 rows, got %d: %q", len(lines), logged)
	}

	colStart := bytes.Index(lines[0], []byte(": ")) + len(": ")
	for i, line := range lines {
		if got := bytes.Index(line, []byte(": ")) + len(": "); got != colStart {
			t.Fatalf("row %d: column starts at byte %d, want %d", i, got, colStart)
		}
		if bytes.HasSuffix(line, []byte(" ")) {
			t.Fatalf("row %d: trailing padding after last column: %q", i, line)
		}
	}
	if !bytes.HasSuffix(logged, []byte("\n")) {
		t.Fatalf("expected output to end in a newline")
	}
}

func TestStripNewlinesEmpty(t *testing.T) {
	if got := stripNewlines([]byte("")); string(got) != "" {
		t.Fatalf("got %q", got)
	}
}

func TestStripNewlinesOnlyNewlines(t *testing.T) {
	if got := stripNewlines([]byte("\n\n\n")); string(got) != "" {
		t.Fatalf("got %q", got)
	}
}

func TestStripNewlinesSingleLine(t *testing.T) {
	if got := stripNewlines([]byte("hello")); string(got) != "hello" {
		t.Fatalf("got %q", got)
	}
}

func TestStripNewlinesStripsLeadingTrailing(t *testing.T) {
	if got := stripNewlines([]byte("\nhello\n")); string(got) != "hello" {
		t.Fatalf("got %q", got)
	}
}

func TestStripNewlinesPreservesMiddle(t *testing.T) {
	if got := stripNewlines([]byte("hello\nworld")); string(got) != "hello\nworld" {
		t.Fatalf("got %q", got)
	}
}

func TestStripNewlinesRemovesBlankLines(t *testing.T) {
	if got := stripNewlines([]byte("hello\n\nworld")); string(got) != "hello\nworld" {
		t.Fatalf("got %q", got)
	}
}

func TestStripNewlinesRemovesWhitespaceOnlyLines(t *testing.T) {
	if got := stripNewlines([]byte("hello\n   \nworld")); string(got) != "hello\nworld" {
		t.Fatalf("got %q", got)
	}
}

func TestStripNewlinesComplex(t *testing.T) {
	input := []byte("\n\nhello\n  \n\nworld\nfoo\n\n")
	if got := stripNewlines(input); string(got) != "hello\nworld\nfoo" {
		t.Fatalf("got %q", got)
	}
}

func TestStateString(t *testing.T) {
	cases := map[State]string{
		NotStarted: "not_started",
		Idle:       "idle",
		Running:    "running",
		Terminated: "terminated",
		Dead:       "dead",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Fatalf("state %d: got %q want %q", state, got, want)
		}
	}
}

func makeTestShell(t *testing.T) (*RemoteShell, *os.File) {
	t.Helper()
	readFD, writeFD, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	// A pid of 1 would make ptyspawn.Kill's "-pid" computation collapse to
	// -1, which kill(2) treats as "every process the caller may signal" -
	// never use the real init pid here, even as a fake test value.
	s := New(0, "testhost", "22", "testhost", 999999999, writeFD, false, nil, nil, 0, false)
	t.Cleanup(func() { readFD.Close(); writeFD.Close() })
	return s, readFD
}

func TestPrintUnfinishedLineFlushesRunningBuffer(t *testing.T) {
	s, _ := makeTestShell(t)
	c := newTestConsole()

	s.State = Running
	s.ReadBuffer = []byte("Do you want to continue? [Y/n] ")

	s.PrintUnfinishedLine(c, 8)

	if len(s.ReadBuffer) != 0 {
		t.Fatalf("expected buffer to be drained, got %q", s.ReadBuffer)
	}
}

func TestPrintUnfinishedLineNoopWhenIdle(t *testing.T) {
	s, _ := makeTestShell(t)
	c := newTestConsole()

	s.State = Idle
	s.ReadBuffer = []byte("some data")

	s.PrintUnfinishedLine(c, 8)

	if string(s.ReadBuffer) != "some data" {
		t.Fatalf("buffer should be untouched, got %q", s.ReadBuffer)
	}
}

func TestPrintUnfinishedLineNoopWhenBufferEmpty(t *testing.T) {
	s, _ := makeTestShell(t)
	c := newTestConsole()

	s.State = Running

	s.PrintUnfinishedLine(c, 8)

	if len(s.ReadBuffer) != 0 {
		t.Fatalf("expected empty buffer, got %q", s.ReadBuffer)
	}
}

func TestDispatchCommandIdleToRunning(t *testing.T) {
	s, readFD := makeTestShell(t)

	s.State = Idle
	s.DispatchCommand([]byte("sleep 5\n"))

	if s.State != Running {
		t.Fatalf("expected Running, got %v", s.State)
	}

	buf := make([]byte, 64)
	n, err := readFD.Read(buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(buf[:n], []byte("sleep 5\n")) {
		t.Fatalf("got %q", buf[:n])
	}
}

func TestDispatchCommandForwardsWhileRunning(t *testing.T) {
	s, readFD := makeTestShell(t)

	s.State = Running
	s.DispatchCommand([]byte("y\n"))

	if s.State != Running {
		t.Fatalf("expected Running, got %v", s.State)
	}

	buf := make([]byte, 64)
	n, err := readFD.Read(buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(buf[:n], []byte("y\n")) {
		t.Fatalf("got %q", buf[:n])
	}
}

func TestDispatchCommandIgnoredWhenDead(t *testing.T) {
	s, _ := makeTestShell(t)

	s.State = Dead
	if s.DispatchWrite([]byte("y\n")) {
		t.Fatalf("expected DispatchWrite to report false for a dead shell")
	}
	if s.State != Dead {
		t.Fatalf("expected Dead, got %v", s.State)
	}
}

func TestWriteToPtySendsCtrlC(t *testing.T) {
	s, readFD := makeTestShell(t)

	s.WriteToPty([]byte("\x03"))

	buf := make([]byte, 64)
	n, err := readFD.Read(buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(buf[:n], []byte("\x03")) {
		t.Fatalf("got %q", buf[:n])
	}
}

func TestDispatchWriteDisabledShell(t *testing.T) {
	s, _ := makeTestShell(t)

	s.State = Running
	s.Enabled = false
	if s.DispatchWrite([]byte("test")) {
		t.Fatalf("expected DispatchWrite to report false")
	}
}

func TestSetEnabledSyncsDisplayNameRegistry(t *testing.T) {
	s, _ := makeTestShell(t)
	names := displaynames.NewRegistry()
	name, _ := names.Change(nil, &s.DisplayName)
	s.DisplayName = name

	if names.MaxDisplayNameLength != len("testhost") {
		t.Fatalf("got %d", names.MaxDisplayNameLength)
	}

	s.SetEnabled(false, names)
	if s.Enabled {
		t.Fatalf("expected shell to be disabled")
	}
	if names.MaxDisplayNameLength != 0 {
		t.Fatalf("expected registry to stop counting a disabled shell, got %d", names.MaxDisplayNameLength)
	}

	s.SetEnabled(true, names)
	if names.MaxDisplayNameLength != len("testhost") {
		t.Fatalf("expected registry to resume counting, got %d", names.MaxDisplayNameLength)
	}
}

func TestHandleDataSendsInitStringOnce(t *testing.T) {
	s, readFD := makeTestShell(t)
	c := newTestConsole()

	s.HandleData([]byte("Welcome to testhost\n"), c, 8, true, nil)

	if !s.InitStringSent {
		t.Fatalf("expected init string to be sent on first data")
	}
	buf := make([]byte, 4096)
	n, err := readFD.Read(buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Contains(buf[:n], []byte("unsetopt zle")) || !bytes.Contains(buf[:n], []byte(`PS1="`)) {
		t.Fatalf("expected the taming script and PS1 assignment, got %q", buf[:n])
	}

	s.HandleData([]byte("more banner text\n"), c, 8, true, nil)
	if err := readFD.SetReadDeadline(time.Now().Add(10 * time.Millisecond)); err != nil {
		t.Fatalf("set deadline: %v", err)
	}
	if _, err := readFD.Read(buf); err == nil {
		t.Fatalf("init string must not be sent twice")
	}
}

func TestHandleDataSeenPromptInteractiveToIdle(t *testing.T) {
	s, _ := makeTestShell(t)
	c := newTestConsole()

	p1, p2 := s.Callbacks.Add([]byte("test prompt"), callbacks.Action{Kind: callbacks.ActionSeenPrompt}, true)
	line := append(append([]byte{}, p1...), p2...)
	line = append(line, '\n')

	s.HandleData(line, c, 8, true, nil)
	if s.State != Idle {
		t.Fatalf("expected Idle after the prompt trigger, got %v", s.State)
	}
	if len(s.ReadInStateNotStarted) != 0 {
		t.Fatalf("expected the not-started buffer to be cleared on transition")
	}
}

func TestHandleDataPasswordAutoReply(t *testing.T) {
	readFD, writeFD, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	t.Cleanup(func() { readFD.Close(); writeFD.Close() })
	pw := "secret"
	s := New(0, "testhost", "22", "testhost", 999999999, writeFD, false, nil, &pw, 0, false)
	c := newTestConsole()

	s.HandleData([]byte("testhost's Password: "), c, 8, true, nil)

	buf := make([]byte, 64)
	n, err := readFD.Read(buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(buf[:n], []byte("secret\n")) {
		t.Fatalf("expected the password reply, got %q", buf[:n])
	}
	if len(s.ReadBuffer) != 0 {
		t.Fatalf("expected the read buffer to be discarded after replying")
	}
}

func TestHandleDataAuthenticityPromptDisconnects(t *testing.T) {
	s, _ := makeTestShell(t)
	names := displaynames.NewRegistry()
	name, _ := names.Change(nil, &s.DisplayName)
	s.DisplayName = name
	c := newTestConsole()

	s.HandleData([]byte("The authenticity of host 'x (1.2.3.4)' can't be established.\n"), c, 8, true, names)

	if s.State != Dead {
		t.Fatalf("expected Dead after the host-key prompt, got %v", s.State)
	}
	if s.Enabled {
		t.Fatalf("expected the shell to be disabled")
	}
}

func TestHandleDataRunningFastPath(t *testing.T) {
	s, _ := makeTestShell(t)
	c := newTestConsole()

	s.State = Running
	s.HandleData([]byte("build ok\npartial"), c, 8, true, nil)

	if string(s.LastPrintedLine) != "build ok" {
		t.Fatalf("got %q", s.LastPrintedLine)
	}
	if string(s.ReadBuffer) != "partial" {
		t.Fatalf("expected the unterminated tail to stay buffered, got %q", s.ReadBuffer)
	}
}

func TestHandleDataRenameCallback(t *testing.T) {
	s, _ := makeTestShell(t)
	c := newTestConsole()
	s.State = Idle

	p1, p2 := s.Callbacks.Add([]byte("rename"), callbacks.Action{Kind: callbacks.ActionRename}, false)
	line := append(append([]byte{}, p1...), p2...)
	line = append(line, " my host \n"...)

	newName := s.HandleData(line, c, 8, true, nil)
	if string(newName) != "myhost" {
		t.Fatalf("expected spaces stripped from the captured name, got %q", newName)
	}
}

func TestDisconnectClearsEnabledAndRegistry(t *testing.T) {
	s, _ := makeTestShell(t)
	names := displaynames.NewRegistry()
	name, _ := names.Change(nil, &s.DisplayName)
	s.DisplayName = name
	c := newTestConsole()

	s.Disconnect(c, 8, names)

	if s.Enabled {
		t.Fatalf("expected Disconnect to disable the shell")
	}
	if s.State != Dead {
		t.Fatalf("expected Dead, got %v", s.State)
	}
	if names.MaxDisplayNameLength != 0 {
		t.Fatalf("expected registry to stop counting the disconnected shell, got %d", names.MaxDisplayNameLength)
	}
}

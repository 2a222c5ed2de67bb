package callbacks

import (
	"bytes"
	"testing"
)

func TestRandomStringLength(t *testing.T) {
	if got := len(randomString(0)); got != 0 {
		t.Fatalf("length 0: got %d", got)
	}
	if got := len(randomString(10)); got != 10 {
		t.Fatalf("length 10: got %d", got)
	}
	if got := len(randomString(100)); got != 100 {
		t.Fatalf("length 100: got %d", got)
	}
}

func TestRandomStringAlnum(t *testing.T) {
	s := randomString(50)
	for _, c := range s {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')) {
			t.Fatalf("non-alnum char %q in %q", c, s)
		}
	}
}

func TestRegistryPrefixFormat(t *testing.T) {
	r := NewRegistry()
	prefix := string(r.CommonPrefix())
	if prefix[:5] != "mash-" {
		t.Fatalf("prefix %q does not start with mash-", prefix)
	}
	if prefix[len(prefix)-1] != ':' {
		t.Fatalf("prefix %q does not end with ':'", prefix)
	}
	if len(prefix) != 11 {
		t.Fatalf("prefix %q want len 11, got %d", prefix, len(prefix))
	}
}

func TestAddReturnsSplitTrigger(t *testing.T) {
	r := NewRegistry()
	p1, p2 := r.Add([]byte("test"), Action{Kind: ActionSeenPrompt}, false)
	full := string(append(append([]byte{}, p1...), p2...))
	if full[:5] != "mash-" {
		t.Fatalf("full %q missing mash- prefix", full)
	}
	if full[len(full)-1] != '/' {
		t.Fatalf("full %q missing trailing /", full)
	}
	if !bytes.Contains([]byte(full), []byte(":test:")) {
		t.Fatalf("full %q missing :test:", full)
	}
}

func TestAddReplacesSlashesInName(t *testing.T) {
	r := NewRegistry()
	p1, p2 := r.Add([]byte("a/b/c"), Action{Kind: ActionSeenPrompt}, false)
	full := append(append([]byte{}, p1...), p2...)
	if !bytes.Contains(full, []byte(":a_b_c:")) {
		t.Fatalf("full %q missing :a_b_c:", full)
	}
}

func TestAddIncrementsNr(t *testing.T) {
	r := NewRegistry()
	p1a, p2a := r.Add([]byte("x"), Action{Kind: ActionSeenPrompt}, false)
	p1b, p2b := r.Add([]byte("x"), Action{Kind: ActionSeenPrompt}, false)
	a := append(append([]byte{}, p1a...), p2a...)
	b := append(append([]byte{}, p1b...), p2b...)
	if bytes.Equal(a, b) {
		t.Fatalf("expected distinct triggers")
	}
	if !bytes.Contains(a, []byte(":0/")) {
		t.Fatalf("first trigger %q missing :0/", a)
	}
	if !bytes.Contains(b, []byte(":1/")) {
		t.Fatalf("second trigger %q missing :1/", b)
	}
}

func TestAnyInFindsPrefix(t *testing.T) {
	r := NewRegistry()
	data := append([]byte("some data "), r.CommonPrefix()...)
	data = append(data, []byte(" more data")...)
	if !r.AnyIn(data) {
		t.Fatalf("expected prefix to be found")
	}
}

func TestAnyInNoMatch(t *testing.T) {
	r := NewRegistry()
	if r.AnyIn([]byte("no callback here")) {
		t.Fatalf("unexpected match")
	}
	if r.AnyIn(nil) {
		t.Fatalf("unexpected match on empty input")
	}
}

func TestProcessSeenPrompt(t *testing.T) {
	r := NewRegistry()
	p1, p2 := r.Add([]byte("prompt"), Action{Kind: ActionSeenPrompt}, true)
	line := append(append(append([]byte{}, p1...), p2...), '\n')

	action, ok := r.Process(line)
	if !ok || action.Kind != ActionSeenPrompt {
		t.Fatalf("expected SeenPrompt, got %+v ok=%v", action, ok)
	}
}

func TestProcessRepeatKeepsCallback(t *testing.T) {
	r := NewRegistry()
	p1, p2 := r.Add([]byte("prompt"), Action{Kind: ActionSeenPrompt}, true)
	line := append(append(append([]byte{}, p1...), p2...), '\n')

	if _, ok := r.Process(line); !ok {
		t.Fatalf("first process should match")
	}
	if _, ok := r.Process(line); !ok {
		t.Fatalf("second process should match since repeat=true")
	}
}

func TestProcessNoRepeatRemovesCallback(t *testing.T) {
	r := NewRegistry()
	p1, p2 := r.Add([]byte("once"), Action{Kind: ActionSeenPrompt}, false)
	line := append(append(append([]byte{}, p1...), p2...), '\n')

	if _, ok := r.Process(line); !ok {
		t.Fatalf("first process should match")
	}
	if _, ok := r.Process(line); ok {
		t.Fatalf("second process should not match")
	}
}

func TestProcessRenameCapturesRemainder(t *testing.T) {
	r := NewRegistry()
	p1, p2 := r.Add([]byte("rename"), Action{Kind: ActionRename}, false)
	line := append(append([]byte{}, p1...), p2...)
	line = append(line, []byte("newhost\n")...)

	action, ok := r.Process(line)
	if !ok || action.Kind != ActionRename {
		t.Fatalf("expected Rename, got %+v ok=%v", action, ok)
	}
	if string(action.NewName) != "newhost" {
		t.Fatalf("want newhost, got %q", action.NewName)
	}
}

func TestProcessRenameStripsWhitespace(t *testing.T) {
	r := NewRegistry()
	p1, p2 := r.Add([]byte("rename"), Action{Kind: ActionRename}, false)
	line := append(append([]byte{}, p1...), p2...)
	line = append(line, []byte(" my host \n")...)

	action, ok := r.Process(line)
	if !ok || action.Kind != ActionRename {
		t.Fatalf("expected Rename, got %+v ok=%v", action, ok)
	}
	if string(action.NewName) != "myhost" {
		t.Fatalf("want myhost, got %q", action.NewName)
	}
}

func TestProcessNoTrigger(t *testing.T) {
	r := NewRegistry()
	r.Add([]byte("test"), Action{Kind: ActionSeenPrompt}, false)
	if _, ok := r.Process([]byte("random data without trigger\n")); ok {
		t.Fatalf("unexpected match")
	}
}

func TestRemoveSeenPromptDropsStaleEntry(t *testing.T) {
	r := NewRegistry()
	p1, p2 := r.Add([]byte("host1"), Action{Kind: ActionSeenPrompt}, true)
	line := append(append(append([]byte{}, p1...), p2...), '\n')

	r.RemoveSeenPrompt([]byte("host1"))
	if _, ok := r.Process(line); ok {
		t.Fatalf("expected removed trigger to no longer match")
	}
}

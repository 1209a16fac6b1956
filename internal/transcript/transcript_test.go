package transcript

import (
	"testing"

	"github.com/stupiduntilnot/agent0/internal/runner"
)

func TestTranscript_Messages(t *testing.T) {
	tr := New("You are a bot.", nil)
	tr.Append(RoleAssistant, "prev answer")
	tr.Append(RoleUser, "result")
	tr.Append(RoleUser, "")

	msgs := tr.Messages()
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	if msgs[0].Role != RoleSystem || msgs[0].Content != "You are a bot." {
		t.Errorf("unexpected system message: %+v", msgs[0])
	}
	if msgs[1].Role != RoleAssistant || msgs[2].Role != RoleUser {
		t.Errorf("unexpected order: %+v", msgs)
	}

	tr.SetSystem("new system")
	if got := tr.Messages()[0].Content; got != "new system" {
		t.Errorf("system not replaced: %q", got)
	}
	if tr.Len() != 2 {
		t.Errorf("expected 2 history messages, got %d", tr.Len())
	}
}

func TestWindowCompressor(t *testing.T) {
	tr := New("sys", WindowCompressor{MaxMessages: 2})
	for _, c := range []string{"a", "b", "c"} {
		tr.Append(RoleUser, c)
	}
	msgs := tr.Messages()
	if len(msgs) != 3 {
		t.Fatalf("expected system + 2, got %d", len(msgs))
	}
	if msgs[0].Role != RoleSystem || msgs[1].Content != "b" || msgs[2].Content != "c" {
		t.Errorf("unexpected window: %+v", msgs)
	}
}

func TestUsage(t *testing.T) {
	tr := New("", nil)
	tr.Record(10, 5, 0)
	tr.Record(3, 2, 6)
	u := tr.Usage()
	if u.Prompt != 13 || u.Completion != 7 || u.Total != 21 {
		t.Errorf("unexpected usage: %+v", u)
	}
}

func TestUserContent_SingleUser(t *testing.T) {
	got := UserContent([]runner.Result{{Kind: "user", Stdout: runner.Ptr("hello there")}}, "user")
	if got != "hello there" {
		t.Errorf("unexpected content %q", got)
	}
}

func TestUserContent_SingleUserFallsBackToStderr(t *testing.T) {
	got := UserContent([]runner.Result{{Kind: "user", Stderr: runner.Ptr("try again")}}, "user")
	if got != "try again" {
		t.Errorf("unexpected content %q", got)
	}
}

func TestUserContent_KeyValueBlocks(t *testing.T) {
	results := []runner.Result{
		{Iteration: 2, Generation: 1, Kind: "bash", Stdout: runner.Ptr("ok\n"), Stderr: runner.Ptr("")},
		{Iteration: 2, Kind: "python", Exception: runner.Ptr("exec: not found")},
	}
	want := "iteration: 2\ngeneration: 1\ncase: bash\nstdout: ok\n\n\n" +
		"iteration: 2\ngeneration: 0\ncase: python\nexception: exec: not found"
	if got := UserContent(results, "user"); got != want {
		t.Errorf("unexpected rendering:\n%q\nwant\n%q", got, want)
	}
}

func TestUserContent_Empty(t *testing.T) {
	if got := UserContent(nil, "user"); got != "" {
		t.Errorf("expected empty, got %q", got)
	}
}

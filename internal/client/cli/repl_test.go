package cli

import (
	"bufio"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeExec struct {
	calls   []string
	touches int
}

func (f *fakeExec) rec(c string) error { f.calls = append(f.calls, c); return nil }

func (f *fakeExec) Touch()                                   { f.touches++ }
func (f *fakeExec) Setup(context.Context) error              { return f.rec("setup") }
func (f *fakeExec) Unlock(context.Context) error             { return f.rec("unlock") }
func (f *fakeExec) Lock(context.Context) error               { return f.rec("lock") }
func (f *fakeExec) Status(context.Context) error             { return f.rec("status") }
func (f *fakeExec) List(context.Context) error               { return f.rec("list") }
func (f *fakeExec) Rotate(context.Context) error             { return f.rec("rotate") }
func (f *fakeExec) TwoFactor(context.Context) error          { return f.rec("2fa") }
func (f *fakeExec) Get(_ context.Context, n string) error    { return f.rec("get " + n) }
func (f *fakeExec) Delete(_ context.Context, n string) error { return f.rec("delete " + n) }
func (f *fakeExec) AutoLock(_ context.Context, m string) error {
	return f.rec("autolock " + m)
}
func (f *fakeExec) VerifyTwoFactor(_ context.Context, code string) error {
	return f.rec("2fa verify " + code)
}
func (f *fakeExec) Set(_ context.Context, n string, v []string) error {
	return f.rec("set " + n + "=" + strings.Join(v, " "))
}

func silence(t *testing.T) *[]string {
	t.Helper()
	var out []string
	orig := printlnFn
	printlnFn = func(a ...any) (int, error) {
		parts := make([]string, len(a))
		for i, v := range a {
			parts[i] = toString(v)
		}
		out = append(out, strings.Join(parts, " "))
		return 0, nil
	}
	t.Cleanup(func() { printlnFn = orig })
	return &out
}

func toString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case error:
		return x.Error()
	default:
		return ""
	}
}

func TestRunREPL_Dispatch(t *testing.T) {
	silence(t)

	input := strings.NewReader(strings.Join([]string{
		"help",
		"setup",
		"unlock",
		"",
		"set A 1 2",
		"set B",
		"get A",
		"list",
		"delete A",
		"rotate",
		"autolock 10",
		"2fa",
		"2fa verify 123456",
		"status",
		"lock",
		"exit",
		"list",
	}, "\n"))

	exec := &fakeExec{}
	runREPL(context.Background(), exec, func() string { return "s" }, bufio.NewScanner(input))

	assert.Equal(t, []string{
		"setup", "unlock", "set A=1 2", "set B=", "get A", "list",
		"delete A", "rotate", "autolock 10", "2fa", "2fa verify 123456", "status", "lock",
	}, exec.calls)
	// every non-empty command before exit counts as activity
	assert.Equal(t, 14, exec.touches)
}

func TestRunREPL_UsageAndUnknown(t *testing.T) {
	out := silence(t)

	input := strings.NewReader("get\nset\ndelete\nautolock\n2fa verify\n2fa reset now\nfoobar\nquit\n")
	exec := &fakeExec{}
	runREPL(context.Background(), exec, func() string { return "s" }, bufio.NewScanner(input))

	assert.Empty(t, exec.calls)
	assert.Contains(t, *out, "Usage: get NAME")
	assert.Contains(t, *out, "Usage: set NAME [VALUE]")
	assert.Contains(t, *out, "Usage: 2fa [verify CODE]")
	assert.Contains(t, *out, "Unknown command: foobar")
	assert.Contains(t, *out, "Bye!")
}

func TestRunREPL_EOF(t *testing.T) {
	silence(t)
	exec := &fakeExec{}
	runREPL(context.Background(), exec, func() string { return "s" }, bufio.NewScanner(strings.NewReader("list")))
	assert.Equal(t, []string{"list"}, exec.calls)
}

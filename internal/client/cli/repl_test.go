package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeExec struct {
	calls []string
	err   error
}

func (f *fakeExec) rec(name string, args ...string) error {
	f.calls = append(f.calls, strings.TrimSpace(name+" "+strings.Join(args, " ")))
	return f.err
}

func (f *fakeExec) Add(_ context.Context, args []string) error    { return f.rec("add", args...) }
func (f *fakeExec) Upload(_ context.Context, args []string) error { return f.rec("upload", args...) }
func (f *fakeExec) Pending(context.Context) error                 { return f.rec("pending") }
func (f *fakeExec) Edit(_ context.Context, args []string) error   { return f.rec("edit", args...) }
func (f *fakeExec) Push(_ context.Context, args []string) error   { return f.rec("push", args...) }
func (f *fakeExec) Sync(context.Context) error                    { return f.rec("sync") }
func (f *fakeExec) Status(context.Context) error                  { return f.rec("status") }
func (f *fakeExec) List(context.Context) error                    { return f.rec("list") }
func (f *fakeExec) Fetch(_ context.Context, args []string) error  { return f.rec("fetch", args...) }
func (f *fakeExec) Count(_ context.Context, args []string) error  { return f.rec("count", args...) }
func (f *fakeExec) Video(_ context.Context, args []string) error  { return f.rec("video", args...) }
func (f *fakeExec) Thumb(_ context.Context, args []string) error  { return f.rec("thumb", args...) }
func (f *fakeExec) Clean(context.Context) error                   { return f.rec("clean") }
func (f *fakeExec) Reclaim(context.Context) error                 { return f.rec("reclaim") }
func (f *fakeExec) Delete(_ context.Context, args []string) error { return f.rec("delete", args...) }

func capturePrintln(t *testing.T) *[]string {
	t.Helper()
	var out []string
	orig := printlnFn
	printlnFn = func(a ...any) (int, error) {
		out = append(out, fmt.Sprintln(a...))
		return 0, nil
	}
	t.Cleanup(func() { printlnFn = orig })
	return &out
}

func TestRunREPL_DispatchesCommands(t *testing.T) {
	capturePrintln(t)

	input := strings.NewReader(strings.Join([]string{
		"help",
		"add /tmp/a.png",
		"",
		"upload m1",
		"pending",
		"edit m1",
		"push m1 m2",
		"sync",
		"status",
		"l",
		"fetch r1",
		"count image video",
		"video v1",
		"thumb m1 64x64",
		"clean",
		"reclaim",
		"rm m1",
		"exit",
		"sync",
	}, "\n"))

	exec := &fakeExec{}
	runREPL(context.Background(), exec, func() string { return "status" }, bufio.NewScanner(input))

	assert.Equal(t, []string{
		"add /tmp/a.png",
		"upload m1",
		"pending",
		"edit m1",
		"push m1 m2",
		"sync",
		"status",
		"list",
		"fetch r1",
		"count image video",
		"video v1",
		"thumb m1 64x64",
		"clean",
		"reclaim",
		"delete m1",
	}, exec.calls)
}

func TestRunREPL_ReportsErrorsAndUnknownCommands(t *testing.T) {
	out := capturePrintln(t)

	exec := &fakeExec{err: errors.New("boom")}
	runREPL(context.Background(), exec, func() string { return "s" }, bufio.NewScanner(strings.NewReader("sync\nfoobar\nquit\n")))

	joined := strings.Join(*out, "")
	assert.Contains(t, joined, "error: boom")
	assert.Contains(t, joined, "Unknown command: foobar")
	assert.Contains(t, joined, "Bye!")
}

func TestRunREPL_StopsOnCanceledContext(t *testing.T) {
	capturePrintln(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	exec := &fakeExec{}
	runREPL(ctx, exec, func() string { return "s" }, bufio.NewScanner(strings.NewReader("sync\n")))
	assert.Empty(t, exec.calls)
}

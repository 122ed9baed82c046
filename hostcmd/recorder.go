package hostcmd

import (
	"context"
	"strings"
	"sync"
)

// Call records a single command execution observed by a Recorder.
type Call struct {
	Name  string
	Args  []string
	Stdin string
	Env   []string
	Dir   string
}

// String renders the call as a shell-like command line.
func (c Call) String() string {
	if len(c.Args) == 0 {
		return c.Name
	}
	return c.Name + " " + strings.Join(c.Args, " ")
}

// Response is a canned result for a command matched by prefix.
type Response struct {
	Output []byte
	Err    error
}

// Recorder is a Runner for tests. It records every call and replies with
// canned responses matched by command-line prefix.
type Recorder struct {
	mu        sync.Mutex
	calls     []Call
	responses map[string]Response
}

// NewRecorder creates a Recorder with no canned responses; every command
// succeeds with empty output until Respond is called.
func NewRecorder() *Recorder {
	return &Recorder{responses: make(map[string]Response)}
}

// Respond registers a canned response for any command line that starts with
// the given prefix.
func (r *Recorder) Respond(prefix string, output []byte, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.responses[prefix] = Response{Output: output, Err: err}
}

// Calls returns a copy of the recorded calls in execution order.
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Call, len(r.calls))
	copy(out, r.calls)
	return out
}

// CommandLines returns the recorded calls rendered as command lines.
func (r *Recorder) CommandLines() []string {
	calls := r.Calls()
	lines := make([]string, len(calls))
	for i, c := range calls {
		lines[i] = c.String()
	}
	return lines
}

func (r *Recorder) record(call Call) Response {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call)

	line := call.String()
	for prefix, resp := range r.responses {
		if strings.HasPrefix(line, prefix) {
			return resp
		}
	}
	return Response{}
}

func (r *Recorder) Run(ctx context.Context, name string, args ...string) error {
	resp := r.record(Call{Name: name, Args: args})
	return resp.Err
}

func (r *Recorder) RunEnv(ctx context.Context, env []string, name string, args ...string) error {
	resp := r.record(Call{Name: name, Args: args, Env: env})
	return resp.Err
}

func (r *Recorder) RunInput(ctx context.Context, stdin string, name string, args ...string) error {
	resp := r.record(Call{Name: name, Args: args, Stdin: stdin})
	return resp.Err
}

func (r *Recorder) RunInDir(ctx context.Context, dir string, name string, args ...string) error {
	resp := r.record(Call{Name: name, Args: args, Dir: dir})
	return resp.Err
}

func (r *Recorder) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	resp := r.record(Call{Name: name, Args: args})
	return resp.Output, resp.Err
}

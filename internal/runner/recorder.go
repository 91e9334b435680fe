package runner

import (
	"context"
	"strings"
	"sync"
)

// Call is one recorded command invocation.
type Call struct {
	Argv []string
	Env  map[string]string
}

// String returns the argv joined with spaces, for readable assertions.
func (c Call) String() string {
	return strings.Join(c.Argv, " ")
}

// Recorder is a Runner for tests. It records every invocation in order and
// answers each one from a table of scripted results matched by argv prefix.
// Unmatched commands succeed with empty output.
type Recorder struct {
	mu      sync.Mutex
	calls   []Call
	scripts []script
}

type script struct {
	prefix []string
	result Result
	err    error
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Script registers a result for commands whose argv starts with prefix.
// Later registrations win over earlier ones.
func (r *Recorder) Script(result Result, err error, prefix ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scripts = append(r.scripts, script{prefix: prefix, result: result, err: err})
}

// Fail registers a non-zero exit for commands matching prefix.
func (r *Recorder) Fail(exitCode int, stderr string, prefix ...string) {
	r.Script(Result{ExitCode: exitCode, Stderr: stderr}, nil, prefix...)
}

// Output registers a successful exit with the given stdout for commands
// matching prefix.
func (r *Recorder) Output(stdout string, prefix ...string) {
	r.Script(Result{Stdout: stdout}, nil, prefix...)
}

// Run implements Runner.
func (r *Recorder) Run(ctx context.Context, name string, args ...string) (Result, error) {
	return r.RunEnv(ctx, nil, name, args...)
}

// RunEnv implements Runner.
func (r *Recorder) RunEnv(ctx context.Context, env map[string]string, name string, args ...string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	argv := append([]string{name}, args...)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, Call{Argv: argv, Env: env})

	for i := len(r.scripts) - 1; i >= 0; i-- {
		if matchPrefix(argv, r.scripts[i].prefix) {
			return r.scripts[i].result, r.scripts[i].err
		}
	}
	return Result{}, nil
}

// Calls returns a copy of all recorded invocations in order.
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Call, len(r.calls))
	copy(out, r.calls)
	return out
}

// CallStrings returns every recorded invocation as a joined argv string.
func (r *Recorder) CallStrings() []string {
	calls := r.Calls()
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.String()
	}
	return out
}

func matchPrefix(argv, prefix []string) bool {
	if len(prefix) > len(argv) {
		return false
	}
	for i, p := range prefix {
		if argv[i] != p {
			return false
		}
	}
	return true
}

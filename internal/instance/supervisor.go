package instance

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

// terminateGrace is how long Terminate waits after SIGTERM before escalating
// to SIGKILL. Fixed infrastructure policy, not caller-configurable.
const terminateGrace = 10 * time.Second

// Supervisor launches vllm server processes and terminates them. It keeps an
// OS handle for every process it launched itself; for PIDs recorded by other
// control-plane replicas (or a previous run of this one) it falls back to
// signaling the PID directly.
type Supervisor struct {
	command []string          // e.g. ["python", "-m", "vllm.entrypoints.openai.api_server"]
	env     map[string]string // merged over the inherited environment when set

	mu    sync.Mutex
	procs map[int]*ownedProc
	log   zerolog.Logger
}

type ownedProc struct {
	process *os.Process
	done    chan struct{} // closed once cmd.Wait returns
}

// NewSupervisor builds a Supervisor spawning command with extraEnv merged
// over the inherited environment. Typical extraEnv keys are HTTP_PROXY,
// HTTPS_PROXY, NO_PROXY and HF_HOME; keys are only forwarded if configured.
func NewSupervisor(command []string, extraEnv map[string]string, log zerolog.Logger) *Supervisor {
	return &Supervisor{
		command: command,
		env:     extraEnv,
		procs:   make(map[int]*ownedProc),
		log:     log,
	}
}

// buildArgs translates launch parameters into CLI flags:
// bool true becomes a bare --flag, bool false is omitted, everything else
// becomes --flag value. Underscores in keys become hyphens. The model and
// port keys are reserved and always emitted first.
func buildArgs(modelName string, port int, params map[string]any) []string {
	args := []string{"--model", modelName, "--port", strconv.Itoa(port)}
	keys := make([]string, 0, len(params))
	for k := range params {
		if k == "model" || k == "port" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		flag := "--" + flagName(k)
		switch v := params[k].(type) {
		case bool:
			if v {
				args = append(args, flag)
			}
		default:
			args = append(args, flag, fmt.Sprint(v))
		}
	}
	return args
}

func flagName(key string) string {
	b := []byte(key)
	for i := range b {
		if b[i] == '_' {
			b[i] = '-'
		}
	}
	return string(b)
}

// Launch starts a vllm server for modelName on port and returns its PID once
// the OS confirms the process exists. It does not wait for the server inside
// to become ready; that is the health gate's job.
func (s *Supervisor) Launch(ctx context.Context, modelName string, port int, params map[string]any) (int, error) {
	if len(s.command) == 0 {
		return 0, fmt.Errorf("launch: empty command")
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	args := append(append([]string{}, s.command[1:]...), buildArgs(modelName, port, params)...)
	// Deliberately not CommandContext: the worker outlives the request that
	// created it and is reclaimed by the reaper, not by context cancellation.
	cmd := exec.Command(s.command[0], args...)
	cmd.Env = mergeEnv(os.Environ(), s.env)
	// Own process group so the worker is detached from our signal fate.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("launch vllm server: %w", err)
	}
	pid := cmd.Process.Pid

	op := &ownedProc{process: cmd.Process, done: make(chan struct{})}
	s.mu.Lock()
	s.procs[pid] = op
	s.mu.Unlock()
	go func() {
		_ = cmd.Wait() // reap so the child never lingers as a zombie
		close(op.done)
	}()

	s.log.Info().Str("model", modelName).Int("pid", pid).Int("port", port).
		Strs("args", args).Msg("event=launch")
	return pid, nil
}

// Terminate stops the process with a graceful signal, escalating to SIGKILL
// after the grace period. A process that already exited is not an error.
// When this supervisor holds no handle for pid (launched by another replica
// or before a restart) it signals the PID directly.
func (s *Supervisor) Terminate(pid int) error {
	if pid <= 0 {
		return nil
	}
	s.mu.Lock()
	op := s.procs[pid]
	delete(s.procs, pid)
	s.mu.Unlock()

	if op == nil {
		return s.terminateByPID(pid)
	}

	_ = op.process.Signal(syscall.SIGTERM)
	select {
	case <-op.done:
	case <-time.After(terminateGrace):
		_ = op.process.Kill()
		<-op.done
	}
	s.log.Info().Int("pid", pid).Msg("event=terminate")
	return nil
}

// terminateByPID is the weak-reference path: identity only, no liveness
// guarantee. ESRCH at any step means the process is already gone.
func (s *Supervisor) terminateByPID(pid int) error {
	if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
		return nil // already exited
	}
	deadline := time.Now().Add(terminateGrace)
	for time.Now().Before(deadline) {
		if !s.Alive(pid) {
			return nil
		}
		time.Sleep(200 * time.Millisecond)
	}
	_ = syscall.Kill(pid, syscall.SIGKILL)
	s.log.Info().Int("pid", pid).Msg("event=terminate_by_pid")
	return nil
}

// Alive reports whether pid currently refers to a live process.
func (s *Supervisor) Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	return syscall.Kill(pid, syscall.Signal(0)) == nil
}

func mergeEnv(inherited []string, extra map[string]string) []string {
	if len(extra) == 0 {
		return inherited
	}
	out := append([]string{}, inherited...)
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, k+"="+extra[k])
	}
	return out
}

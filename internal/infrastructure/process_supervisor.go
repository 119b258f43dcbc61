package infrastructure

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/yourusername/media-fetch-go/internal/domain"
)

const (
	// DefaultTerminateGrace is how long a process group gets between SIGTERM and SIGKILL
	DefaultTerminateGrace = 5 * time.Second

	readerJoinTimeout = time.Second
	killWaitTimeout   = 2 * time.Second
	maxLineBytes      = 1 << 20
)

// LineHandler receives one output line as it arrives; isErr marks stderr
type LineHandler func(line string, isErr bool)

// RunOptions scope a supervised process to a job and, optionally, one item
type RunOptions struct {
	JobID     string
	ItemIndex int // 0 for whole-job processes
	Dir       string
	// Abort is consulted once the process is registered. Returning true
	// terminates it, closing the gap between a pause/cancel and a late start.
	Abort func() bool
}

// Process is a handle to a supervised subprocess
type Process struct {
	cmd       *exec.Cmd
	jobID     string
	itemIndex int
	done      chan struct{}
}

// Pid returns the operating system process id
func (p *Process) Pid() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

func (p *Process) waitExit(d time.Duration) bool {
	if d <= 0 {
		select {
		case <-p.done:
			return true
		default:
			return false
		}
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-p.done:
		return true
	case <-timer.C:
		return false
	}
}

// ProcessSupervisor starts external processes in their own process group,
// streams their output line by line and tracks live processes per job.
type ProcessSupervisor struct {
	grace  time.Duration
	logger *zap.Logger

	mu    sync.Mutex
	procs map[string]map[*Process]struct{}
}

// NewProcessSupervisor creates a supervisor with the given termination grace period
func NewProcessSupervisor(grace time.Duration, logger *zap.Logger) *ProcessSupervisor {
	if grace <= 0 {
		grace = DefaultTerminateGrace
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProcessSupervisor{
		grace:  grace,
		logger: logger,
		procs:  make(map[string]map[*Process]struct{}),
	}
}

// Run starts command, delivers every output line to onLine and blocks until
// the process exits. A non-zero exit is reported through the exit code; the
// error is reserved for processes that could not be started or waited on.
// A process killed by a signal reports -1.
func (s *ProcessSupervisor) Run(ctx context.Context, opts RunOptions, command domain.Command, onLine LineHandler) (int, error) {
	cmd := exec.Command(command.Binary, command.Args...)
	cmd.Dir = opts.Dir
	configureProcessGroup(cmd)

	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return -1, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		stdoutR.Close()
		stdoutW.Close()
		return -1, fmt.Errorf("failed to create stderr pipe: %w", err)
	}
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	if err := cmd.Start(); err != nil {
		stdoutR.Close()
		stdoutW.Close()
		stderrR.Close()
		stderrW.Close()
		return -1, fmt.Errorf("failed to start %s: %w", command.Binary, err)
	}
	// the child holds its own copies; ours must go for EOF to arrive
	stdoutW.Close()
	stderrW.Close()

	proc := &Process{
		cmd:       cmd,
		jobID:     opts.JobID,
		itemIndex: opts.ItemIndex,
		done:      make(chan struct{}),
	}
	s.register(proc)

	s.logger.Debug("Process started",
		zap.String("job_id", opts.JobID),
		zap.Int("item_index", opts.ItemIndex),
		zap.Int("pid", proc.Pid()),
		zap.String("command", FormatCommand(command.Binary, command.Args...)))

	var readers sync.WaitGroup
	readers.Add(2)
	go s.readLines(&readers, stdoutR, false, onLine)
	go s.readLines(&readers, stderrR, true, onLine)

	stopWatch := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			s.Terminate(proc)
		case <-stopWatch:
		}
	}()

	if opts.Abort != nil && opts.Abort() {
		go s.Terminate(proc)
	}

	waitErr := cmd.Wait()
	s.unregister(proc)
	close(proc.done)
	close(stopWatch)

	if !waitGroupTimeout(&readers, readerJoinTimeout) {
		// a grandchild may still hold the pipes open
		stdoutR.Close()
		stderrR.Close()
		readers.Wait()
	}

	exitCode := 0
	if waitErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			return -1, fmt.Errorf("failed to wait for %s: %w", command.Binary, waitErr)
		}
		exitCode = exitErr.ExitCode()
	}

	s.logger.Debug("Process exited",
		zap.String("job_id", opts.JobID),
		zap.Int("item_index", opts.ItemIndex),
		zap.Int("exit_code", exitCode))

	return exitCode, nil
}

func (s *ProcessSupervisor) readLines(wg *sync.WaitGroup, r *os.File, isErr bool, onLine LineHandler) {
	defer wg.Done()
	defer r.Close()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	scanner.Split(scanOutputLines)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || onLine == nil {
			continue
		}
		onLine(line, isErr)
	}

	if err := scanner.Err(); err != nil && !errors.Is(err, os.ErrClosed) {
		s.logger.Debug("Output reader stopped early", zap.Bool("stderr", isErr), zap.Error(err))
		// keep the pipe drained so the child never blocks on a full buffer
		_, _ = io.Copy(io.Discard, r)
	}
}

// scanOutputLines splits on \n and on bare \r, which progress bars use to redraw
func scanOutputLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

func waitGroupTimeout(wg *sync.WaitGroup, d time.Duration) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}

func (s *ProcessSupervisor) register(p *Process) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.procs[p.jobID]
	if !ok {
		set = make(map[*Process]struct{})
		s.procs[p.jobID] = set
	}
	set[p] = struct{}{}
}

func (s *ProcessSupervisor) unregister(p *Process) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.procs[p.jobID]
	delete(set, p)
	if len(set) == 0 {
		delete(s.procs, p.jobID)
	}
}

func (s *ProcessSupervisor) snapshot(jobID string, match func(*Process) bool) []*Process {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Process
	for p := range s.procs[jobID] {
		if match == nil || match(p) {
			out = append(out, p)
		}
	}
	return out
}

// Terminate stops one process group: SIGTERM, grace period, then SIGKILL.
// Returns whether the process is confirmed gone.
func (s *ProcessSupervisor) Terminate(p *Process) bool {
	return s.terminate([]*Process{p})
}

// TerminateJob stops every live process of a job. Safe when none exist.
func (s *ProcessSupervisor) TerminateJob(jobID string) bool {
	return s.terminate(s.snapshot(jobID, nil))
}

// TerminateItem stops the live processes of one item of a job
func (s *ProcessSupervisor) TerminateItem(jobID string, itemIndex int) bool {
	return s.terminate(s.snapshot(jobID, func(p *Process) bool {
		return p.itemIndex == itemIndex
	}))
}

// TerminateAll stops every supervised process
func (s *ProcessSupervisor) TerminateAll() bool {
	s.mu.Lock()
	var all []*Process
	for _, set := range s.procs {
		for p := range set {
			all = append(all, p)
		}
	}
	s.mu.Unlock()
	return s.terminate(all)
}

func (s *ProcessSupervisor) terminate(procs []*Process) bool {
	if len(procs) == 0 {
		return true
	}

	// a leader that already exited may have left helpers behind in its
	// group, so every group is signaled regardless
	var orphaned []*Process
	for _, p := range procs {
		if p.waitExit(0) {
			orphaned = append(orphaned, p)
		}
		if err := signalProcessGroup(p.cmd, false); err != nil {
			s.logger.Debug("Failed to signal process group",
				zap.String("job_id", p.jobID),
				zap.Int("pid", p.Pid()),
				zap.Error(err))
		}
	}

	deadline := time.Now().Add(s.grace)
	var stubborn []*Process
	for _, p := range procs {
		if !p.waitExit(time.Until(deadline)) {
			stubborn = append(stubborn, p)
		}
	}

	for _, p := range orphaned {
		if err := signalProcessGroup(p.cmd, true); err != nil {
			s.logger.Debug("Failed to kill orphaned process group", zap.Int("pid", p.Pid()), zap.Error(err))
		}
	}

	for _, p := range stubborn {
		s.logger.Warn("Process ignored termination, killing",
			zap.String("job_id", p.jobID),
			zap.Int("pid", p.Pid()))
		if err := signalProcessGroup(p.cmd, true); err != nil {
			s.logger.Debug("Failed to kill process group", zap.Int("pid", p.Pid()), zap.Error(err))
		}
	}

	ok := true
	for _, p := range stubborn {
		if !p.waitExit(killWaitTimeout) {
			s.logger.Error("Process survived kill",
				zap.String("job_id", p.jobID),
				zap.Int("pid", p.Pid()))
			ok = false
		}
	}
	return ok
}

// LiveCount returns the number of running processes of a job
func (s *ProcessSupervisor) LiveCount(jobID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.procs[jobID])
}

// TotalLive returns the number of running processes across all jobs
func (s *ProcessSupervisor) TotalLive() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, set := range s.procs {
		n += len(set)
	}
	return n
}

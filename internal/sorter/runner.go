package sorter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/neurobench/sortagree/internal/recording"
	"github.com/neurobench/sortagree/internal/train"
)

// stderrTailBytes bounds how much tool stderr an ExecError carries.
const stderrTailBytes = 4096

// ExecError reports an external sorter failure: non-zero exit, timeout, or
// unreadable output. It carries the tool's identity and its stderr tail so
// failures are debuggable without digging through run directories.
type ExecError struct {
	Sorter   string
	ExitCode int // -1 when the tool did not exit normally
	Stderr   string
	Err      error
}

func (e *ExecError) Error() string {
	msg := fmt.Sprintf("sorter %q failed (exit %d): %v", e.Sorter, e.ExitCode, e.Err)
	if e.Stderr != "" {
		msg += "\nstderr: " + e.Stderr
	}
	return msg
}

func (e *ExecError) Unwrap() error { return e.Err }

// Runner stages recordings and launches external sorters. Sorting is
// expensive and not idempotent, so failures are never retried here.
type Runner struct {
	// WorkDir is where run directories are created. Empty means the OS
	// temp directory.
	WorkDir string

	// KeepRunDirs preserves run directories after completion, for
	// debugging tool invocations.
	KeepRunDirs bool

	Log *log.Logger
}

// Run stages the recording into a fresh run directory, invokes the sorter
// described by desc and parses its output events into a train set named
// after the sorter. The context bounds the whole run; desc.Timeout, when
// set, is applied on top.
func (r *Runner) Run(ctx context.Context, desc Descriptor, rec *recording.Recording, params map[string]any) (*train.Set, error) {
	merged, err := desc.MergeParams(params)
	if err != nil {
		return nil, err
	}

	workDir := r.WorkDir
	if workDir == "" {
		workDir = os.TempDir()
	}
	runDir := filepath.Join(workDir, desc.Name+"-"+uuid.NewString())
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating run directory: %w", err)
	}
	if !r.KeepRunDirs {
		defer os.RemoveAll(runDir)
	}

	rawPath := filepath.Join(runDir, "recording.bin")
	if err := rec.SaveRaw(rawPath, 0); err != nil {
		return nil, fmt.Errorf("staging recording for %q: %w", desc.Name, err)
	}

	paramsPath := filepath.Join(runDir, "params.json")
	paramsBytes, err := json.MarshalIndent(merged, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding params for %q: %w", desc.Name, err)
	}
	if err := os.WriteFile(paramsPath, paramsBytes, 0o644); err != nil {
		return nil, fmt.Errorf("staging params for %q: %w", desc.Name, err)
	}

	outputPath := filepath.Join(runDir, desc.Output)
	expand := strings.NewReplacer(
		"{recording}", rawPath,
		"{params}", paramsPath,
		"{output}", outputPath,
		"{rate}", strconv.FormatFloat(rec.SamplingRate(), 'g', -1, 64),
	)
	args := make([]string, len(desc.Args))
	for i, a := range desc.Args {
		args[i] = expand.Replace(a)
	}

	if desc.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(desc.Timeout))
		defer cancel()
	}

	if r.Log != nil {
		r.Log.Printf("running sorter %s: %s %s", desc.Name, desc.Executable, strings.Join(args, " "))
	}

	cmd := exec.CommandContext(ctx, desc.Executable, args...)
	cmd.Dir = runDir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		execErr := &ExecError{
			Sorter:   desc.Name,
			ExitCode: -1,
			Stderr:   stderrTail(stderr.Bytes()),
			Err:      err,
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			execErr.ExitCode = exitErr.ExitCode()
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			execErr.Err = fmt.Errorf("%w (%v)", ctxErr, err)
		}
		return nil, execErr
	}

	set, err := train.LoadTSV(outputPath, rec.SamplingRate())
	if err != nil {
		return nil, &ExecError{
			Sorter:   desc.Name,
			ExitCode: 0,
			Stderr:   stderrTail(stderr.Bytes()),
			Err:      fmt.Errorf("reading sorter output: %w", err),
		}
	}
	return set.Rename(desc.Name), nil
}

func stderrTail(b []byte) string {
	if len(b) > stderrTailBytes {
		b = b[len(b)-stderrTailBytes:]
	}
	return strings.TrimSpace(string(b))
}

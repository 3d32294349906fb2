package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os/exec"
	"time"

	"github.com/kballard/go-shellquote"

	"chronos/internal/models"
)

type scriptPayload struct {
	Command        string `json:"command"`
	WorkDir        string `json:"workdir,omitempty"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
}

// ScriptExecutor runs a shell command described by the job payload.
type ScriptExecutor struct{}

func NewScriptExecutor() *ScriptExecutor {
	return &ScriptExecutor{}
}

func (e *ScriptExecutor) Execute(ctx context.Context, job *models.Job, run *models.JobRun) error {
	var p scriptPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return Fail(TagValidationError, "invalid script payload: %v", err)
	}
	if p.Command == "" {
		return Fail(TagValidationError, "script payload requires command")
	}

	argv, err := shellquote.Split(p.Command)
	if err != nil {
		return Fail(TagValidationError, "unparseable command: %v", err)
	}

	if p.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(p.TimeoutSeconds)*time.Second)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = p.WorkDir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Fail(TagTimeout, "command timed out after %ds", p.TimeoutSeconds)
		}
		return Fail(TagServerError, "command failed: %v: %s", err, stderr.String())
	}
	return nil
}

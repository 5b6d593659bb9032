package handler

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"syscall"
	"time"

	"github.com/arkflow/jobqueue/pkg/models"
)

// ShellHandler executes payload["command"] (optionally with
// payload["args"]) as a subprocess. It is the reference handler used to
// exercise the Handler contract end to end; production job types are
// expected to supply their own.
type ShellHandler struct {
	Timeout time.Duration
}

func NewShellHandler(timeout time.Duration) *ShellHandler {
	if timeout == 0 {
		timeout = 5 * time.Minute
	}
	return &ShellHandler{Timeout: timeout}
}

func (s *ShellHandler) Validate(payload models.Payload) error {
	cmd, ok := payload["command"].(string)
	if !ok || cmd == "" {
		return &BadPayloadError{Type: "shell", Reason: "missing string field \"command\""}
	}
	if raw, present := payload["args"]; present {
		if _, ok := raw.([]interface{}); !ok {
			return &BadPayloadError{Type: "shell", Reason: "\"args\" must be an array of strings"}
		}
	}
	return nil
}

func (s *ShellHandler) Execute(ctx context.Context, payload models.Payload) (map[string]interface{}, error) {
	cmdStr := payload["command"].(string)
	var args []string
	if raw, ok := payload["args"].([]interface{}); ok {
		for _, a := range raw {
			if str, ok := a.(string); ok {
				args = append(args, str)
			}
		}
	}

	runCtx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, cmdStr, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	start := time.Now()
	err := cmd.Run()
	duration := time.Since(start)

	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}

	result := map[string]interface{}{
		"exit_code":   exitCode,
		"stdout":      stdout.String(),
		"stderr":      stderr.String(),
		"duration_ms": duration.Milliseconds(),
	}

	if exitCode != 0 {
		return result, fmt.Errorf("command exited with code %d: %s", exitCode, stderr.String())
	}
	return result, nil
}

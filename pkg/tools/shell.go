package tools

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"time"
)

var dangerousPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\brm\s+(-\w*r\w*f\w*|-\w*f\w*r\w*|-rf|-fr)\b`),
	regexp.MustCompile(`\brm\s+-f\b`),
	regexp.MustCompile(`\brm\s+-r\b`),
	regexp.MustCompile(`\bdel\s+/f\b`),
	regexp.MustCompile(`\bdel\s+/q\b`),
	regexp.MustCompile(`\brmdir\s+/s\b`),
	regexp.MustCompile(`\bformat\s`),
	regexp.MustCompile(`\bmkfs\b`),
	regexp.MustCompile(`\bdiskpart\b`),
	regexp.MustCompile(`\bdd\s+if=`),
	regexp.MustCompile(`>\s*/dev/sd[a-z]`),
	regexp.MustCompile(`/dev/sd[a-z]\b`),
	regexp.MustCompile(`\bshutdown\b`),
	regexp.MustCompile(`\breboot\b`),
	regexp.MustCompile(`\bpoweroff\b`),
	regexp.MustCompile(`:\(\)\s*\{\s*:\|:&\s*\}\s*;\s*:`),
}

// ExecTool runs shell commands after checking them against a deny-pattern
// guard, an optional allow-pattern list, and an optional workspace
// confinement check.
type ExecTool struct {
	workspace           string
	allowPatterns       []*regexp.Regexp
	restrictToWorkspace bool
}

func NewExecTool(workspace string) *ExecTool {
	return &ExecTool{workspace: workspace}
}

func (t *ExecTool) Name() string        { return "bash_execute" }
func (t *ExecTool) Description() string { return "Execute a shell command in the workspace." }
func (t *ExecTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"command": map[string]interface{}{"type": "string", "description": "Shell command to run"},
			"timeout": map[string]interface{}{"type": "integer", "description": "Wall-clock limit in seconds (default 120)"},
		},
		"required": []string{"command"},
	}
}

// SetAllowPatterns restricts execution to commands matching at least one
// of the given regexes. An invalid regex is rejected immediately.
func (t *ExecTool) SetAllowPatterns(patterns []string) error {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return fmt.Errorf("invalid allow pattern %q: %w", p, err)
		}
		compiled = append(compiled, re)
	}
	t.allowPatterns = compiled
	return nil
}

// SetRestrictToWorkspace blocks path traversal (".." and backslash forms)
// in commands, confining them to the configured workspace.
func (t *ExecTool) SetRestrictToWorkspace(restrict bool) {
	t.restrictToWorkspace = restrict
}

// guardCommand returns an empty string if command is allowed to run, or a
// human-readable reason it was blocked.
func (t *ExecTool) guardCommand(command, workspace string) string {
	for _, re := range dangerousPatterns {
		if re.MatchString(command) {
			return fmt.Sprintf("blocked: command matches dangerous pattern %q", re.String())
		}
	}

	if t.restrictToWorkspace && strings.Contains(command, "..") {
		return "blocked: path traversal outside workspace is not allowed"
	}

	if len(t.allowPatterns) > 0 {
		allowed := false
		for _, re := range t.allowPatterns {
			if re.MatchString(command) {
				allowed = true
				break
			}
		}
		if !allowed {
			return "blocked: command is not in allowlist"
		}
	}

	return ""
}

// defaultExecTimeout caps a shell command's wall clock when the caller
// doesn't pass its own timeout argument.
const defaultExecTimeout = 120 * time.Second

func (t *ExecTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	command, _ := args["command"].(string)
	if strings.TrimSpace(command) == "" {
		return "", fmt.Errorf("command is required")
	}

	if reason := t.guardCommand(command, t.workspace); reason != "" {
		return fmt.Sprintf("Error: %s", reason), nil
	}

	timeout := defaultExecTimeout
	if secs, ok := intArg(args, "timeout"); ok && secs > 0 {
		timeout = time.Duration(secs) * time.Second
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, "sh", "-c", command)
	cmd.Dir = t.workspace

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	if execCtx.Err() == context.DeadlineExceeded {
		return fmt.Sprintf("Error: TIMEOUT after %s\n%s", timeout, out.String()), nil
	}
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return fmt.Sprintf("%s\nExit code: %d", out.String(), exitErr.ExitCode()), nil
		}
		return fmt.Sprintf("Error: %v\n%s", err, out.String()), nil
	}

	return out.String(), nil
}

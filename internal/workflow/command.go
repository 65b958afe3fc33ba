package workflow

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// checkpointKey marks the stdout line an executable may emit to pass
// checkpoint state forward. Any other JSON object line is a record.
const checkpointKey = "galley_checkpoint"

// checkExecutable enforces the descriptor contract for command sous chefs:
// runs must be an absolute path to an existing executable file.
func checkExecutable(path string) error {
	if !filepath.IsAbs(path) {
		return fmt.Errorf("workflow: command path %q is not absolute", path)
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("workflow: command %q: %w", path, err)
	}
	if info.IsDir() || info.Mode()&0o111 == 0 {
		return fmt.Errorf("workflow: command %q is not executable", path)
	}
	return nil
}

func commandConstructor(path string) Constructor {
	return func(cfg Config) (Workflow, error) {
		return &Command{path: path, cfg: cfg}, nil
	}
}

// Command adapts an external executable to the Workflow interface.
//
// Contract with the executable: a JSON document with "options" and "kwargs"
// arrives on stdin; each line of stdout that parses as a JSON object is a
// record, except a line holding only {"galley_checkpoint": {...}}, which sets
// the checkpoint. A non-zero exit fails the run with stderr in the error.
type Command struct {
	path string
	cfg  Config

	stdin      []byte
	checkpoint map[string]any
}

// Setup serializes the execution input. The subprocess itself starts in Run
// so a setup failure never leaves a child process behind.
func (c *Command) Setup(ctx context.Context) error {
	payload := map[string]any{
		"options": c.cfg.Options,
		"kwargs":  c.cfg.Kwargs,
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("workflow: marshal command input: %w", err)
	}
	c.stdin = b
	return nil
}

// Run executes the subprocess and streams its stdout object lines as records.
func (c *Command) Run(ctx context.Context, out chan<- Record) error {
	cmd := exec.CommandContext(ctx, c.path)
	cmd.Stdin = bytes.NewReader(c.stdin)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("workflow: command stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("workflow: start %s: %w", c.path, err)
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, "{") {
			continue
		}
		var obj map[string]any
		if err := json.Unmarshal([]byte(line), &obj); err != nil {
			c.cfg.Logger.Warn("workflow: command emitted unparseable line", "command", c.path, "error", err)
			continue
		}
		if cp, ok := obj[checkpointKey].(map[string]any); ok && len(obj) == 1 {
			c.checkpoint = cp
			continue
		}
		select {
		case out <- Record(obj):
		case <-ctx.Done():
			_ = cmd.Process.Kill()
			return ctx.Err()
		}
	}

	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("workflow: %s failed: %w: %s", c.path, err, strings.TrimSpace(stderr.String()))
	}
	return scanner.Err()
}

// Load discards records; command sous chefs persist their own output.
func (c *Command) Load(ctx context.Context, in <-chan Record) error {
	for range in {
	}
	return nil
}

// Teardown returns the checkpoint line the executable emitted, if any.
func (c *Command) Teardown(ctx context.Context) (map[string]any, error) {
	return c.checkpoint, nil
}

package worker

import (
	"context"
	"fmt"
	"os"
	"os/exec"
)

// runExecutable chmod +x's the local path and invokes it with
// (inputPath, outputPath, ...extraParams), matching the original's
// get_command/Command invocation (map/reduce executables take those
// positional arguments). Using exec.CommandContext rather than exec.Command
// keeps this cancellable, matching the teacher's use of context.Context for
// backgroundable work (SPEC_FULL.md [C5] supplement) — no timeout is
// imposed today.
func runExecutable(ctx context.Context, path, inputPath, outputPath string, extraParams []string) error {
	if err := os.Chmod(path, 0o755); err != nil {
		return fmt.Errorf("worker: chmod +x %s: %w", path, err)
	}
	args := append([]string{inputPath, outputPath}, extraParams...)
	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("worker: running %s: %w", path, err)
	}
	return nil
}

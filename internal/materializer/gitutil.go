package materializer

import (
	"context"
	"os/exec"
	"strings"
	"time"
)

// currentSourceCommit resolves the short commit hash of the repository
// checked out at root, tolerating containers where git refuses to
// operate on a directory it doesn't own. Returns "" on any failure
// rather than surfacing a materialization error: an unresolved commit
// still allows the rest of the pipeline to proceed, it only degrades
// reuse precision.
func currentSourceCommit(root string) string {
	return CurrentSourceCommit(root)
}

// CurrentSourceCommit is the exported form used by the HTTP layer's
// repo-commit snapshot cache, so both the materializer and the API
// resolve the checked-out commit the same way.
func CurrentSourceCommit(root string) string {
	ctx, cancel := context.WithTimeout(context.Background(), 4*time.Second)
	defer cancel()
	out, err := exec.CommandContext(ctx, "git", "-c", "safe.directory=*", "-C", root, "rev-parse", "--short", "HEAD").Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path"
)

// FsBridge reads files from inside a running container by id, mapping
// workspace-relative paths onto the container's mount point.
type FsBridge struct {
	containerID string
	mountPoint  string
}

func NewFsBridge(containerID, mountPoint string) *FsBridge {
	return &FsBridge{containerID: containerID, mountPoint: mountPoint}
}

func (b *FsBridge) ReadFile(ctx context.Context, p string) (string, error) {
	target := p
	if !path.IsAbs(target) {
		target = path.Join(b.mountPoint, target)
	}
	cmd := exec.CommandContext(ctx, "docker", "exec", b.containerID, "cat", target)
	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("docker exec cat %s: %w: %s", target, err, stderr.String())
	}
	return out.String(), nil
}

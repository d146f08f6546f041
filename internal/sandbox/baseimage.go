package sandbox

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	// DefaultBaseImage is the tag BuildBaseImage produces and jobs build FROM.
	DefaultBaseImage = "ctrace-sandbox:latest"
	// DefaultCompilerImage is the upstream image gdb is added to.
	DefaultCompilerImage = "gcc:latest"

	compilerImageArg = "COMPILER_IMAGE"
)

//go:embed base.Dockerfile
var baseDockerfile string

// BaseDockerfile returns the Dockerfile BuildBaseImage uses.
func BaseDockerfile() string {
	return baseDockerfile
}

// BuildBaseImage builds tag from the compiler image with gdb installed. It is
// the only build that gets network access. The image carries no job label,
// so image pruning leaves it alone.
func BuildBaseImage(ctx context.Context, rt Runtime, tag, compilerImage string) (string, error) {
	if strings.TrimSpace(tag) == "" {
		tag = DefaultBaseImage
	}
	if strings.TrimSpace(compilerImage) == "" {
		compilerImage = DefaultCompilerImage
	}
	dir, err := os.MkdirTemp("", "ctrace-base-")
	if err != nil {
		return "", fmt.Errorf("create build context: %w", err)
	}
	defer os.RemoveAll(dir)
	if err := os.WriteFile(filepath.Join(dir, DockerfileName), []byte(baseDockerfile), 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", DockerfileName, err)
	}

	output, err := rt.BuildImage(ctx, BuildRequest{
		ContextDir:   dir,
		Tag:          tag,
		BuildArgs:    map[string]string{compilerImageArg: compilerImage},
		AllowNetwork: true,
	})
	if err != nil {
		if IsUnavailable(err) {
			return output, err
		}
		return output, fmt.Errorf("build base image %s: %w", tag, err)
	}
	return output, nil
}

package sandbox

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/kilpatrickap/dawnyawn-v3/engine"
)

// Artifact is a single file pulled out of a sandbox after a command ran.
// A command that produced no output yields Present == false; that is a
// normal outcome, not an error.
type Artifact struct {
	Path    string
	Present bool
	Content string
}

// ArtifactRetriever extracts single files from a container filesystem
// through the engine's archive API.
type ArtifactRetriever struct {
	engine engine.Client
	logger *zap.Logger
}

// NewArtifactRetriever returns a retriever bound to the given engine.
func NewArtifactRetriever(logger *zap.Logger, eng engine.Client) *ArtifactRetriever {
	return &ArtifactRetriever{
		engine: eng,
		logger: logger,
	}
}

// Fetch returns the file at path inside the container. The engine
// serves the path as a tar stream; the first regular file entry is
// decoded as text, substituting invalid byte sequences rather than
// failing, since tool output is not guaranteed to be clean UTF-8.
func (r *ArtifactRetriever) Fetch(ctx context.Context, containerID, path string) (Artifact, error) {
	artifact := Artifact{Path: path}

	reader, err := r.engine.CopyFromContainer(ctx, containerID, path)
	if err != nil {
		if engine.IsNotFound(err) {
			r.logger.Debug("no artifact at path",
				zap.String("container_id", containerID),
				zap.String("path", path))
			return artifact, nil
		}
		return artifact, fmt.Errorf("failed to fetch %s from container %s: %w", path, containerID, err)
	}
	defer reader.Close()

	tarReader := tar.NewReader(reader)
	for {
		header, err := tarReader.Next()
		if errors.Is(err, io.EOF) {
			// The archive decoded to no file entry: the path existed
			// transiently but content was never written.
			return artifact, nil
		}
		if err != nil {
			return artifact, fmt.Errorf("failed to decode archive for %s: %w", path, err)
		}
		if header.Typeflag != tar.TypeReg {
			continue
		}

		data, err := io.ReadAll(tarReader)
		if err != nil {
			return artifact, fmt.Errorf("failed to read %s from archive: %w", path, err)
		}

		artifact.Present = true
		artifact.Content = strings.ToValidUTF8(string(data), "�")
		return artifact, nil
	}
}

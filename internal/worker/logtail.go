package worker

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"go.uber.org/zap"
)

// LogTailer reads the tail of an ingestion container's logs. Workers run
// ingestion jobs in containers; when one fails, the last lines of its
// log are the error trace shown to the operator.
type LogTailer struct {
	logger *zap.Logger
	docker *client.Client
}

// NewLogTailer creates a log tailer using the ambient Docker environment.
func NewLogTailer(logger *zap.Logger) (*LogTailer, error) {
	docker, err := client.NewClientWithOpts(
		client.FromEnv,
		client.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	return &LogTailer{
		logger: logger,
		docker: docker,
	}, nil
}

// Tail returns up to lines trailing log lines of the container, stdout
// and stderr combined.
func (t *LogTailer) Tail(ctx context.Context, containerID string, lines int) (string, error) {
	reader, err := t.docker.ContainerLogs(ctx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       strconv.Itoa(lines),
	})
	if err != nil {
		return "", fmt.Errorf("failed to read container logs: %w", err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("failed to read log stream: %w", err)
	}

	return strings.TrimSpace(stripStreamHeaders(data)), nil
}

// Close releases the Docker client.
func (t *LogTailer) Close() error {
	return t.docker.Close()
}

// stripStreamHeaders removes the 8-byte multiplexing headers Docker
// prepends to each frame of a non-TTY log stream.
func stripStreamHeaders(data []byte) string {
	var b strings.Builder
	for len(data) >= 8 {
		size := int(uint32(data[4])<<24 | uint32(data[5])<<16 | uint32(data[6])<<8 | uint32(data[7]))
		data = data[8:]
		if size > len(data) {
			size = len(data)
		}
		b.Write(data[:size])
		data = data[size:]
	}
	if len(data) > 0 {
		b.Write(data)
	}
	return b.String()
}

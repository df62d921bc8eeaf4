package nats

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const natsClientPort = "4222/tcp"

// Testing is the part of *testing.T the container helper needs.
type Testing interface {
	require.TestingT
	Context() context.Context
	Logf(format string, args ...any)
	Skip(args ...any)
	Cleanup(func())
}

// NewTestContainer runs a throwaway nats server with JetStream for the duration of t.
// The returned Connector dials its mapped client port. Tests calling it are skipped
// with -short, since they need a container runtime.
func NewTestContainer(t Testing) Connector {
	if testing.Short() {
		t.Skip("needs a container runtime")
	}
	endpoint := runJetStream(t)
	t.Logf("jetstream test server at %s", endpoint)
	return ConnectURL(endpoint)
}

func runJetStream(t Testing) string {
	ctx := t.Context()
	server, err := testcontainers.Run(ctx, "nats:latest",
		testcontainers.WithCmd("-js"),
		testcontainers.WithExposedPorts(natsClientPort),
		testcontainers.WithWaitStrategy(
			wait.ForListeningPort(natsClientPort),
			wait.ForLog("Server is ready"),
		),
	)
	require.NoError(t, err, "start nats container")
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(server); err != nil {
			t.Errorf("terminate nats container: %v", err)
		}
	})

	endpoint, err := server.PortEndpoint(ctx, natsClientPort, "nats")
	require.NoError(t, err, "resolve nats endpoint")
	return endpoint
}

package storeshim

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tandem-vcs/tandem/internal/coordinator"
	"github.com/tandem-vcs/tandem/internal/rpcserver"
	"github.com/tandem-vcs/tandem/internal/rpcwire"
	"github.com/tandem-vcs/tandem/internal/serverstore"
	"github.com/tandem-vcs/tandem/internal/sidecar"
	"github.com/tandem-vcs/tandem/internal/vcs"
	"github.com/tandem-vcs/tandem/internal/watch"
)

// testHarness wires a real rpcserver.Server to an in-memory PipeConnector
// and opens a real Shims client against it, so storeshim tests exercise the
// actual wire encoding rather than a mock.
type testHarness struct {
	repo  *vcs.Repository
	coord *coordinator.Coordinator
	store *serverstore.Store
	shims *Shims
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()
	dir := t.TempDir()

	repo, err := vcs.Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	sidecarStore, err := sidecar.Open(dir)
	require.NoError(t, err)

	broker := watch.NewBroker()
	t.Cleanup(broker.Close)

	coord := coordinator.New(repo, sidecarStore, broker)
	store := serverstore.New(repo, coord)

	connector := rpcwire.NewPipeConnector()
	server := rpcserver.New(store, broker, connector)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- server.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		server.Stop()
		<-errCh
	})
	<-server.Ready()

	shims, err := Open(context.Background(), connector)
	require.NoError(t, err)
	t.Cleanup(func() { shims.Client.Close() })

	return &testHarness{repo: repo, coord: coord, store: store, shims: shims}
}

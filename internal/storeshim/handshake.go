// Package storeshim implements the three VCS library store traits as thin
// wrappers over an rpcclient.Client: an object backend, an op store, and
// an op-heads store. Together they make the network store a transparent
// frontend to the library's own store interfaces.
package storeshim

import (
	"context"
	"fmt"

	"github.com/tandem-vcs/tandem/internal/rpcclient"
	"github.com/tandem-vcs/tandem/internal/rpcproto"
	"github.com/tandem-vcs/tandem/internal/rpcwire"
	"github.com/tandem-vcs/tandem/internal/tandemtypes"
)

// ExpectedBackend and ExpectedOpStore are the names this build's VCS
// library expects the server to advertise; a mismatch at handshake means
// the client and server disagree about the storage format.
const (
	ExpectedBackend = "tandem-objectstore"
	ExpectedOpStore = "tandem-oplog"
)

// Shims bundles the three store trait implementations plus the shared
// client and handshake descriptor they wrap.
type Shims struct {
	Objects  *ObjectBackend
	Ops      *OpStore
	OpHeads  *OpHeadsStore
	Client   *rpcclient.Client
	RepoInfo tandemtypes.RepoInfo
}

// Open dials connector, performs the handshake, and returns the three
// store shims sharing one client connection.
func Open(ctx context.Context, connector rpcwire.Connector) (*Shims, error) {
	client, err := rpcclient.Dial(ctx, connector)
	if err != nil {
		return nil, err
	}

	var info tandemtypes.RepoInfo
	if err := client.CallSync(ctx, rpcproto.MethodGetRepoInfo, struct{}{}, &info); err != nil {
		client.Close()
		return nil, fmt.Errorf("storeshim: getRepoInfo: %w", err)
	}

	if err := validateHandshake(info); err != nil {
		client.Close()
		return nil, err
	}

	return &Shims{
		Objects:  &ObjectBackend{client: client, repoInfo: info},
		Ops:      &OpStore{client: client, repoInfo: info},
		OpHeads:  &OpHeadsStore{client: client},
		Client:   client,
		RepoInfo: info,
	}, nil
}

func validateHandshake(info tandemtypes.RepoInfo) error {
	if info.ProtocolMajor != 1 {
		return fmt.Errorf("storeshim: handshake: unsupported protocol major %d, expected 1", info.ProtocolMajor)
	}
	if info.CommitIDLength != tandemtypes.HashSize {
		return fmt.Errorf("storeshim: handshake: commit id length %d, expected %d", info.CommitIDLength, tandemtypes.HashSize)
	}
	if info.ChangeIDLength != tandemtypes.HashSize {
		return fmt.Errorf("storeshim: handshake: change id length %d, expected %d", info.ChangeIDLength, tandemtypes.HashSize)
	}
	if info.BackendName != ExpectedBackend {
		return fmt.Errorf("storeshim: handshake: backend name %q, expected %q", info.BackendName, ExpectedBackend)
	}
	if info.OpStoreName != ExpectedOpStore {
		return fmt.Errorf("storeshim: handshake: op-store name %q, expected %q", info.OpStoreName, ExpectedOpStore)
	}
	return nil
}

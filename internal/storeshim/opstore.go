package storeshim

import (
	"context"

	"github.com/tandem-vcs/tandem/internal/rpcclient"
	"github.com/tandem-vcs/tandem/internal/rpcproto"
	"github.com/tandem-vcs/tandem/internal/tandemtypes"
)

// OpStore implements the VCS library's op-store trait: reading and
// writing operations and views, and resolving id prefixes.
type OpStore struct {
	client   *rpcclient.Client
	repoInfo tandemtypes.RepoInfo
}

// RootOperationID returns the handshake's root operation id, short-
// circuited locally rather than fetched from the server.
func (s *OpStore) RootOperationID() tandemtypes.Hash {
	return s.repoInfo.RootOperationID
}

// ReadOperation fetches an operation's bytes by id.
func (s *OpStore) ReadOperation(ctx context.Context, id tandemtypes.Hash) ([]byte, error) {
	var result rpcproto.GetOperationResult
	err := s.client.CallSync(ctx, rpcproto.MethodGetOperation, rpcproto.GetOperationArgs{ID: id}, &result)
	if err != nil {
		return nil, translateError(err)
	}
	return result.Data, nil
}

// WriteOperation stores an operation's bytes, returning its id.
func (s *OpStore) WriteOperation(ctx context.Context, data []byte) (tandemtypes.Hash, error) {
	var result rpcproto.PutOperationResult
	err := s.client.CallSync(ctx, rpcproto.MethodPutOperation, rpcproto.PutOperationArgs{Data: data}, &result)
	if err != nil {
		return tandemtypes.Hash{}, translateError(err)
	}
	return result.ID, nil
}

// ReadView fetches a view's bytes by id.
func (s *OpStore) ReadView(ctx context.Context, id tandemtypes.Hash) ([]byte, error) {
	var result rpcproto.GetOperationResult
	err := s.client.CallSync(ctx, rpcproto.MethodGetView, rpcproto.GetViewArgs{ID: id}, &result)
	if err != nil {
		return nil, translateError(err)
	}
	return result.Data, nil
}

// WriteView stores a view's bytes, returning its id.
func (s *OpStore) WriteView(ctx context.Context, data []byte) (tandemtypes.Hash, error) {
	var result rpcproto.PutOperationResult
	err := s.client.CallSync(ctx, rpcproto.MethodPutView, rpcproto.PutOperationArgs{Data: data}, &result)
	if err != nil {
		return tandemtypes.Hash{}, translateError(err)
	}
	return result.ID, nil
}

// ResolveOperationIDPrefix resolves a hex operation-id prefix.
func (s *OpStore) ResolveOperationIDPrefix(ctx context.Context, hexPrefix string) (tandemtypes.PrefixResolution, tandemtypes.Hash, error) {
	var result rpcproto.ResolveOperationIDPrefixResult
	err := s.client.CallSync(ctx, rpcproto.MethodResolveOperationIDPrefix, rpcproto.ResolveOperationIDPrefixArgs{HexPrefix: hexPrefix}, &result)
	if err != nil {
		return tandemtypes.ResolutionNoMatch, tandemtypes.Hash{}, translateError(err)
	}
	return result.Resolution, result.Match, nil
}

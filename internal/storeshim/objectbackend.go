package storeshim

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/tandem-vcs/tandem/internal/rpcclient"
	"github.com/tandem-vcs/tandem/internal/rpcproto"
	"github.com/tandem-vcs/tandem/internal/tandemerr"
	"github.com/tandem-vcs/tandem/internal/tandemtypes"
)

// Sentinel errors the VCS library's store traits branch on, per the
// domain-error-to-library-enum propagation policy.
var (
	ErrObjectNotFound     = errors.New("storeshim: object not found")
	ErrInvalidHashLength  = errors.New("storeshim: invalid hash length")
	ErrInvalidData        = errors.New("storeshim: invalid data")
	ErrUnsupportedFeature = errors.New("storeshim: unsupported feature")
	ErrOther              = errors.New("storeshim: other backend error")
)

// Signer applies a local signature to commit bytes before they are sent to
// the server, if the caller configured one. A nil Signer is a no-op.
type Signer func(commitBytes []byte) ([]byte, error)

// ObjectBackend implements the VCS library's object backend trait:
// reading and writing commits, trees, files, and symlinks, plus a
// capability-gated copy-tracking path.
type ObjectBackend struct {
	client   *rpcclient.Client
	repoInfo tandemtypes.RepoInfo
	Signer   Signer
}

// ReadCommit/ReadTree/ReadFile/ReadSymlink all translate one-for-one into
// getObject; Read handles them all given the kind.
func (b *ObjectBackend) Read(ctx context.Context, kind tandemtypes.ObjectKind, id tandemtypes.Hash) ([]byte, error) {
	var result rpcproto.GetObjectResult
	err := b.client.CallSync(ctx, rpcproto.MethodGetObject, rpcproto.GetObjectArgs{Kind: kind, ID: id[:]}, &result)
	if err != nil {
		return nil, translateError(err)
	}
	return result.Data, nil
}

// ReadFileStream opens a streamed byte source for a file object, per the
// spec's "file reads return a streamed byte source" requirement. The
// shim has no partial-read RPC, so it fetches the full object and wraps
// it in a reader; this is still a stream from the trait's point of view.
func (b *ObjectBackend) ReadFileStream(ctx context.Context, id tandemtypes.Hash) (io.ReadCloser, error) {
	data, err := b.Read(ctx, tandemtypes.KindFile, id)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Write translates a putObject call, applying Signer first for commits.
// Non-commit writes return data unchanged as NormalizedData; the caller
// should still prefer the returned bytes as canonical.
func (b *ObjectBackend) Write(ctx context.Context, kind tandemtypes.ObjectKind, data []byte) (tandemtypes.Hash, []byte, error) {
	if kind == tandemtypes.KindCommit && b.Signer != nil {
		signed, err := b.Signer(data)
		if err != nil {
			return tandemtypes.Hash{}, nil, fmt.Errorf("storeshim: sign commit: %w", err)
		}
		data = signed
	}

	var result rpcproto.PutObjectResult
	err := b.client.CallSync(ctx, rpcproto.MethodPutObject, rpcproto.PutObjectArgs{Kind: kind, Data: data}, &result)
	if err != nil {
		return tandemtypes.Hash{}, nil, translateError(err)
	}
	return result.ID, result.NormalizedData, nil
}

// WriteFileStream drains src into a buffer and calls Write, per the
// spec's "file writes drain a source into a buffer" requirement.
func (b *ObjectBackend) WriteFileStream(ctx context.Context, src io.Reader) (tandemtypes.Hash, []byte, error) {
	data, err := io.ReadAll(src)
	if err != nil {
		return tandemtypes.Hash{}, nil, fmt.Errorf("storeshim: read file stream: %w", err)
	}
	return b.Write(ctx, tandemtypes.KindFile, data)
}

// ReadRelatedCopies resolves the copies related to copyID, returning
// ErrUnsupportedFeature if the server does not advertise copy tracking.
func (b *ObjectBackend) ReadRelatedCopies(ctx context.Context, copyID tandemtypes.Hash) ([]tandemtypes.Hash, error) {
	if !b.repoInfo.Has(tandemtypes.CapabilityCopyTracking) {
		return nil, ErrUnsupportedFeature
	}
	var result rpcproto.GetRelatedCopiesResult
	err := b.client.CallSync(ctx, rpcproto.MethodGetRelatedCopies, rpcproto.GetRelatedCopiesArgs{CopyID: copyID}, &result)
	if err != nil {
		return nil, translateError(err)
	}
	return result.Copies, nil
}

func translateError(err error) error {
	domainErr, ok := err.(*tandemerr.Error)
	if !ok {
		return fmt.Errorf("%w: %v", ErrOther, err)
	}
	switch domainErr.Code {
	case tandemerr.NotFound:
		return fmt.Errorf("%w: %s", ErrObjectNotFound, domainErr.Message)
	case tandemerr.InvalidIDLength:
		return fmt.Errorf("%w: %s", ErrInvalidHashLength, domainErr.Message)
	case tandemerr.InvalidData:
		return fmt.Errorf("%w: %s", ErrInvalidData, domainErr.Message)
	case tandemerr.Unsupported:
		return fmt.Errorf("%w: %s", ErrUnsupportedFeature, domainErr.Message)
	default:
		return fmt.Errorf("%w: %s", ErrOther, domainErr.Message)
	}
}

package loader

import (
	"context"
	"fmt"
	"io"

	"github.com/gofhir/validationsupport/support"
)

// BinarySupport serves FetchBinary from a Source. The binary key is the
// document name.
type BinarySupport struct {
	src Source
}

// NewBinarySupport creates a module over src.
func NewBinarySupport(src Source) *BinarySupport {
	return &BinarySupport{src: src}
}

// Name implements support.Module.
func (b *BinarySupport) Name() string {
	if s, ok := b.src.(fmt.Stringer); ok {
		return "BinarySupport(" + s.String() + ")"
	}
	return "BinarySupport"
}

// FetchBinary implements support.BinaryFetcher. Unknown keys yield nil.
func (b *BinarySupport) FetchBinary(ctx context.Context, key string) ([]byte, error) {
	rc, err := b.src.Open(ctx, key)
	if err != nil {
		if IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch binary %s: %w", key, err)
	}
	defer func() { _ = rc.Close() }()
	return io.ReadAll(rc)
}

var _ support.BinaryFetcher = (*BinarySupport)(nil)

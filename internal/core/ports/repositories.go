package ports

import (
	"context"
)

// LayerRepository retrieves raw layer pages from the layer service.
type LayerRepository interface {
	FetchPage(ctx context.Context, url string) ([]byte, error)
}

// BundleRepository downloads asset bundles.
type BundleRepository interface {
	FetchBundle(ctx context.Context, url string) ([]byte, error)
}

// Bundle is a decoded asset bundle.
type Bundle interface {
	Has(objectRef string) bool
}

// BundleDecoder turns downloaded bytes into a Bundle.
type BundleDecoder interface {
	Decode(url string, data []byte) (Bundle, error)
}

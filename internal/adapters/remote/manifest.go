package remote

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/samirrijal/geoaugment/internal/core/ports"
)

// Manifest is the JSON description of an asset bundle: the names of the
// prefabs it contains.
type Manifest struct {
	Name    string   `json:"name"`
	Objects []string `json:"objects"`
}

// Has reports whether the bundle contains objectRef.
func (m *Manifest) Has(objectRef string) bool {
	for _, o := range m.Objects {
		if o == objectRef {
			return true
		}
	}
	return false
}

// ManifestDecoder implements ports.BundleDecoder for JSON manifests.
type ManifestDecoder struct{}

// NewManifestDecoder creates a new ManifestDecoder.
func NewManifestDecoder() *ManifestDecoder {
	return &ManifestDecoder{}
}

// Decode parses data as a Manifest.
func (d *ManifestDecoder) Decode(url string, data []byte) (ports.Bundle, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode bundle %s: %w", url, err)
	}
	if len(m.Objects) == 0 {
		return nil, errors.New("bundle lists no objects")
	}
	for i, o := range m.Objects {
		m.Objects[i] = strings.TrimSpace(o)
	}
	return &m, nil
}

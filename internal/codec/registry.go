package codec

import (
	"fmt"
	"sort"

	"github.com/diffrant/diffrantd/internal/domain"
)

// Codec decompresses one payload.
type Codec interface {
	// Name is the algorithm name payloads are tagged with.
	Name() string

	// Decode returns exactly want bytes decoded from src.
	// elemSize is the size of one sample, for codecs that shuffle by element.
	Decode(src []byte, elemSize, want int) ([]byte, error)
}

// Registry maps algorithm names to codecs. It is immutable once built and
// safe for concurrent use.
type Registry struct {
	codecs map[string]Codec
}

// NewRegistry returns a registry holding the given codecs. A later codec
// replaces an earlier one of the same name.
func NewRegistry(codecs ...Codec) *Registry {
	r := &Registry{codecs: make(map[string]Codec, len(codecs))}
	for _, c := range codecs {
		r.codecs[c.Name()] = c
	}
	return r
}

// Default returns a registry with every built-in codec.
func Default() *Registry {
	return NewRegistry(BSLZ4{}, LZ4{}, NewZstd())
}

// Lookup returns the codec for name, or an ErrDependency-classified error.
func (r *Registry) Lookup(name string) (Codec, error) {
	c, ok := r.codecs[name]
	if !ok {
		return nil, domain.NewReaderError(domain.ErrDependency, "codec lookup", "",
			fmt.Errorf("no codec for %q (available: %v)", name, r.Names()))
	}
	return c, nil
}

// Names returns the registered algorithm names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.codecs))
	for n := range r.codecs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Decode looks up name and decodes src with it.
func (r *Registry) Decode(name string, src []byte, elemSize, want int) ([]byte, error) {
	c, err := r.Lookup(name)
	if err != nil {
		return nil, err
	}
	out, err := c.Decode(src, elemSize, want)
	if err != nil {
		return nil, domain.NewReaderError(domain.ErrDecode, "decode "+name, "", err)
	}
	return out, nil
}

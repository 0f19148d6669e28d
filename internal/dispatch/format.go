package dispatch

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/diffrant/diffrantd/internal/domain"
	"github.com/diffrant/diffrantd/internal/ports"
)

// Format is one reader variant.
type Format struct {
	// Name is reported in metadata and open results.
	Name string
	// Extensions are lower-case, with the leading dot.
	Extensions []string
	// Sniff inspects content when the extension is ambiguous. May be nil.
	Sniff func(r io.ReaderAt) bool
	// Open constructs a reader for path.
	Open func(path string) (ports.FrameReader, error)
	// Reloadable marks formats whose reopen sees data appended since the
	// last open.
	Reloadable bool
}

// genericExtensions carry no format information, so content decides.
var genericExtensions = map[string]bool{
	"":     true,
	".dat": true,
	".bin": true,
	".raw": true,
}

// registry resolves a path to a Format.
type registry struct {
	formats []Format
	byExt   map[string]int
}

func newRegistry(formats []Format) registry {
	reg := registry{formats: formats, byExt: make(map[string]int)}
	for i, f := range formats {
		for _, ext := range f.Extensions {
			reg.byExt[strings.ToLower(ext)] = i
		}
	}
	return reg
}

func (reg registry) resolve(path string) (Format, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if i, ok := reg.byExt[ext]; ok {
		return reg.formats[i], nil
	}
	if !genericExtensions[ext] {
		return Format{}, domain.NewReaderError(domain.ErrUnsupportedFormat, "open", path,
			fmt.Errorf("extension %q not recognized", ext))
	}

	f, err := os.Open(path)
	if err != nil {
		return Format{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	for _, format := range reg.formats {
		if format.Sniff != nil && format.Sniff(f) {
			return format, nil
		}
	}
	return Format{}, domain.NewReaderError(domain.ErrUnsupportedFormat, "open", path,
		fmt.Errorf("content matches no known format"))
}

// Names returns the registered format names in registration order.
func (reg registry) names() []string {
	out := make([]string, len(reg.formats))
	for i, f := range reg.formats {
		out[i] = f.Name
	}
	return out
}

package app

import (
	"github.com/diffrant/diffrantd/internal/codec"
	"github.com/diffrant/diffrantd/internal/dispatch"
	"github.com/diffrant/diffrantd/internal/ports"
	"github.com/diffrant/diffrantd/internal/readers/nexus"
	"github.com/diffrant/diffrantd/internal/readers/stream2"
)

// Formats returns the reader variants the dispatcher chooses between.
// opener backs the NeXus reader; channel selects the stream-v2 channel
// (empty means the first one announced).
func Formats(opener ports.ContainerOpener, channel string, codecs *codec.Registry, logger ports.Logger) []dispatch.Format {
	return []dispatch.Format{
		// Not reloadable: libhdf5 hands a reopen of an open file the
		// cached handle, so appended frames stay invisible.
		{
			Name:       nexus.Name,
			Extensions: nexus.Extensions,
			Sniff:      nexus.Sniff,
			Open: func(path string) (ports.FrameReader, error) {
				r, err := nexus.Open(path, opener, logger)
				if err != nil {
					return nil, err
				}
				return r, nil
			},
		},
		{
			Name:       stream2.Name,
			Extensions: stream2.Extensions,
			Sniff:      stream2.Sniff,
			Reloadable: true,
			Open: func(path string) (ports.FrameReader, error) {
				r, err := stream2.Open(path,
					stream2.WithChannel(channel),
					stream2.WithCodecs(codecs),
					stream2.WithLogger(logger),
				)
				if err != nil {
					return nil, err
				}
				return r, nil
			},
		},
	}
}

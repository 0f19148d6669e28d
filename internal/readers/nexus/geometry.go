package nexus

import (
	"errors"
	"strings"

	"github.com/diffrant/diffrantd/internal/domain"
	"github.com/diffrant/diffrantd/internal/ports"
)

const (
	detectorGroup = "entry/instrument/detector"
	beamGroup     = "entry/instrument/beam"
)

// lengthToMM maps a units attribute to a millimetre scale factor.
// Unknown units fall back to metres.
func lengthToMM(units string) float64 {
	switch strings.ToLower(strings.TrimSpace(units)) {
	case "mm", "millimetre", "millimeter":
		return 1
	case "cm":
		return 10
	case "um", "µm", "micron", "microns":
		return 1e-3
	default:
		return 1000
	}
}

// wavelengthToAngstrom maps a units attribute to an ångström scale factor.
// Unknown units are taken as ångström.
func wavelengthToAngstrom(units string) float64 {
	switch strings.ToLower(strings.TrimSpace(units)) {
	case "nm":
		return 10
	case "m":
		return 1e10
	default:
		return 1
	}
}

// geometryReader collects optional fields; absence is never an error.
type geometryReader struct {
	c   ports.Container
	log ports.Logger
}

func (g geometryReader) float(path string) (float64, bool) {
	v, err := g.c.ReadFloat(path)
	if err != nil {
		if !errors.Is(err, ports.ErrNotFound) {
			g.log.Debug("optional field unreadable", ports.String("field", path), ports.Err(err))
		}
		return 0, false
	}
	return v, true
}

func (g geometryReader) units(path string) string {
	u, err := g.c.ReadStringAttr(path, "units")
	if err != nil {
		return ""
	}
	return u
}

// length reads a scalar length and converts it to millimetres.
func (g geometryReader) length(path string) (float64, bool) {
	v, ok := g.float(path)
	if !ok {
		return 0, false
	}
	return v * lengthToMM(g.units(path)), true
}

func (g geometryReader) fill(m *domain.DetectorMetadata) {
	for _, name := range []string{"distance", "detector_distance"} {
		if d, ok := g.length(detectorGroup + "/" + name); ok {
			m.Distance = domain.Float(d)
			break
		}
	}

	if px, ok := g.length(detectorGroup + "/x_pixel_size"); ok {
		m.PixelSize = domain.Float(px)
	}

	bx, okx := g.float(detectorGroup + "/beam_center_x")
	by, oky := g.float(detectorGroup + "/beam_center_y")
	if okx && oky {
		m.BeamCenter = &[2]float64{bx, by}
	}

	m.TrustedRangeMax = domain.DefaultTrustedRangeMax
	if v, ok := g.float(detectorGroup + "/detectorSpecific/countrate_correction_count_cutoff"); ok {
		m.TrustedRangeMax = v
	} else if v, ok := g.float(detectorGroup + "/saturation_value"); ok {
		m.TrustedRangeMax = v
	}

	if ev, ok := g.float(beamGroup + "/incident_energy"); ok && ev > 0 {
		m.BeamEnergyKeV = domain.Float(ev / 1000)
	}
	wlPath := beamGroup + "/incident_wavelength"
	if wl, ok := g.float(wlPath); ok && wl > 0 {
		m.Wavelength = domain.Float(wl * wavelengthToAngstrom(g.units(wlPath)))
	}
	m.FillBeam()
}

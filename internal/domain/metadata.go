package domain

// HC is Planck's constant times the speed of light in keV·Å,
// used to convert between wavelength and photon energy.
const HC = 12.398419843

// DefaultTrustedRangeMax is used when the file records no saturation cutoff.
const DefaultTrustedRangeMax = float64(^uint16(0) - 1)

// ImageDepth is the bit depth of every transferred sample.
const ImageDepth = 16

// DetectorMetadata describes the geometry and shape of one open file.
// It is computed once at open and never mutated afterwards.
type DetectorMetadata struct {
	FrameCount int    `json:"frame_count"`
	FrameShape [2]int `json:"frame_shape"` // [rows, cols]

	// PixelSize is in millimetres.
	PixelSize *float64 `json:"pixel_size,omitempty"`
	// Distance is sample-to-detector distance in millimetres.
	Distance *float64 `json:"distance,omitempty"`
	// BeamCenter is [x, y] in pixels.
	BeamCenter *[2]float64 `json:"beam_center,omitempty"`
	// Wavelength is in ångström.
	Wavelength *float64 `json:"wavelength,omitempty"`

	BeamEnergyKeV   *float64 `json:"beam_energy_kev,omitempty"`
	ImageDepth      int      `json:"image_depth"`
	TrustedRangeMax float64  `json:"trusted_range_max"`

	Format  string `json:"format"`
	Session string `json:"session,omitempty"`
}

// Rows returns the slow-axis size.
func (m DetectorMetadata) Rows() int { return m.FrameShape[0] }

// Cols returns the fast-axis size.
func (m DetectorMetadata) Cols() int { return m.FrameShape[1] }

// FillBeam derives whichever of wavelength and energy is missing from the other.
func (m *DetectorMetadata) FillBeam() {
	switch {
	case m.Wavelength != nil && m.BeamEnergyKeV == nil && *m.Wavelength > 0:
		e := HC / *m.Wavelength
		m.BeamEnergyKeV = &e
	case m.BeamEnergyKeV != nil && m.Wavelength == nil && *m.BeamEnergyKeV > 0:
		w := HC / *m.BeamEnergyKeV
		m.Wavelength = &w
	}
}

// OpenResult is reported to the caller of an open command.
type OpenResult struct {
	Path       string
	Format     string
	Session    string
	FrameCount int
	// Reloadable is set when reopening the same path picks up appended frames.
	Reloadable bool
}

// Float returns a pointer to v, for optional metadata fields.
func Float(v float64) *float64 { return &v }

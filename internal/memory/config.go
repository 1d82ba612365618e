package memory

import "time"

// Config holds the tunables of the memory layer. The blend weights and the
// baseline are deliberately configuration, not constants: historical material
// never settled on fixed values, so they stay tunable with these defaults.
type Config struct {
	// EventLogRetention bounds the per-instrument event log.
	EventLogRetention int

	// DecisionCacheTTL bounds how long an unchanged decision is replayed.
	DecisionCacheTTL time.Duration

	// Blend weights over raw confidence, historical success ratio and the
	// rolling quality score. Must sum to 1.
	BlendRawWeight     float64
	BlendHistoryWeight float64
	BlendQualityWeight float64

	// BaselineConfidence is used when history is too thin to trust and in
	// degraded mode.
	BaselineConfidence float64

	// Similarity search.
	KNearest           int
	MinSamples         int
	MagnitudeTolerance float64

	// SuppressionThreshold is the decay-weighted signature weight above
	// which a candidate is marked suppressed.
	SuppressionThreshold float64

	// SignatureDecay is applied to every signature weight once per
	// resolution pass.
	SignatureDecay float64

	// BiasShiftConfidence is the minimum adjusted confidence for a
	// structural event to flip the stored bias.
	BiasShiftConfidence float64

	// Outcome resolution.
	ResolutionHorizonBars int
	ConfirmThreshold      float64 // in average-range units

	// QualityAlpha is the EMA factor of the rolling accuracy score.
	QualityAlpha float64
}

// DefaultConfig returns the memory-layer defaults.
func DefaultConfig() Config {
	return Config{
		EventLogRetention:     200,
		DecisionCacheTTL:      5 * time.Minute,
		BlendRawWeight:        0.5,
		BlendHistoryWeight:    0.3,
		BlendQualityWeight:    0.2,
		BaselineConfidence:    0.55,
		KNearest:              10,
		MinSamples:            5,
		MagnitudeTolerance:    0.2,
		SuppressionThreshold:  2.0,
		SignatureDecay:        0.9,
		BiasShiftConfidence:   0.6,
		ResolutionHorizonBars: 20,
		ConfirmThreshold:      0.5,
		QualityAlpha:          0.1,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.EventLogRetention <= 0 {
		c.EventLogRetention = def.EventLogRetention
	}
	if c.DecisionCacheTTL <= 0 {
		c.DecisionCacheTTL = def.DecisionCacheTTL
	}
	if c.BlendRawWeight == 0 && c.BlendHistoryWeight == 0 && c.BlendQualityWeight == 0 {
		c.BlendRawWeight = def.BlendRawWeight
		c.BlendHistoryWeight = def.BlendHistoryWeight
		c.BlendQualityWeight = def.BlendQualityWeight
	}
	if c.BaselineConfidence <= 0 {
		c.BaselineConfidence = def.BaselineConfidence
	}
	if c.KNearest <= 0 {
		c.KNearest = def.KNearest
	}
	if c.MinSamples <= 0 {
		c.MinSamples = def.MinSamples
	}
	if c.MagnitudeTolerance <= 0 {
		c.MagnitudeTolerance = def.MagnitudeTolerance
	}
	if c.SuppressionThreshold <= 0 {
		c.SuppressionThreshold = def.SuppressionThreshold
	}
	if c.SignatureDecay <= 0 || c.SignatureDecay > 1 {
		c.SignatureDecay = def.SignatureDecay
	}
	if c.BiasShiftConfidence <= 0 {
		c.BiasShiftConfidence = def.BiasShiftConfidence
	}
	if c.ResolutionHorizonBars <= 0 {
		c.ResolutionHorizonBars = def.ResolutionHorizonBars
	}
	if c.ConfirmThreshold <= 0 {
		c.ConfirmThreshold = def.ConfirmThreshold
	}
	if c.QualityAlpha <= 0 {
		c.QualityAlpha = def.QualityAlpha
	}
	return c
}

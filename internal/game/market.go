package game

import (
	"math"
	"strings"
)

// marketDynamics tunes the monthly revaluation walk. Magnitudes are log
// returns per game month.
type marketDynamics struct {
	NoiseScale       float64
	ShockProb        float64
	ShockScale       float64
	MeanReversion    float64
	AnchorNoiseScale float64
	RegimeSwitchProb float64
	MaxDropPerMonth  float64
}

func marketMood(mode string) marketDynamics {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "calm":
		return marketDynamics{
			NoiseScale:       0.006,
			ShockProb:        0.02,
			ShockScale:       0.030,
			MeanReversion:    0.040,
			AnchorNoiseScale: 0.004,
			RegimeSwitchProb: 0.03,
			MaxDropPerMonth:  0.12,
		}
	case "wild":
		return marketDynamics{
			NoiseScale:       0.022,
			ShockProb:        0.10,
			ShockScale:       0.080,
			MeanReversion:    0.015,
			AnchorNoiseScale: 0.014,
			RegimeSwitchProb: 0.09,
			MaxDropPerMonth:  0.30,
		}
	default:
		return marketDynamics{
			NoiseScale:       0.012,
			ShockProb:        0.05,
			ShockScale:       0.050,
			MeanReversion:    0.025,
			AnchorNoiseScale: 0.008,
			RegimeSwitchProb: 0.05,
			MaxDropPerMonth:  0.20,
		}
	}
}

const (
	RegimeSoft     = "soft"
	RegimeBalanced = "balanced"
	RegimeHot      = "hot"
)

func randomRegime(seed float64) string {
	switch {
	case seed < 0.30:
		return RegimeSoft
	case seed < 0.70:
		return RegimeBalanced
	default:
		return RegimeHot
	}
}

func regimeDrift(regime string) float64 {
	switch regime {
	case RegimeHot:
		return 0.0040
	case RegimeSoft:
		return -0.0040
	default:
		return 0.0000
	}
}

func meanReversion(value, anchor int64, strength float64) float64 {
	if anchor <= 0 {
		return 0
	}
	return strength * (float64(anchor-value) / float64(anchor))
}

func normalish(seed float64) float64 {
	return (seed + seed - 1)
}

func signedShock(magSeed, signSeed, base float64) float64 {
	mag := base * (0.35 + 2.8*magSeed*magSeed)
	if signSeed < 0.5 {
		return -mag
	}
	return mag
}

func evolveValue(valueMicros int64, ret, maxDropPerMonth float64) int64 {
	if valueMicros <= 0 {
		return 1
	}
	// Bound only the downside; upside can run.
	if ret < -maxDropPerMonth {
		ret = -maxDropPerMonth
	}
	next := int64(math.Round(float64(valueMicros) * math.Exp(ret)))
	if next < 1 {
		next = 1
	}
	return next
}

package risk

import (
	"fmt"
	"math"
)

// Level buckets a default probability.
type Level string

const (
	VeryLow  Level = "VERY_LOW"
	Low      Level = "LOW"
	Medium   Level = "MEDIUM"
	High     Level = "HIGH"
	VeryHigh Level = "VERY_HIGH"
)

// Recommendation is the lending advice derived from an assessment.
type Recommendation string

const (
	ExtendCredit   Recommendation = "EXTEND_CREDIT"
	Hold           Recommendation = "HOLD"
	ReduceExposure Recommendation = "REDUCE_EXPOSURE"
	Reject         Recommendation = "REJECT"
)

// Probability bounds for any assessment.
const (
	minProbability = 0.02
	maxProbability = 0.95
)

// Assessment is the full risk record for one borrower/lender pair.
type Assessment struct {
	DefaultProbability float64        `json:"default_probability"`
	ExpectedLoss       float64        `json:"expected_loss"`
	SystemicImpact     float64        `json:"systemic_impact"`
	CascadeRisk        float64        `json:"cascade_risk"`
	RiskLevel          Level          `json:"risk_level"`
	Recommendation     Recommendation `json:"recommendation"`
	Confidence         float64        `json:"confidence"`
	Reasons            []string       `json:"reasons"`
}

// Predictor scores features with a calibrated logistic model. It is
// stateless and safe for concurrent use.
type Predictor struct{}

// NewPredictor returns the formula-based predictor.
func NewPredictor() *Predictor {
	return &Predictor{}
}

// Logistic weights. Calibrated so a healthy borrower (capital ratio ~0.33,
// leverage ~3, ample cash) scores near 0.10 and a distressed one near 0.8.
const (
	wBias         = -0.5
	wCapitalRatio = -4.0
	wLeverage     = 0.12
	wLiquidity    = -1.2
	wEquity       = -0.004
	wPastDefaults = 0.5
	wRiskAppetite = 0.4
	wVolatility   = 4.0
	wLender       = -0.8
	wCentrality   = 0.6
	wBurden       = 0.08
)

// Assess maps features to the full risk record.
func (p *Predictor) Assess(f Features) Assessment {
	z := wBias +
		wCapitalRatio*f.BorrowerCapitalRatio +
		wLeverage*f.BorrowerLeverage +
		wLiquidity*f.BorrowerLiquidity +
		wEquity*f.BorrowerEquity +
		wPastDefaults*float64(f.BorrowerPastDefaults) +
		wRiskAppetite*f.BorrowerRiskAppetite +
		wVolatility*f.MarketVolatility +
		wLender*f.LenderStrength +
		wCentrality*f.BorrowerCentrality +
		wBurden*f.UpstreamBurden

	prob := clampProb(1.0 / (1.0 + math.Exp(-z)))

	systemic := clamp01(f.BorrowerCentrality * prob * 2.0)
	cascade := clamp01(f.UpstreamBurden / 10.0 * prob * 3.0)

	a := Assessment{
		DefaultProbability: prob,
		ExpectedLoss:       prob * f.Exposure,
		SystemicImpact:     systemic,
		CascadeRisk:        cascade,
		RiskLevel:          levelFor(prob),
		Recommendation:     recommend(prob, systemic, cascade),
		Confidence:         0.5 + math.Abs(prob-0.5),
		Reasons:            reasonsFor(f, prob),
	}
	return a
}

func levelFor(prob float64) Level {
	switch {
	case prob < 0.15:
		return VeryLow
	case prob < 0.30:
		return Low
	case prob < 0.50:
		return Medium
	case prob < 0.70:
		return High
	default:
		return VeryHigh
	}
}

func recommend(prob, systemic, cascade float64) Recommendation {
	switch {
	case prob > 0.7 || systemic > 0.7:
		return Reject
	case prob > 0.5 || cascade > 0.6:
		return ReduceExposure
	case prob > 0.3:
		return Hold
	case prob < 0.2:
		return ExtendCredit
	default:
		return Hold
	}
}

func reasonsFor(f Features, prob float64) []string {
	var reasons []string
	if f.BorrowerCapitalRatio < 0.1 {
		reasons = append(reasons, fmt.Sprintf("thin capital ratio %.2f", f.BorrowerCapitalRatio))
	}
	if f.BorrowerLeverage > 5 {
		reasons = append(reasons, fmt.Sprintf("high leverage %.1fx", f.BorrowerLeverage))
	}
	if f.BorrowerLiquidity < 0.15 {
		reasons = append(reasons, fmt.Sprintf("low liquidity %.2f", f.BorrowerLiquidity))
	}
	if f.BorrowerPastDefaults > 0 {
		reasons = append(reasons, fmt.Sprintf("%d past default(s)", f.BorrowerPastDefaults))
	}
	if f.UpstreamBurden > 4 {
		reasons = append(reasons, fmt.Sprintf("heavy upstream debt burden %.1fx equity", f.UpstreamBurden))
	}
	if f.BorrowerCentrality > 0.3 {
		reasons = append(reasons, "borrower is central to the interbank network")
	}
	if len(reasons) == 0 {
		reasons = append(reasons, fmt.Sprintf("balance sheet within normal ranges (p=%.2f)", prob))
	}
	return reasons
}

func clampProb(p float64) float64 {
	if p < minProbability {
		return minProbability
	}
	if p > maxProbability {
		return maxProbability
	}
	return p
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Package risk scores the default risk of a prospective interbank loan from
// borrower, lender, network, and market features.
package risk

import (
	"gonum.org/v1/gonum/graph/network"
	"gonum.org/v1/gonum/graph/simple"

	"github.com/systemiq/banknet/internal/bank"
)

// Features is the input record for one assessment.
type Features struct {
	BorrowerCapitalRatio float64 `json:"borrower_capital_ratio"`
	BorrowerLeverage     float64 `json:"borrower_leverage"`
	BorrowerLiquidity    float64 `json:"borrower_liquidity"`
	BorrowerEquity       float64 `json:"borrower_equity"`
	BorrowerPastDefaults int     `json:"borrower_past_defaults"`
	BorrowerRiskAppetite float64 `json:"borrower_risk_appetite"`
	MarketVolatility     float64 `json:"market_volatility"`
	LenderStrength       float64 `json:"lender_strength"`
	BorrowerCentrality   float64 `json:"borrower_centrality"`
	UpstreamBurden       float64 `json:"upstream_burden"`
	Exposure             float64 `json:"exposure"`
}

// Centralities ranks every bank's importance in the interbank loan graph by
// PageRank over lender-to-borrower edges weighted by outstanding principal.
func Centralities(banks []*bank.Bank) map[int]float64 {
	g := simple.NewWeightedDirectedGraph(0, 0)
	for _, bk := range banks {
		g.AddNode(simple.Node(bk.ID))
	}
	for _, bk := range banks {
		for borrowerID, principal := range bk.Sheet.LoanPositions {
			if principal <= 0 || borrowerID == bk.ID {
				continue
			}
			if g.Node(int64(borrowerID)) == nil {
				continue
			}
			g.SetWeightedEdge(simple.WeightedEdge{
				F: simple.Node(bk.ID),
				T: simple.Node(borrowerID),
				W: principal,
			})
		}
	}

	ranks := network.PageRank(g, 0.85, 1e-6)
	out := make(map[int]float64, len(banks))
	for _, bk := range banks {
		out[bk.ID] = ranks[int64(bk.ID)]
	}
	return out
}

// FeaturesFor builds an assessment record for a borrower/lender pair inside
// a live session.
func FeaturesFor(borrower, lender *bank.Bank, centrality, marketVolatility, exposure float64) Features {
	ratios := borrower.Sheet.ComputeRatios()
	equity := borrower.Sheet.Equity()

	burden := 0.0
	if equity > 0 {
		burden = borrower.Sheet.Borrowed / equity
	} else if borrower.Sheet.Borrowed > 0 {
		burden = 10.0
	}

	strength := 0.0
	if lender != nil {
		strength = lender.Sheet.ComputeRatios().CapitalRatio * 2
		if strength > 1 {
			strength = 1
		}
	}

	return Features{
		BorrowerCapitalRatio: ratios.CapitalRatio,
		BorrowerLeverage:     ratios.Leverage,
		BorrowerLiquidity:    ratios.LiquidityRatio,
		BorrowerEquity:       equity,
		BorrowerPastDefaults: borrower.PastDefaults,
		BorrowerRiskAppetite: borrower.RiskAppetite,
		MarketVolatility:     marketVolatility,
		LenderStrength:       strength,
		BorrowerCentrality:   centrality,
		UpstreamBurden:       burden,
		Exposure:             exposure,
	}
}

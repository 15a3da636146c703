package services

import (
	"context"
	"fmt"
	"strings"
)

// Operation names one analytics computation.
type Operation int

const (
	OpMarketStats Operation = iota
	OpGrowthRate
	OpSeasonalPatterns
	OpTransactionVelocity
	OpComparables
	OpEstimateValue
	OpCorrelation
	OpLikelySellers
	OpMarketActivityScore
	OpTopInvestors
	OpOwnerPortfolio
	numOperations
)

var operationNames = [numOperations]string{
	OpMarketStats:         "market_stats",
	OpGrowthRate:          "growth_rate",
	OpSeasonalPatterns:    "seasonal_patterns",
	OpTransactionVelocity: "transaction_velocity",
	OpComparables:         "comparables",
	OpEstimateValue:       "estimate_value",
	OpCorrelation:         "correlation",
	OpLikelySellers:       "likely_sellers",
	OpMarketActivityScore: "market_activity_score",
	OpTopInvestors:        "top_investors",
	OpOwnerPortfolio:      "owner_portfolio",
}

func (o Operation) String() string {
	if o < 0 || o >= numOperations {
		return fmt.Sprintf("Operation(%d)", int(o))
	}
	return operationNames[o]
}

// Operations lists every operation in declaration order.
func Operations() []Operation {
	ops := make([]Operation, numOperations)
	for i := range ops {
		ops[i] = Operation(i)
	}
	return ops
}

// ParseOperation maps a name such as "market_stats" to its Operation.
func ParseOperation(name string) (Operation, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for i, n := range operationNames {
		if n == name {
			return Operation(i), nil
		}
	}
	return 0, fmt.Errorf("unknown operation %q", name)
}

// Request is the parameter set of one operation. The set of implementations
// is closed: only the *Params types of this package satisfy it.
type Request interface {
	Operation() Operation
	isRequest()
}

func (*MarketStatsParams) Operation() Operation { return OpMarketStats }
func (*GrowthParams) Operation() Operation { return OpGrowthRate }
func (*SeasonalParams) Operation() Operation { return OpSeasonalPatterns }
func (*VelocityParams) Operation() Operation { return OpTransactionVelocity }
func (*ComparablesParams) Operation() Operation { return OpComparables }
func (*ValuationParams) Operation() Operation { return OpEstimateValue }
func (*CorrelationParams) Operation() Operation { return OpCorrelation }
func (*SellerParams) Operation() Operation { return OpLikelySellers }
func (*ActivityParams) Operation() Operation { return OpMarketActivityScore }
func (*InvestorParams) Operation() Operation { return OpTopInvestors }
func (*PortfolioParams) Operation() Operation { return OpOwnerPortfolio }
func (*MarketStatsParams) isRequest() {}
func (*GrowthParams) isRequest() {}
func (*SeasonalParams) isRequest() {}
func (*VelocityParams) isRequest() {}
func (*ComparablesParams) isRequest() {}
func (*ValuationParams) isRequest() {}
func (*CorrelationParams) isRequest() {}
func (*SellerParams) isRequest() {}
func (*ActivityParams) isRequest() {}
func (*InvestorParams) isRequest() {}
func (*PortfolioParams) isRequest() {}

// NewRequest returns an empty parameter set for op, ready to be decoded into.
func NewRequest(op Operation) (Request, error) {
	switch op {
	case OpMarketStats:
		return &MarketStatsParams{}, nil
	case OpGrowthRate:
		return &GrowthParams{}, nil
	case OpSeasonalPatterns:
		return &SeasonalParams{}, nil
	case OpTransactionVelocity:
		return &VelocityParams{}, nil
	case OpComparables:
		return &ComparablesParams{}, nil
	case OpEstimateValue:
		return &ValuationParams{}, nil
	case OpCorrelation:
		return &CorrelationParams{}, nil
	case OpLikelySellers:
		return &SellerParams{}, nil
	case OpMarketActivityScore:
		return &ActivityParams{}, nil
	case OpTopInvestors:
		return &InvestorParams{}, nil
	case OpOwnerPortfolio:
		return &PortfolioParams{}, nil
	}
	return nil, fmt.Errorf("unknown operation %v", op)
}

// Run executes req with the handler for its variant.
func (e *AnalyticsEngine) Run(ctx context.Context, req Request) (any, error) {
	switch p := req.(type) {
	case *MarketStatsParams:
		return e.MarketStats(ctx, *p)
	case *GrowthParams:
		return e.GrowthRate(ctx, *p)
	case *SeasonalParams:
		return e.SeasonalPatterns(ctx, *p)
	case *VelocityParams:
		return e.TransactionVelocity(ctx, *p)
	case *ComparablesParams:
		return e.FindComparables(ctx, *p)
	case *ValuationParams:
		return e.EstimateValue(ctx, *p)
	case *CorrelationParams:
		return e.CommunityCorrelation(ctx, *p)
	case *SellerParams:
		return e.LikelySellers(ctx, *p)
	case *ActivityParams:
		return e.MarketActivityScore(ctx, *p)
	case *InvestorParams:
		return e.TopInvestors(ctx, *p)
	case *PortfolioParams:
		return e.OwnerPortfolio(ctx, *p)
	}
	return nil, fmt.Errorf("no handler for request %T", req)
}

package service

import (
	"github.com/shopspring/decimal"

	"github.com/allais-space/chatkit/internal/domain"
)

// EstimateCost returns the advisory cost of an exchange. Webhooks report a
// single combined token count, so the estimate prices it at the mean of the
// model's prompt and completion rates (per 1M tokens).
func EstimateCost(tokensUsed int, model domain.AIModel) decimal.Decimal {
	if tokensUsed <= 0 || model.IsFree() {
		return decimal.Zero
	}
	avgPrice := decimal.NewFromFloat((model.PromptPrice + model.CompletionPrice) / 2)
	tokens := decimal.NewFromInt(int64(tokensUsed))
	return tokens.Mul(avgPrice).Div(decimal.NewFromInt(1_000_000))
}

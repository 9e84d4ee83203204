package service

import (
	"github.com/set-night/evochat/internal/domain"
	"github.com/shopspring/decimal"
)

var perMillion = decimal.NewFromInt(1_000_000)

// Pricing is the USD price per million tokens.
type Pricing struct {
	Prompt     decimal.Decimal
	Completion decimal.Decimal
}

// UsageReport totals the token usage of a session's replies.
type UsageReport struct {
	Replies          int
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	Cost             decimal.Decimal
}

// CalculateCost returns the estimated cost of one request.
func CalculateCost(promptTokens, completionTokens int, p Pricing) decimal.Decimal {
	promptCost := decimal.NewFromInt(int64(promptTokens)).Mul(p.Prompt).Div(perMillion)
	completionCost := decimal.NewFromInt(int64(completionTokens)).Mul(p.Completion).Div(perMillion)
	return promptCost.Add(completionCost)
}

// SessionUsage sums the usage recorded on assistant messages.
func SessionUsage(sess domain.ChatSession, p Pricing) UsageReport {
	r := UsageReport{Cost: decimal.Zero}
	for _, m := range sess.Messages {
		if m.Role != domain.RoleAssistant || m.Usage == nil {
			continue
		}
		r.Replies++
		r.PromptTokens += m.Usage.PromptTokens
		r.CompletionTokens += m.Usage.CompletionTokens
		r.TotalTokens += m.Usage.TotalTokens
		r.Cost = r.Cost.Add(CalculateCost(m.Usage.PromptTokens, m.Usage.CompletionTokens, p))
	}
	return r
}

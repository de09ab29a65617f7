package domain

// AIModel describes a model endpoint the transport client can talk to.
// Prices are per 1M tokens and feed the advisory cost estimate only.
type AIModel struct {
	ID              string
	Name            string
	WebhookURL      string
	PromptPrice     float64
	CompletionPrice float64
}

func (m AIModel) IsFree() bool {
	return m.PromptPrice == 0 && m.CompletionPrice == 0
}

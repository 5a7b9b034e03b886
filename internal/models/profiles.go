package models

import (
	"errors"
	"fmt"
	"time"
)

// Source identifies which signal stream contributed to a profile.
type Source string

// Known sources. The string values are the wire names used by the API and jobs.
const (
	SourceChatbot         Source = "chatbot"
	SourcePurchaseHistory Source = "purchase_history"
	SourceWebAnalytics    Source = "web_analytics"
)

// Sources lists every known source.
var Sources = []Source{SourceChatbot, SourcePurchaseHistory, SourceWebAnalytics}

// ErrUnknownSource is returned by ParseSource.
var ErrUnknownSource = errors.New("unknown source")

// ParseSource maps a wire name to a Source.
func ParseSource(s string) (Source, error) {
	for _, src := range Sources {
		if string(src) == s {
			return src, nil
		}
	}

	return "", fmt.Errorf("%w: %q", ErrUnknownSource, s)
}

// CustomerProfile is the fused behavioral profile of one customer.
// Embedding is always the embedding of Description as of the last write.
type CustomerProfile struct {
	CustomerID          int64       `json:"customer_id"`
	Description         string      `json:"description"`
	Embedding           []float32   `json:"-"`
	Taste               TasteVector `json:"taste"`
	LastChatbotUpdate   *time.Time  `json:"last_chatbot_update,omitempty"`
	LastPurchaseUpdate  *time.Time  `json:"last_purchase_update,omitempty"`
	LastAnalyticsUpdate *time.Time  `json:"last_analytics_update,omitempty"`
	IsOnboarded         bool        `json:"is_onboarded"`
	Version             int64       `json:"version"`
	CreatedAt           time.Time   `json:"created_at"`
	UpdatedAt           time.Time   `json:"updated_at"`
}

// Stamp sets the freshness timestamp owned by s and leaves the other two untouched.
func (s Source) Stamp(p *CustomerProfile, now time.Time) {
	t := now

	switch s {
	case SourceChatbot:
		p.LastChatbotUpdate = &t
	case SourcePurchaseHistory:
		p.LastPurchaseUpdate = &t
	case SourceWebAnalytics:
		p.LastAnalyticsUpdate = &t
	}
}

// Signal is one observed behavioral event to be fused into a profile.
type Signal struct {
	CustomerID  int64
	Description string
	Taste       TasteVector
	Source      Source
}

// OnboardingRequest is the body of POST /v1/customers/{customerID}/onboarding.
type OnboardingRequest struct {
	Description string         `json:"description" validate:"required,min=1,max=4000,no_null_bytes"`
	Taste       map[string]any `json:"taste" validate:"required"`
}

// SignalRequest is the body of POST /v1/customers/{customerID}/signals.
type SignalRequest struct {
	Description string         `json:"description" validate:"required,min=1,max=4000,no_null_bytes"`
	Taste       map[string]any `json:"taste" validate:"required"`
	Source      string         `json:"source" validate:"required,oneof=chatbot purchase_history web_analytics"`
}

// OnboardedResponse answers GET /v1/customers/{customerID}/onboarded.
type OnboardedResponse struct {
	Onboarded bool `json:"onboarded"`
}

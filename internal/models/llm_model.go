package models

import "time"

// LLMModel is one catalog entry a project can run iterations with.
type LLMModel struct {
	Key          string `json:"key"`
	DisplayName  string `json:"displayName"`
	APIName      string `json:"apiName"`
	ProviderID   string `json:"providerId"`
	ProviderName string `json:"providerName"`
	Default      bool   `json:"default,omitempty"`
	Enabled      bool   `json:"enabled"`
	// Custom marks a model named in configuration but absent from the catalog.
	Custom bool `json:"custom,omitempty"`

	Iterations int        `json:"iterations"`
	LastUsedAt *time.Time `json:"lastUsedAt,omitempty"`
}

// LLMModelGroup groups models by their provider for listing.
type LLMModelGroup struct {
	ProviderID   string     `json:"providerId"`
	ProviderName string     `json:"providerName"`
	Models       []LLMModel `json:"models"`
}

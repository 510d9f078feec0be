package models

// ResourceRequest is the payload for POST /api/v1/resource and the unit of
// work for the pipeline. It is passed by value and never mutated.
type ResourceRequest struct {
	// URL is the page to fetch. Required.
	URL string `json:"url" binding:"required,url"`

	// Schema is the extraction schema id, e.g. "manhwaindo.detail". Required.
	Schema string `json:"schema" binding:"required"`

	// Page is the pagination cursor. It participates in the cache key so
	// different pages of one listing never collide. Default: 1.
	// Catalog resolution fills it along with the page URL; POST /resource
	// accepts only 1, since it fetches URL unchanged.
	Page int `json:"page,omitempty" binding:"omitempty,min=1"`

	// Strategies optionally restricts the escalation chain to the named
	// strategies ("direct", "proxy", "headless"), keeping chain order.
	Strategies []string `json:"strategies,omitempty"`

	// Timeout bounds the whole call in seconds. Default: 45. Max: 120.
	Timeout int `json:"timeout,omitempty" binding:"omitempty,min=1,max=120"`
}

// Defaults applies default values to unset fields.
func (r *ResourceRequest) Defaults() {
	if r.Page == 0 {
		r.Page = 1
	}
	if r.Timeout == 0 {
		r.Timeout = 45
	}
}

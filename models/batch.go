package models

// BatchRequest is the payload for POST /api/v1/batch.
type BatchRequest struct {
	// Requests are run concurrently. Required, at most 20.
	Requests []ResourceRequest `json:"requests" binding:"required,min=1,max=20,dive"`
}

// BatchResponse is the response for POST /api/v1/batch. Results keep the
// order of the submitted requests.
type BatchResponse struct {
	Status    string              `json:"status"` // "completed", "partial", "failed"
	Completed int                 `json:"completed"`
	Failed    int                 `json:"failed"`
	Total     int                 `json:"total"`
	Results   []*ResourceResponse `json:"results"`
}

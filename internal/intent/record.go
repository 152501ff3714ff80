package intent

// Priority is the urgency the classifier assigns to a request.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

func (p Priority) valid() bool {
	return p == PriorityHigh || p == PriorityMedium || p == PriorityLow
}

// Entity types.
const (
	EntityPerson = "person"
	EntityTime   = "time"
	EntityFile   = "file"
	EntityOther  = "other"
)

// FallbackConfidence marks a record produced without the completion model.
const FallbackConfidence = 0.0

// Record is the classified intent of one request.
type Record struct {
	RawInput        string              `json:"raw_input"`
	Goal            string              `json:"inferred_goal"`
	Entities        map[string][]string `json:"extracted_entities"`
	Priority        Priority            `json:"priority"`
	RequiredWorkers []string            `json:"required_workers"`
	Confidence      float64             `json:"confidence"`
}

// response is the structured output requested from the completion model.
type response struct {
	Goal            string              `json:"inferred_goal"`
	Entities        map[string][]string `json:"entities"`
	Priority        Priority            `json:"priority"`
	RequiredWorkers []string            `json:"required_workers"`
	Confidence      float64             `json:"confidence"`
}

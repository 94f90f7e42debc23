package dto

// ClassifyRequest asks the AI backend to identify the actionable intents in an
// inbound message.
type ClassifyRequest struct {
	AccountEmail string `json:"accountEmail"`
	Persona      string `json:"persona,omitempty"`
	Sender       string `json:"sender"`
	Subject      string `json:"subject"`
	Body         string `json:"body"`
}

type ClassifiedIntent struct {
	ID             string  `json:"id"`
	Name           string  `json:"name"`
	Description    string  `json:"description,omitempty"`
	Confidence     float64 `json:"confidence"`
	Guidance       string  `json:"guidance,omitempty"`
	MeetingRelated bool    `json:"meetingRelated,omitempty"`
}

type ClassifyResponse struct {
	Intents []ClassifiedIntent `json:"intents"`
}

// DraftRequest asks the AI backend for a reply draft. Feedback carries the
// validator's objections when the draft is a redraft attempt.
type DraftRequest struct {
	AccountEmail string             `json:"accountEmail"`
	Persona      string             `json:"persona,omitempty"`
	Sender       string             `json:"sender"`
	Subject      string             `json:"subject"`
	Body         string             `json:"body"`
	Intents      []ClassifiedIntent `json:"intents,omitempty"`
	Knowledge    []KnowledgeItem    `json:"knowledge,omitempty"`
	Feedback     string             `json:"feedback,omitempty"`
}

type DraftResponse struct {
	Draft     string `json:"draft"`
	DraftHTML string `json:"draftHtml,omitempty"`
}

// ValidateRequest asks the AI backend to judge a draft before sending. The
// verdict text starts with PASS when the draft is acceptable.
type ValidateRequest struct {
	AccountEmail string `json:"accountEmail"`
	Persona      string `json:"persona,omitempty"`
	Sender       string `json:"sender"`
	Subject      string `json:"subject"`
	Body         string `json:"body"`
	Draft        string `json:"draft"`
}

type ValidateResponse struct {
	Verdict  string `json:"verdict"`
	Feedback string `json:"feedback,omitempty"`
}

type KnowledgeRequest struct {
	AccountEmail string `json:"accountEmail"`
	Query        string `json:"query"`
	Limit        int    `json:"limit,omitempty"`
}

type KnowledgeItem struct {
	Title   string  `json:"title,omitempty"`
	Content string  `json:"content"`
	Score   float64 `json:"score,omitempty"`
}

type KnowledgeResponse struct {
	Items []KnowledgeItem `json:"items"`
}

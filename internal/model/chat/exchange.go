package chat

// SendRequest is the payload of the backend send-message operation.
type SendRequest struct {
	SessionID string `json:"sessionId"`
	ProjectID string `json:"projectId"`
	Message   string `json:"message"`
}

// Reply is the assistant answer returned by send-message.
type Reply struct {
	Message string   `json:"message"`
	Sources []string `json:"sources"`
}

package models

// ReapRequest is the decoded reaper trigger payload.
type ReapRequest struct {
	Label string `json:"label"`
	Zone  string `json:"zone,omitempty"`
}

// PushEnvelope is the body Pub/Sub posts to a push subscription endpoint.
// Message.Data arrives base64 encoded and is decoded by encoding/json into bytes.
type PushEnvelope struct {
	Message struct {
		Data        []byte            `json:"data"`
		MessageID   string            `json:"messageId"`
		Attributes  map[string]string `json:"attributes,omitempty"`
		PublishTime string            `json:"publishTime,omitempty"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// ReapResponse is returned by the push endpoint and printed by the CLI.
type ReapResponse struct {
	Deleted  []string `json:"deleted"`
	Skipped  []string `json:"skipped,omitempty"`
	Messages []string `json:"messages,omitempty"`
}

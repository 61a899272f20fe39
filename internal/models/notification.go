package models

// Notification is an HR notification intent. Delivery is asynchronous and
// best-effort.
type Notification struct {
	TemplateID string            `json:"template_id"`
	Recipient  string            `json:"recipient"`
	Variables  map[string]string `json:"variables,omitempty"`
	Priority   string            `json:"priority"`
	Channels   []string          `json:"channels"`
}

package newsletter

// PublishRequest is the payload of POST /admin/newsletters. The idempotency key is
// checked by idempotency.ParseKey rather than a struct tag.
type PublishRequest struct {
	Title          string `json:"title" validate:"required,max=200"`
	TextContent    string `json:"text_content" validate:"required"`
	HTMLContent    string `json:"html_content" validate:"required"`
	IdempotencyKey string `json:"idempotency_key"`
}

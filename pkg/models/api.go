package models

// APIError is the JSON error envelope for rejected and failed requests.
// Payment-required rejections carry a checkout link; other classes omit it.
type APIError struct {
	Error       string `json:"error"`
	Message     string `json:"message"`
	PaymentLink string `json:"payment_link,omitempty"`
	Status      int    `json:"status"`
}

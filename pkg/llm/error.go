// Package llm provides the wire representations of chat inference requests
// and responses exchanged between the client core and the relay.
package llm

// ErrorResponse represents an error body returned by the relay.
type ErrorResponse struct {
	Error string `json:"error"`
}

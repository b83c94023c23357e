package models

// ChatRequest is the body of POST /api/chat and /api/chat/complete.
type ChatRequest struct {
	Prompt string `json:"prompt"`
}

// ChatResponse is the buffered chat reply.
type ChatResponse struct {
	Response string `json:"response"`
}

// UploadResponse is returned after a document was extracted and stored.
type UploadResponse struct {
	Message string `json:"message"`
	Length  int    `json:"length"`
}

// HistoryResponse lists the current conversation.
type HistoryResponse struct {
	Turns []Turn `json:"turns"`
}

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
}

// StreamErrorMarker prefixes the error message written into a streamed chat reply when the
// model fails part way through.
const StreamErrorMarker = "⚠️ Error: "

// StreamErrorTrailer is the HTTP trailer carrying the error message of a streamed reply that
// ended with StreamErrorMarker. It is absent on success.
const StreamErrorTrailer = "X-Stream-Error"

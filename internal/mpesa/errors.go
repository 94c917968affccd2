package mpesa

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Daraja's error code while the payer has not yet answered the prompt.
const codeStillProcessing = "500.001.1001"

// APIError is a rejection from the gateway, either a non-2xx response or a
// 2xx response whose ResponseCode is not "0".
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("mpesa: %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("mpesa: %d: %s", e.StatusCode, e.Message)
}

// Pending reports whether the gateway is still waiting on the payer.
func (e *APIError) Pending() bool {
	return e.Code == codeStillProcessing
}

type errorBody struct {
	RequestID    string `json:"requestId"`
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
}

func newAPIError(status int, raw []byte) *APIError {
	var body errorBody
	if err := json.Unmarshal(raw, &body); err == nil && (body.ErrorCode != "" || body.ErrorMessage != "") {
		return &APIError{StatusCode: status, Code: body.ErrorCode, Message: body.ErrorMessage}
	}
	msg := http.StatusText(status)
	if len(raw) > 0 && len(raw) <= 256 {
		msg = string(raw)
	}
	return &APIError{StatusCode: status, Message: msg}
}

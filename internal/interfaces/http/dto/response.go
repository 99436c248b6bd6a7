package dto

// Response is the envelope of every ops API reply
type Response struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *ErrorInfo `json:"error,omitempty"`
}

// ErrorInfo describes a failed request
type ErrorInfo struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

func OK(data any) Response {
	return Response{Success: true, Data: data}
}

func Fail(code, message string) Response {
	return Response{Error: &ErrorInfo{Code: code, Message: message}}
}

// WithRequestID tags a failure with the request it answers
func (r Response) WithRequestID(id string) Response {
	if r.Error != nil {
		info := *r.Error
		info.RequestID = id
		r.Error = &info
	}
	return r
}

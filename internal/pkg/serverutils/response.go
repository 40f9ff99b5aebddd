package serverutils

// Response is the JSON envelope every gateway endpoint returns.
type Response struct {
	Success bool        `json:"success"`
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
	Kind    string      `json:"kind,omitempty"`
}

func SuccessResponse(message string, data interface{}) Response {
	return Response{Success: true, Code: 200, Message: message, Data: data}
}

func ErrorResponse(code int, message string) Response {
	return Response{Success: false, Code: code, Message: message}
}

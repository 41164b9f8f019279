package serverutils

type BaseResponse[T any] struct {
	Success   bool   `json:"success"`
	Code      int    `json:"code"`
	Message   string `json:"message"`
	ErrorType string `json:"error_type,omitempty"`
	Data      T      `json:"data,omitempty"`
}

func SuccessResponse[T any](message string, data T) BaseResponse[T] {
	return BaseResponse[T]{
		Success: true,
		Code:    200,
		Message: message,
		Data:    data,
	}
}

func ErrorResponse(code int, message string) BaseResponse[any] {
	return BaseResponse[any]{
		Success: false,
		Code:    code,
		Message: message,
	}
}

// dataError carries a payload to render alongside an error, such as the
// thread state a failed request left behind.
type dataError struct {
	err  error
	data interface{}
}

func (e *dataError) Error() string { return e.err.Error() }

func (e *dataError) Unwrap() error { return e.err }

// WithData attaches data to err for ErrorHandlerMiddleware. A nil err stays nil.
func WithData(err error, data interface{}) error {
	if err == nil {
		return nil
	}
	return &dataError{err: err, data: data}
}

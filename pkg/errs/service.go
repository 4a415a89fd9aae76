package errs

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ServiceNotFoundError 服务名没有任何配置，调用方不会发起网络请求
type ServiceNotFoundError struct {
	Service string
}

func (e *ServiceNotFoundError) Error() string {
	return fmt.Sprintf("service '%s' not found in service discovery", e.Service)
}

func (e *ServiceNotFoundError) Code() int { return ErrorServiceNotFound }

// ServiceUnavailableError 重试耗尽（或不可重试的 5xx）后返回，携带最后一次观察到的状态
type ServiceUnavailableError struct {
	Service    string
	Attempts   int
	StatusCode int
	Body       string
	Err        error
}

func (e *ServiceUnavailableError) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("service '%s' unavailable after %d attempt(s): server error %d: %s", e.Service, e.Attempts, e.StatusCode, e.Body)
	case e.Err != nil:
		return fmt.Sprintf("service '%s' unavailable after %d attempt(s): %v", e.Service, e.Attempts, e.Err)
	default:
		return fmt.Sprintf("service '%s' unavailable after %d attempt(s)", e.Service, e.Attempts)
	}
}

func (e *ServiceUnavailableError) Unwrap() error { return e.Err }

func (e *ServiceUnavailableError) Code() int { return ErrorServiceUnavailable }

// ClientRequestError 下游返回 4xx，不重试
type ClientRequestError struct {
	Service    string
	StatusCode int
	Body       string
}

func (e *ClientRequestError) Error() string {
	return fmt.Sprintf("service '%s' client error %d: %s", e.Service, e.StatusCode, e.Body)
}

func (e *ClientRequestError) Code() int { return ErrorClientRequest }

// TimeoutError 单次请求超过超时时间，按连接错误同样重试
type TimeoutError struct {
	Service string
	Timeout time.Duration
	Err     error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("request to %s timed out after %s", e.Service, e.Timeout)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

func (e *TimeoutError) Code() int { return ErrorTimeout }

// IsServiceNotFound 判断错误链中是否有 ServiceNotFoundError
func IsServiceNotFound(err error) bool {
	var e *ServiceNotFoundError
	return errors.As(err, &e)
}

// IsServiceUnavailable 判断错误链中是否有 ServiceUnavailableError
func IsServiceUnavailable(err error) bool {
	var e *ServiceUnavailableError
	return errors.As(err, &e)
}

// IsClientRequest 判断错误链中是否有 ClientRequestError
func IsClientRequest(err error) bool {
	var e *ClientRequestError
	return errors.As(err, &e)
}

// IsTimeout 判断错误链中是否有 TimeoutError
func IsTimeout(err error) bool {
	var e *TimeoutError
	return errors.As(err, &e)
}

// HTTPStatus 将调用下游服务的错误翻译为本服务应返回的 HTTP 状态码
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	var (
		notFound    *ServiceNotFoundError
		clientErr   *ClientRequestError
		unavailable *ServiceUnavailableError
		timeout     *TimeoutError
	)
	switch {
	case errors.As(err, &notFound):
		return http.StatusBadGateway
	case errors.As(err, &clientErr):
		return clientErr.StatusCode
	case errors.As(err, &unavailable):
		if errors.As(unavailable.Err, &timeout) {
			return http.StatusGatewayTimeout
		}
		return http.StatusServiceUnavailable
	case errors.As(err, &timeout):
		return http.StatusGatewayTimeout
	}
	switch Code(err) {
	case ErrorArgs:
		return http.StatusBadRequest
	case ErrorUnauthorized, ErrorInvalidToken:
		return http.StatusUnauthorized
	case ErrorNoPermission:
		return http.StatusForbidden
	case ErrorNotFound, ErrorNoUser:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

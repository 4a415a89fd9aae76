package rpcerror

import (
	"errors"
	"net/http"
	"runtime"
	"strconv"
	"strings"

	"github.com/code-sigs/svcbox/pkg/errs"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Domain ErrorInfo.Domain，用来识别本框架写入的业务错误
const Domain = "svcbox"

// RPCError 跨 gRPC 传递的业务错误
type RPCError struct {
	Code    int
	Message string
	Details string
}

func (e *RPCError) Error() string {
	return e.Message
}

// grpcCode 按 HTTP 翻译结果选择 gRPC 状态码
func grpcCode(err error) codes.Code {
	switch errs.HTTPStatus(err) {
	case http.StatusBadRequest:
		return codes.InvalidArgument
	case http.StatusUnauthorized:
		return codes.Unauthenticated
	case http.StatusForbidden:
		return codes.PermissionDenied
	case http.StatusNotFound:
		return codes.NotFound
	case http.StatusBadGateway, http.StatusServiceUnavailable:
		return codes.Unavailable
	case http.StatusGatewayTimeout:
		return codes.DeadlineExceeded
	default:
		return codes.Internal
	}
}

func caller(skip int) string {
	pc, _, line, ok := runtime.Caller(skip + 1)
	if !ok {
		return ""
	}
	funcName := runtime.FuncForPC(pc).Name()
	// 只保留 funcName 的最后3级
	funcParts := strings.Split(funcName, "/")
	if len(funcParts) > 3 {
		funcName = strings.Join(funcParts[len(funcParts)-3:], "/")
	}
	return funcName + ":" + strconv.Itoa(line)
}

func toStatus(e *RPCError, code codes.Code) error {
	st := status.New(code, e.Message)
	info := &errdetails.ErrorInfo{
		Reason: strconv.Itoa(e.Code),
		Domain: Domain,
		Metadata: map[string]string{
			"details": e.Details,
		},
	}
	withDetail, err := st.WithDetails(info)
	if err != nil {
		return st.Err()
	}
	return withDetail.Err()
}

// UnWrap 尝试从 gRPC status 中提取 RPCError
func UnWrap(err error) *RPCError {
	st, ok := status.FromError(err)
	if !ok {
		return nil
	}
	for _, d := range st.Details() {
		info, ok := d.(*errdetails.ErrorInfo)
		if !ok || info.GetDomain() != Domain {
			continue
		}
		code, convErr := strconv.Atoi(info.GetReason())
		if convErr != nil {
			continue
		}
		return &RPCError{Code: code, Message: st.Message(), Details: info.GetMetadata()["details"]}
	}
	return nil
}

// IsRPCError 判断 error 是否携带业务错误码
func IsRPCError(err error) bool {
	return UnWrap(err) != nil
}

// WrapCode 返回带业务码的 gRPC 错误
func WrapCode(code int, msg string) error {
	e := &RPCError{Code: code, Message: msg, Details: caller(1)}
	return toStatus(e, grpcCode(errs.WithCode(errs.New(msg), code)))
}

// Wrap 服务端返回前调用：已是 gRPC status 的错误追加调用位置，其余按 errs 码转换
func Wrap(err error, msgs ...string) error {
	if err == nil {
		return nil
	}
	if e := UnWrap(err); e != nil {
		if len(msgs) > 0 {
			e.Message = e.Message + ", " + strings.Join(msgs, ", ")
		}
		if e.Details == "" {
			e.Details = caller(1)
		} else {
			e.Details = e.Details + "->" + caller(1)
		}
		return toStatus(e, status.Code(err))
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	msg := errs.Message(err)
	if len(msgs) > 0 {
		msg = msg + ", " + strings.Join(msgs, ", ")
	}
	e := &RPCError{Code: errs.Code(err), Message: msg, Details: caller(1)}
	return toStatus(e, grpcCode(err))
}

// FromStatus 客户端收到 gRPC 错误后还原为带业务码的 error，供 HTTP 层翻译
func FromStatus(err error) error {
	if err == nil {
		return nil
	}
	if e := UnWrap(err); e != nil {
		return errs.WithCode(e, e.Code)
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.InvalidArgument:
		return errs.WithCode(errors.New(st.Message()), errs.ErrorArgs)
	case codes.Unauthenticated:
		return errs.WithCode(errors.New(st.Message()), errs.ErrorUnauthorized)
	case codes.PermissionDenied:
		return errs.WithCode(errors.New(st.Message()), errs.ErrorNoPermission)
	case codes.NotFound:
		return errs.WithCode(errors.New(st.Message()), errs.ErrorNotFound)
	}
	return err
}

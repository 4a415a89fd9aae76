package handler

import (
	"context"
	"net/http"
	"reflect"

	"github.com/code-sigs/svcbox/pkg/errs"
	"github.com/code-sigs/svcbox/pkg/logger"
	"github.com/code-sigs/svcbox/pkg/trace"
	"github.com/gin-gonic/gin"
)

type StandardResponse[T any] struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
	Data    T      `json:"data,omitempty"`
}

// ContextInjector 定义上下文注入函数类型
type ContextInjector func(c *gin.Context, ctx context.Context) context.Context

// DefaultContextInjector 透传或生成 traceID，并回写到响应头
func DefaultContextInjector(c *gin.Context, ctx context.Context) context.Context {
	if traceID := c.GetHeader(trace.HeaderTraceID); traceID != "" {
		ctx = trace.WithTraceID(ctx, traceID)
	}
	ctx, traceID := trace.Ensure(ctx)
	c.Header(trace.HeaderTraceID, traceID)
	return ctx
}

func OK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, StandardResponse[any]{Code: 0, Message: "ok", Data: data})
}

// Fail 中断请求并返回错误包
func Fail(c *gin.Context, status int, code int, message string) {
	c.AbortWithStatusJSON(status, StandardResponse[any]{Code: code, Message: message})
}

// WriteError 按错误类型翻译 HTTP 状态码，Data 一定为空
func WriteError(c *gin.Context, err error) {
	status := errs.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		logger.Errorw(c.Request.Context(), "request failed", "path", c.FullPath(), "err", errs.Stack(err))
	}
	Fail(c, status, errs.Code(err), errs.Message(err))
}

// Typed 泛型 handler：GET/DELETE 绑定 query，其余绑定 JSON body，路径参数总会绑定
func Typed[Req any, Resp any](fn func(ctx context.Context, req *Req) (*Resp, error), ctxInjector ContextInjector) gin.HandlerFunc {
	if ctxInjector == nil {
		ctxInjector = DefaultContextInjector
	}
	return func(c *gin.Context) {
		req := new(Req)
		if err := bind(c, req); err != nil {
			Fail(c, http.StatusBadRequest, errs.ErrorArgs, "Invalid request: "+err.Error())
			return
		}
		ctx := ctxInjector(c, c.Request.Context())
		resp, err := fn(ctx, req)
		if err != nil {
			WriteError(c, err)
			return
		}
		OK(c, resp)
	}
}

func bind(c *gin.Context, req any) error {
	if len(c.Params) > 0 {
		if err := c.ShouldBindUri(req); err != nil {
			return err
		}
	}
	switch c.Request.Method {
	case http.MethodGet, http.MethodDelete, http.MethodHead:
		return c.ShouldBindQuery(req)
	default:
		if c.Request.ContentLength == 0 {
			return nil
		}
		return c.ShouldBindJSON(req)
	}
}

// GenericGRPCHandler 适配任意 func(ctx, *Req) (*Resp, error) 签名的方法，如 gRPC 客户端方法
func GenericGRPCHandler(grpcFunc any, ctxInjector ContextInjector) gin.HandlerFunc {
	fnVal := reflect.ValueOf(grpcFunc)
	fnType := fnVal.Type()
	if ctxInjector == nil {
		ctxInjector = DefaultContextInjector
	}

	return func(c *gin.Context) {
		if fnType.Kind() != reflect.Func || fnType.NumIn() != 2 || fnType.NumOut() != 2 {
			Fail(c, http.StatusInternalServerError, errs.ErrorInternal, "invalid grpcFunc signature")
			return
		}

		reqType := fnType.In(1)
		var reqPtr reflect.Value
		if reqType.Kind() == reflect.Ptr {
			reqPtr = reflect.New(reqType.Elem())
		} else {
			reqPtr = reflect.New(reqType)
		}

		if err := c.ShouldBindJSON(reqPtr.Interface()); err != nil {
			Fail(c, http.StatusBadRequest, errs.ErrorArgs, "Invalid request: "+err.Error())
			return
		}

		var reqVal reflect.Value
		if reqType.Kind() == reflect.Ptr {
			reqVal = reqPtr
		} else {
			reqVal = reqPtr.Elem()
		}

		ctx := ctxInjector(c, c.Request.Context())
		out := fnVal.Call([]reflect.Value{reflect.ValueOf(ctx), reqVal})

		if !out[1].IsNil() {
			if err, ok := out[1].Interface().(error); ok {
				WriteError(c, err)
			} else {
				Fail(c, http.StatusInternalServerError, errs.ErrorInternal, "unknown error")
			}
			return
		}
		OK(c, out[0].Interface())
	}
}

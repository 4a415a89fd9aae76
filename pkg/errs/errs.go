package errs

const (
	ErrorInternal     = 500000 //系统异常
	ErrorArgs         = 500001 //参数错误
	ErrorNotFound     = 500002 //记录不存在
	ErrorNoPermission = 500004 //无操作权限
	ErrorNoUser       = 500005 //用户不存在
	ErrorUnauthorized = 500006 //未认证
	ErrorInvalidToken = 500007 //无效token

	ErrorServiceNotFound    = 510001 //服务未注册
	ErrorServiceUnavailable = 510002 //服务不可用（重试耗尽）
	ErrorClientRequest      = 510003 //下游返回 4xx
	ErrorTimeout            = 510004 //单次请求超时
)

// Coder 由携带业务错误码的错误实现
type Coder interface {
	Code() int
}

// Code 返回错误链上第一个错误码，没有则返回 ErrorInternal
func Code(err error) int {
	if err == nil {
		return 0
	}
	for e := err; e != nil; e = unwrapOnce(e) {
		if c, ok := e.(Coder); ok && c.Code() != 0 {
			return c.Code()
		}
	}
	return ErrorInternal
}

func unwrapOnce(err error) error {
	u, ok := err.(interface{ Unwrap() error })
	if !ok {
		return nil
	}
	return u.Unwrap()
}

package errs

import (
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
)

// WrapError 带调用位置和错误码的错误
type WrapError struct {
	msg   string
	code  int
	file  string
	line  int
	cause error
}

// New 创建新错误，记录调用位置
func New(msg string) error {
	file, line := caller(2)
	return &WrapError{msg: msg, file: file, line: line}
}

// Newf 同 New，支持格式化
func Newf(format string, args ...any) error {
	file, line := caller(2)
	return &WrapError{msg: fmt.Sprintf(format, args...), file: file, line: line}
}

// Wrap 包装错误，msg 可为空，不为空则表示本层错误描述
func Wrap(err error, msgs ...string) error {
	if err == nil {
		return nil
	}
	file, line := caller(2)
	return &WrapError{
		msg:   strings.Join(msgs, ", "),
		file:  file,
		line:  line,
		cause: err,
	}
}

// WithCode 为错误设置 code，非 WrapError 会重新包装一层
func WithCode(err error, code int) error {
	if err == nil {
		return nil
	}
	var w *WrapError
	if errors.As(err, &w) {
		w.code = code
		return err
	}
	file, line := caller(2)
	return &WrapError{code: code, file: file, line: line, cause: err}
}

func (e *WrapError) Error() string {
	msg := e.msg
	if e.cause != nil {
		if msg == "" {
			msg = e.cause.Error()
		} else {
			msg = msg + ": " + e.cause.Error()
		}
	}
	if e.code != 0 {
		return fmt.Sprintf("%s:%d [%d] %s", e.file, e.line, e.code, msg)
	}
	return fmt.Sprintf("%s:%d %s", e.file, e.line, msg)
}

func (e *WrapError) Unwrap() error {
	return e.cause
}

func (e *WrapError) Code() int {
	return e.code
}

// Format 实现 %+v 打印完整错误链
func (e *WrapError) Format(s fmt.State, verb rune) {
	switch verb {
	case 'v':
		if s.Flag('+') {
			var err error = e
			for err != nil {
				we, ok := err.(*WrapError)
				if !ok {
					fmt.Fprint(s, err.Error())
					return
				}
				if we.code == 0 {
					fmt.Fprintf(s, "%s:%d: %s", we.file, we.line, we.msg)
				} else {
					fmt.Fprintf(s, "%s:%d: [%d] %s", we.file, we.line, we.code, we.msg)
				}
				err = we.cause
				if err != nil {
					fmt.Fprint(s, " -> ")
				}
			}
			return
		}
		fallthrough
	case 's':
		fmt.Fprint(s, e.Error())
	case 'q':
		fmt.Fprintf(s, "%q", e.Error())
	}
}

// Message 返回不带调用位置的错误描述，用于返回给调用方
func Message(err error) string {
	if err == nil {
		return ""
	}
	we, ok := err.(*WrapError)
	if !ok {
		return err.Error()
	}
	if we.cause == nil {
		return we.msg
	}
	if we.msg == "" {
		return Message(we.cause)
	}
	return we.msg + ": " + Message(we.cause)
}

func Stack(err error) string {
	return fmt.Sprintf("%+v", err)
}

func caller(skip int) (string, int) {
	_, file, line, ok := runtime.Caller(skip)
	if !ok {
		return "unknown", 0
	}
	return shortPath(file, 3), line
}

// shortPath 取文件路径最后 n 级目录
func shortPath(path string, n int) string {
	parts := strings.Split(filepath.ToSlash(path), "/")
	if len(parts) <= n {
		return strings.Join(parts, "/")
	}
	return strings.Join(parts[len(parts)-n:], "/")
}

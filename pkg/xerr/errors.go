package xerr

import (
	"errors"
	"fmt"
	"net/http"
)

// 对外业务错误码
const (
	OK                 = 200
	ServerCommonError  = 5000000
	RequestParamsError = 1001001
	TopicNotFound      = 1004004
	TooManyRequests    = 1003001
	NotUpgradable      = 1001002
)

type CodeError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	err  error
}

func (e *CodeError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("ErrCode:%d, Msg:%s, Err:%v", e.Code, e.Msg, e.err)
	}
	return fmt.Sprintf("ErrCode:%d, Msg:%s", e.Code, e.Msg)
}

func (e *CodeError) Unwrap() error { return e.err }

func NewErrCode(code int) error {
	return &CodeError{Code: code, Msg: MapErrMsg(code)}
}

// Wrap 保留原始错误给日志，对外只露 code/msg
func Wrap(err error, code int, msg string) error {
	if err == nil {
		return nil
	}
	return &CodeError{Code: code, Msg: msg, err: err}
}

func MapErrMsg(code int) string {
	switch code {
	case ServerCommonError:
		return "internal error"
	case RequestParamsError:
		return "bad request"
	case TopicNotFound:
		return "unknown topic"
	case TooManyRequests:
		return "too many requests"
	case NotUpgradable:
		return "websocket upgrade required"
	default:
		return "unknown error"
	}
}

// HTTPStatus 业务码对应的 HTTP 状态
func HTTPStatus(code int) int {
	switch code {
	case OK:
		return http.StatusOK
	case RequestParamsError:
		return http.StatusBadRequest
	case NotUpgradable:
		return http.StatusUpgradeRequired
	case TopicNotFound:
		return http.StatusNotFound
	case TooManyRequests:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// From 非 CodeError 一律当作内部错误
func From(err error) *CodeError {
	var ce *CodeError
	if errors.As(err, &ce) {
		return ce
	}
	return &CodeError{Code: ServerCommonError, Msg: MapErrMsg(ServerCommonError), err: err}
}

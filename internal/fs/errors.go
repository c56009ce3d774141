package fs

import (
	"errors"
	"fmt"
	"net/http"
)

// 错误类别，调用方通过 errors.Is 判断
var (
	// ErrAuth 凭证获取失败或被远端拒绝 (401/403)
	ErrAuth = errors.New("authentication failed")
	// ErrRemoteFetch 列表/下载/上传调用失败 (网络错误或 4xx/5xx)
	ErrRemoteFetch = errors.New("remote request failed")
	// ErrSelection 对文件夹执行了文件操作，或反之，属于调用方错误
	ErrSelection = errors.New("entry kind mismatch")
	// ErrTransform 注入的处理函数失败
	ErrTransform = errors.New("transform failed")
)

// RemoteError 描述一次失败的远端调用
type RemoteError struct {
	Op      string // list / download / upload
	Status  int    // HTTP 状态码，网络错误时为 0
	Code    string // 远端返回的错误码
	Message string
	Err     error // 底层错误 (网络层)
}

func (e *RemoteError) Error() string {
	msg := fmt.Sprintf("%s failed", e.Op)
	if e.Status != 0 {
		msg += fmt.Sprintf(": http %d", e.Status)
	}
	if e.Code != "" {
		msg += " " + e.Code
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap 让 errors.Is 同时匹配 ErrRemoteFetch、ErrAuth 和底层错误
func (e *RemoteError) Unwrap() []error {
	errs := []error{ErrRemoteFetch}
	if e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden {
		errs = append(errs, ErrAuth)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// IsNotFound 判断是否为 404，常见于会话中文件夹被删除或移动
func IsNotFound(err error) bool {
	var re *RemoteError
	return errors.As(err, &re) && re.Status == http.StatusNotFound
}

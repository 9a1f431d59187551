package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"pivotaltoshortcut/utils"
)

// APIError はShortcut APIが2xx以外を返したときのエラーです
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s %s: status=%d body=%s", e.Method, e.Path, e.StatusCode, strings.TrimSpace(e.Body))
}

// IsNotFound はエラーが404応答によるものかを判定します
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// retryable は再試行する価値のある応答かを判定します。
// 429 は常に、5xx は冪等なメソッドのみ再試行します。
func retryable(method string, status int) bool {
	if status == http.StatusTooManyRequests {
		return true
	}
	if status >= 500 {
		return idempotent(method)
	}
	return false
}

func idempotent(method string) bool {
	switch method {
	case http.MethodGet, http.MethodDelete, http.MethodPut, http.MethodHead:
		return true
	}
	return false
}

// WithExitCode はAPIエラーなら ExitAPI、それ以外は ExitFailure の終了コードを付与します
func WithExitCode(err error) error {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return utils.WithCode(utils.ExitAPI, err)
	}
	return utils.WithCode(utils.ExitFailure, err)
}

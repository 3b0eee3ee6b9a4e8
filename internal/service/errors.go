// Package service 包含了应用的业务逻辑层。
package service

import "errors"

var (
	// ErrInvalidInput 表示请求参数不合法，handler 映射为 400。
	ErrInvalidInput = errors.New("invalid input")
	// ErrStorage 表示持久化失败，handler 映射为 500。
	ErrStorage = errors.New("storage failure")
)

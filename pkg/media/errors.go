package media

import "errors"

var (
	ErrNetwork      = errors.New("network failure")
	ErrParse        = errors.New("parse failure")
	ErrNotFound     = errors.New("not found")
	ErrNativeModule = errors.New("native module failure")
	// ErrUnsupported 该来源不支持此操作
	ErrUnsupported = errors.New("operation not supported by source")
	// ErrSuperseded 搜索结果已被更新的搜索取代
	ErrSuperseded = errors.New("search superseded by a newer one")
)

package sgv

import (
	"errors"

	jerrors "github.com/juju/errors"
)

var (
	// 参数错误
	ErrInvalidArg = errors.New("invalid argument")

	// 内存错误
	ErrNoMemory = errors.New("out of memory")

	// 池共享错误
	ErrBusy = errors.New("pool name is claimed by an incompatible owner")

	ErrPoolDestroyed = errors.New("pool has been destroyed")
)

// SGVError 分配器错误结构
type SGVError struct {
	Op  string // 操作名称
	Err error  // 原始错误
}

func (e *SGVError) Error() string {
	if e.Err == nil {
		return "<nil>"
	}
	return e.Op + ": " + e.Err.Error()
}

// Unwrap returns the cause of the wrapped error, looking through
// juju/errors annotations so that errors.Is and the IsX helpers reach the
// sentinel.
func (e *SGVError) Unwrap() error {
	return jerrors.Cause(e.Err)
}

// NewError 创建新的分配器错误
func NewError(op string, err error) error {
	return &SGVError{
		Op:  op,
		Err: err,
	}
}

// IsInvalidArg 检查是否为参数错误
func IsInvalidArg(err error) bool {
	return errors.Is(err, ErrInvalidArg)
}

// IsNoMemory 检查是否为内存不足错误
func IsNoMemory(err error) bool {
	return errors.Is(err, ErrNoMemory)
}

// IsBusy 检查是否为池名冲突错误
func IsBusy(err error) bool {
	return errors.Is(err, ErrBusy)
}

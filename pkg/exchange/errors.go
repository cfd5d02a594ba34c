package exchange

import (
	"errors"
	"fmt"

	"github.com/adshao/go-binance/v2/common"
)

var (
	ErrUnknown             = errors.New("unknown exchange error")
	ErrInvalidRequest      = errors.New("invalid price or quantity")
	ErrOrderRejected       = errors.New("order rejected by exchange")
	ErrOrderNotFound       = errors.New("order not found on exchange")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrRateLimited         = errors.New("exchange rate limit exceeded")
	ErrAuthentication      = errors.New("exchange authentication failed")
	ErrUnknownSymbol       = errors.New("unknown symbol")
	ErrConnection          = errors.New("exchange connection failed")
)

// Error 交易所调用失败
type Error struct {
	Op   string
	Code int64
	Err  error
}

func (e *Error) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s: code %d: %v", e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// wrapError 将币安API错误码映射为通用错误
func wrapError(op string, err error) error {
	if err == nil {
		return nil
	}

	var apiErr *common.APIError
	if !errors.As(err, &apiErr) {
		return &Error{Op: op, Err: fmt.Errorf("%w: %v", ErrConnection, err)}
	}

	var mapped error
	switch apiErr.Code {
	case -1003:
		mapped = ErrRateLimited
	case -1021, -1022, -2014, -2015:
		mapped = ErrAuthentication
	case -1013, -1100, -1101, -1102, -1111, -1115, -1116, -1117:
		mapped = ErrInvalidRequest
	case -1121:
		mapped = ErrUnknownSymbol
	case -2010:
		if apiErr.Message == "Account has insufficient balance for requested action." {
			mapped = ErrInsufficientBalance
		} else {
			mapped = ErrOrderRejected
		}
	case -2013:
		mapped = ErrOrderNotFound
	default:
		mapped = ErrUnknown
	}
	return &Error{Op: op, Code: apiErr.Code, Err: fmt.Errorf("%w: %s", mapped, apiErr.Message)}
}

package result

import (
	"fmt"
	"sort"
	"sync"
)

// Result 操作结果：成功时携带值，失败时携带错误描述
type Result[T any] struct {
	Value  T        `json:"value"`
	Errors []string `json:"errors,omitempty"`
}

// Ok 成功结果
func Ok[T any](value T) Result[T] {
	return Result[T]{Value: value}
}

// Succeeded 没有任何错误即成功
func (r Result[T]) Succeeded() bool {
	return len(r.Errors) == 0
}

// Empty 无返回值的操作
type Empty struct{}

// Collector 并发安全的错误汇总
type Collector struct {
	mu     sync.Mutex
	errors []string
}

// Add 记录一条错误
func (c *Collector) Add(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	c.mu.Lock()
	c.errors = append(c.errors, msg)
	c.mu.Unlock()
}

// Errors 已记录的错误，按字典序排列
func (c *Collector) Errors() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.errors) == 0 {
		return nil
	}
	out := make([]string, len(c.errors))
	copy(out, c.errors)
	sort.Strings(out)
	return out
}

// Len 错误数量
func (c *Collector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.errors)
}

// Collect 以 value 构造结果，有错误时结果为失败但仍携带 value
func Collect[T any](c *Collector, value T) Result[T] {
	return Result[T]{Value: value, Errors: c.Errors()}
}

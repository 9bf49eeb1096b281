package xsched

import (
	"testing"

	"go.uber.org/goleak"
)

// TestMain 在所有测试完成后检测 goroutine 泄漏。
// 放弃式取消的测试会留下被摘除的 worker goroutine，各测试自行
// 保证回调及时返回，这里不设白名单。
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

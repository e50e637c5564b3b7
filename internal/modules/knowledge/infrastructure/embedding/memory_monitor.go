package embedding

import (
	"runtime"
	"runtime/debug"
)

// MemoryMonitor 进程内存水位探测，批处理调度器据此收缩批次。
// 做成接口方便测试注入假水位
type MemoryMonitor interface {
	// UsedMB 当前进程堆占用（MB）
	UsedMB() int
	// ForceRelease 把空闲内存还给操作系统
	ForceRelease()
}

type RuntimeMemoryMonitor struct{}

func NewRuntimeMemoryMonitor() *RuntimeMemoryMonitor {
	return &RuntimeMemoryMonitor{}
}

func (m *RuntimeMemoryMonitor) UsedMB() int {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)
	return int(stats.HeapAlloc / (1024 * 1024))
}

func (m *RuntimeMemoryMonitor) ForceRelease() {
	debug.FreeOSMemory()
}

var _ MemoryMonitor = (*RuntimeMemoryMonitor)(nil)

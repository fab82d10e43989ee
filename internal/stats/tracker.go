// Package stats keeps a short resource usage history for allocations.
package stats

import (
	"sync"
	"time"

	"github.com/five82/alloclog/internal/nomad"
)

// DefaultHistory is the number of samples a Tracker keeps per series.
const DefaultHistory = 60

// Sample is one point of a usage series. Used is MHz for CPU and bytes for
// memory. Percent is Used over the reservation, 0 when nothing is reserved.
type Sample struct {
	Time    time.Time
	Used    float64
	Percent float64
}

// TaskSample is the latest usage of one task.
type TaskSample struct {
	CPU    Sample
	Memory Sample
}

type reservation struct {
	cpuMHz   int64
	memoryMB int64
}

// Tracker accumulates samples for one allocation.
type Tracker struct {
	mu       sync.RWMutex
	allocID  string
	size     int
	reserved reservation
	tasks    map[string]reservation
	cpu      []Sample
	memory   []Sample
	latest   map[string]TaskSample
	lastAt   time.Time
}

// NewTracker returns a tracker for alloc keeping size samples per series.
func NewTracker(alloc *nomad.Allocation, size int) *Tracker {
	if size <= 0 {
		size = DefaultHistory
	}
	t := &Tracker{size: size, latest: map[string]TaskSample{}}
	t.SetAllocation(alloc)
	return t
}

// SetAllocation refreshes the reservations used for percentages.
func (t *Tracker) SetAllocation(alloc *nomad.Allocation) {
	if alloc == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.allocID = alloc.ID
	t.reserved = reservation{cpuMHz: alloc.ReservedCPU(), memoryMB: alloc.ReservedMemory()}
	t.tasks = map[string]reservation{}
	if alloc.AllocatedResources != nil {
		for name, res := range alloc.AllocatedResources.Tasks {
			t.tasks[name] = reservation{cpuMHz: res.Cpu.CpuShares, memoryMB: res.Memory.MemoryMB}
		}
	}
}

// AllocID returns the allocation this tracker belongs to.
func (t *Tracker) AllocID() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.allocID
}

// Append records usage. Frames with a timestamp not newer than the last one
// are ignored.
func (t *Tracker) Append(usage *nomad.AllocResourceUsage) {
	if usage == nil {
		return
	}
	at := usage.Time()
	if at.IsZero() {
		at = time.Now()
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.lastAt.IsZero() && !at.After(t.lastAt) {
		return
	}
	t.lastAt = at

	t.cpu = push(t.cpu, cpuSample(at, usage.ResourceUsage.CpuStats, t.reserved.cpuMHz), t.size)
	t.memory = push(t.memory, memorySample(at, usage.ResourceUsage.MemoryStats, t.reserved.memoryMB), t.size)

	for name, task := range usage.Tasks {
		res := t.tasks[name]
		t.latest[name] = TaskSample{
			CPU:    cpuSample(at, task.ResourceUsage.CpuStats, res.cpuMHz),
			Memory: memorySample(at, task.ResourceUsage.MemoryStats, res.memoryMB),
		}
	}
}

// CPU returns a copy of the CPU series, oldest first.
func (t *Tracker) CPU() []Sample {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]Sample(nil), t.cpu...)
}

// Memory returns a copy of the memory series, oldest first.
func (t *Tracker) Memory() []Sample {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]Sample(nil), t.memory...)
}

// Latest returns the newest CPU and memory samples.
func (t *Tracker) Latest() (cpu, memory Sample, ok bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.cpu) == 0 {
		return Sample{}, Sample{}, false
	}
	return t.cpu[len(t.cpu)-1], t.memory[len(t.memory)-1], true
}

// Task returns the latest sample of one task.
func (t *Tracker) Task(name string) (TaskSample, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.latest[name]
	return s, ok
}

// Reserved returns the allocation's CPU (MHz) and memory (MiB) reservation.
func (t *Tracker) Reserved() (cpuMHz, memoryMB int64) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.reserved.cpuMHz, t.reserved.memoryMB
}

func cpuSample(at time.Time, cpu nomad.CpuStats, reservedMHz int64) Sample {
	s := Sample{Time: at, Used: cpu.TotalTicks}
	if reservedMHz > 0 {
		s.Percent = cpu.TotalTicks / float64(reservedMHz)
	}
	return s
}

// memorySample prefers RSS and falls back to Usage for drivers that do not
// report it.
func memorySample(at time.Time, mem nomad.MemoryStats, reservedMB int64) Sample {
	used := mem.RSS
	if used == 0 {
		used = mem.Usage
	}
	s := Sample{Time: at, Used: float64(used)}
	if reservedMB > 0 {
		s.Percent = float64(used) / float64(reservedMB*1024*1024)
	}
	return s
}

func push(series []Sample, s Sample, size int) []Sample {
	series = append(series, s)
	if len(series) > size {
		series = append(series[:0:0], series[len(series)-size:]...)
	}
	return series
}

package nomad

import (
	"sort"
	"time"
)

// Allocation mirrors the subset of /v1/allocation/:id alloclog uses.
type Allocation struct {
	ID                 string               `json:"ID"`
	Name               string               `json:"Name"`
	Namespace          string               `json:"Namespace"`
	NodeID             string               `json:"NodeID"`
	NodeName           string               `json:"NodeName"`
	JobID              string               `json:"JobID"`
	TaskGroup          string               `json:"TaskGroup"`
	ClientStatus       string               `json:"ClientStatus"`
	DesiredStatus      string               `json:"DesiredStatus"`
	TaskStates         map[string]TaskState `json:"TaskStates"`
	AllocatedResources *AllocatedResources  `json:"AllocatedResources"`
	CreateTime         int64                `json:"CreateTime"`
	ModifyTime         int64                `json:"ModifyTime"`
}

// AllocationStub is an entry of the /v1/allocations list.
type AllocationStub struct {
	ID           string `json:"ID"`
	Name         string `json:"Name"`
	NodeID       string `json:"NodeID"`
	ClientStatus string `json:"ClientStatus"`
}

// TaskState reports the lifecycle of one task in an allocation.
type TaskState struct {
	State      string `json:"State"`
	Failed     bool   `json:"Failed"`
	Restarts   int    `json:"Restarts"`
	StartedAt  string `json:"StartedAt"`
	FinishedAt string `json:"FinishedAt"`
}

// AllocatedResources holds per-task reservations.
type AllocatedResources struct {
	Tasks map[string]AllocatedTaskResources `json:"Tasks"`
}

// AllocatedTaskResources is the reservation for a single task.
type AllocatedTaskResources struct {
	Cpu    AllocatedCPU    `json:"Cpu"`
	Memory AllocatedMemory `json:"Memory"`
}

// AllocatedCPU is a CPU reservation in MHz.
type AllocatedCPU struct {
	CpuShares int64 `json:"CpuShares"`
}

// AllocatedMemory is a memory reservation in MiB.
type AllocatedMemory struct {
	MemoryMB    int64 `json:"MemoryMB"`
	MemoryMaxMB int64 `json:"MemoryMaxMB"`
}

// IsRunning reports whether the allocation is running on its client.
func (a Allocation) IsRunning() bool {
	return a.ClientStatus == "running"
}

// ShortID returns the first eight characters of the allocation ID.
func (a Allocation) ShortID() string {
	if len(a.ID) > 8 {
		return a.ID[:8]
	}
	return a.ID
}

// TaskNames returns the allocation's task names in sorted order.
func (a Allocation) TaskNames() []string {
	names := make([]string, 0, len(a.TaskStates))
	for name := range a.TaskStates {
		names = append(names, name)
	}
	if len(names) == 0 && a.AllocatedResources != nil {
		for name := range a.AllocatedResources.Tasks {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// ReservedCPU sums the CPU reservation of all tasks in MHz.
func (a Allocation) ReservedCPU() int64 {
	if a.AllocatedResources == nil {
		return 0
	}
	var total int64
	for _, t := range a.AllocatedResources.Tasks {
		total += t.Cpu.CpuShares
	}
	return total
}

// ReservedMemory sums the memory reservation of all tasks in MiB.
func (a Allocation) ReservedMemory() int64 {
	if a.AllocatedResources == nil {
		return 0
	}
	var total int64
	for _, t := range a.AllocatedResources.Tasks {
		total += t.Memory.MemoryMB
	}
	return total
}

// Node mirrors the subset of /v1/node/:id alloclog uses.
type Node struct {
	ID         string `json:"ID"`
	Name       string `json:"Name"`
	Datacenter string `json:"Datacenter"`
	HTTPAddr   string `json:"HTTPAddr"`
	Status     string `json:"Status"`
}

// AllocResourceUsage mirrors /v1/client/allocation/:id/stats.
type AllocResourceUsage struct {
	ResourceUsage ResourceUsage                `json:"ResourceUsage"`
	Tasks         map[string]TaskResourceUsage `json:"Tasks"`
	Timestamp     int64                        `json:"Timestamp"`
}

// TaskResourceUsage is the usage of a single task.
type TaskResourceUsage struct {
	ResourceUsage ResourceUsage `json:"ResourceUsage"`
	Timestamp     int64         `json:"Timestamp"`
}

// ResourceUsage groups memory and CPU stats.
type ResourceUsage struct {
	MemoryStats MemoryStats `json:"MemoryStats"`
	CpuStats    CpuStats    `json:"CpuStats"`
}

// MemoryStats is reported in bytes.
type MemoryStats struct {
	RSS      uint64 `json:"RSS"`
	Cache    uint64 `json:"Cache"`
	Swap     uint64 `json:"Swap"`
	Usage    uint64 `json:"Usage"`
	MaxUsage uint64 `json:"MaxUsage"`
}

// CpuStats reports ticks in MHz and utilisation in percent.
type CpuStats struct {
	SystemMode float64 `json:"SystemMode"`
	UserMode   float64 `json:"UserMode"`
	TotalTicks float64 `json:"TotalTicks"`
	Percent    float64 `json:"Percent"`
}

// Time converts the nanosecond timestamp to time.Time.
func (u AllocResourceUsage) Time() time.Time {
	if u.Timestamp == 0 {
		return time.Time{}
	}
	return time.Unix(0, u.Timestamp)
}

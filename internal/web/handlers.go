package web

import (
	"net/http"
	"slices"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/five82/alloclog/internal/stats"
)

// StatusResponse describes the controller and the allocation.
type StatusResponse struct {
	State        string     `json:"state"`
	Message      string     `json:"message,omitempty"`
	Transport    string     `json:"transport"`
	Pointer      string     `json:"pointer"`
	Kind         string     `json:"kind"`
	Task         string     `json:"task"`
	Type         string     `json:"type"`
	Tasks        []string   `json:"tasks,omitempty"`
	Streaming    bool       `json:"streaming"`
	LogsDisabled bool       `json:"logsDisabled"`
	Session      string     `json:"session"`
	Offset       int64      `json:"offset"`
	Error        string     `json:"error,omitempty"`
	Updated      time.Time  `json:"updated"`
	Allocation   *AllocInfo `json:"allocation,omitempty"`
	Usage        *UsageInfo `json:"usage,omitempty"`
}

// AllocInfo is the polled allocation record.
type AllocInfo struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	ClientStatus string `json:"clientStatus"`
	Offline      bool   `json:"offline"`
}

// UsageInfo is the latest resource sample, formatted for display.
type UsageInfo struct {
	CPU           string  `json:"cpu"`
	CPUPercent    float64 `json:"cpuPercent"`
	Memory        string  `json:"memory"`
	MemoryPercent float64 `json:"memoryPercent"`
}

// OutputResponse carries the rendered log with its status.
type OutputResponse struct {
	Status StatusResponse `json:"status"`
	HTML   string         `json:"html"`
}

func (s *Server) index(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", indexHTML)
}

func (s *Server) status(c *gin.Context) {
	c.JSON(http.StatusOK, s.statusResponse())
}

func (s *Server) output(c *gin.Context) {
	c.JSON(http.StatusOK, s.outputResponse())
}

func (s *Server) stream(c *gin.Context) {
	s.opts.Controller.StartStreaming(s.ctx)
	c.JSON(http.StatusOK, s.statusResponse())
}

// head and tail block until the fetch settles, so the response already
// holds the new output.
func (s *Server) head(c *gin.Context) {
	s.opts.Controller.GotoHead(s.ctx)
	c.JSON(http.StatusOK, s.outputResponse())
}

func (s *Server) tail(c *gin.Context) {
	s.opts.Controller.GotoTail(s.ctx)
	c.JSON(http.StatusOK, s.outputResponse())
}

func (s *Server) stop(c *gin.Context) {
	s.opts.Controller.Stop()
	c.JSON(http.StatusOK, s.statusResponse())
}

func (s *Server) setType(c *gin.Context) {
	typ := c.Param("type")
	if typ != "stdout" && typ != "stderr" {
		c.AbortWithStatusJSON(http.StatusBadRequest, errorBody("INVALID_TYPE", "type must be stdout or stderr"))
		return
	}
	p := s.opts.Controller.Status().Params
	p.Type = typ
	s.opts.Controller.Switch(s.ctx, p)
	c.JSON(http.StatusOK, s.outputResponse())
}

func (s *Server) setTask(c *gin.Context) {
	task := c.Param("task")
	if !slices.Contains(s.opts.Tasks, task) {
		c.AbortWithStatusJSON(http.StatusNotFound, errorBody("UNKNOWN_TASK", "no task "+task+" in allocation"))
		return
	}
	p := s.opts.Controller.Status().Params
	p.Task = task
	s.opts.Controller.Switch(s.ctx, p)
	c.JSON(http.StatusOK, s.outputResponse())
}

func (s *Server) outputResponse() OutputResponse {
	return OutputResponse{
		Status: s.statusResponse(),
		HTML:   s.opts.Controller.Output(),
	}
}

func (s *Server) statusResponse() StatusResponse {
	st := s.opts.Controller.Status()
	resp := StatusResponse{
		State:        st.State.String(),
		Message:      st.Message(),
		Transport:    st.Transport.String(),
		Pointer:      st.Pointer.String(),
		Kind:         st.Kind.String(),
		Task:         st.Params.Task,
		Type:         st.Params.Values().Get("type"),
		Tasks:        s.opts.Tasks,
		Streaming:    st.Streaming,
		LogsDisabled: st.LogsDisabled,
		Session:      st.Session,
		Offset:       st.Offset,
		Updated:      st.Updated,
	}
	if st.Err != nil {
		resp.Error = st.Err.Error()
	}

	if s.opts.Store != nil {
		snap := s.opts.Store.Snapshot()
		if snap.HasAllocation {
			resp.Allocation = &AllocInfo{
				ID:           snap.Allocation.ID,
				Name:         snap.Allocation.Name,
				ClientStatus: snap.Allocation.ClientStatus,
				Offline:      snap.IsOffline(),
			}
		}
	}
	if s.opts.Stats != nil {
		if tracker, ok := s.opts.Stats.Lookup(s.opts.AllocID); ok {
			if cpu, mem, ok := tracker.Latest(); ok {
				resp.Usage = &UsageInfo{
					CPU:           stats.FormatHertz(cpu.Used),
					CPUPercent:    cpu.Percent,
					Memory:        stats.FormatBytes(mem.Used),
					MemoryPercent: mem.Percent,
				}
			}
		}
	}
	return resp
}

package manager

import (
	"time"

	"mlcserve/pkg/types"
)

// Status builds a detailed status response for /status.
func (m *Manager) Status() types.StatusResponse {
	m.mu.RLock()
	defer m.mu.RUnlock()
	now := time.Now()
	resp := types.StatusResponse{
		State:          string(m.state),
		DefaultModel:   m.model.ID,
		Models:         []types.Model{},
		Error:          m.err,
		ServerTimeUnix: now.Unix(),
	}
	if m.model.ID != "" {
		resp.Models = append(resp.Models, m.model)
	}
	if !m.startTime.IsZero() {
		resp.UptimeSeconds = int64(now.Sub(m.startTime) / time.Second)
	}
	return resp
}

// Package sysinfo provides an on-demand snapshot of host state for the health
// endpoint and the get_specs command. Nothing is cached: each snapshot
// reflects the state at the moment it is taken.
package sysinfo

import (
	"os"
	"os/user"
	"runtime"
	"time"
)

// Info is one point-in-time host snapshot.
type Info struct {
	Name            string    `json:"name"`
	User            string    `json:"user,omitempty"`
	Status          string    `json:"status"`
	OS              string    `json:"os"`
	Arch            string    `json:"arch"`
	NumCPU          int       `json:"num_cpu"`
	GoVersion       string    `json:"go_version"`
	Uptime          string    `json:"uptime"`
	LastHealthCheck time.Time `json:"last_health_check"`
}

// Provider computes snapshots. AgentName overrides the hostname when set.
type Provider struct {
	AgentName string
	startedAt time.Time
}

// NewProvider creates a provider anchored at the agent start time.
func NewProvider(agentName string) *Provider {
	return &Provider{AgentName: agentName, startedAt: time.Now()}
}

// Snapshot returns the current host state. Computed fresh on every call.
func (p *Provider) Snapshot() Info {
	name := p.AgentName
	if name == "" {
		if h, err := os.Hostname(); err == nil {
			name = h
		}
	}
	username := ""
	if u, err := user.Current(); err == nil {
		username = u.Username
	}
	return Info{
		Name:            name,
		User:            username,
		Status:          "healthy",
		OS:              runtime.GOOS,
		Arch:            runtime.GOARCH,
		NumCPU:          runtime.NumCPU(),
		GoVersion:       runtime.Version(),
		Uptime:          time.Since(p.startedAt).Round(time.Second).String(),
		LastHealthCheck: time.Now().UTC(),
	}
}

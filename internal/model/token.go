package model

import "time"

// DeployToken is a per-tool long-lived secret (spec.md §3). At most one
// exists per tool at any time.
type DeployToken struct {
	Tool         string    `json:"tool"`
	Token        string    `json:"token"`
	CreationDate time.Time `json:"creation_date"`
}

// Expired reports whether the token is older than lifetime.
func (t DeployToken) Expired(lifetime time.Duration, now time.Time) bool {
	return now.Sub(t.CreationDate) > lifetime
}

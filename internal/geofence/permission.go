package geofence

import "sync/atomic"

// Permission is the location-access capability handed to a Monitor at construction.
// The platform layer flips it; the monitor only reads it.
type Permission struct {
	granted atomic.Bool
}

func NewPermission(granted bool) *Permission {
	p := &Permission{}
	p.granted.Store(granted)
	return p
}

func (p *Permission) Allowed() bool { return p != nil && p.granted.Load() }
func (p *Permission) Grant()        { p.granted.Store(true) }
func (p *Permission) Revoke()       { p.granted.Store(false) }

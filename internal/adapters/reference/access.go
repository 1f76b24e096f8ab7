package reference

import (
	"context"
	"sync"
)

// AnyStation grants access to every work station.
const AnyStation = "*"

// StationAccess is an in-memory Authorizer built from actor to work-station
// assignments. Steps without a work station are open to every actor.
type StationAccess struct {
	mu     sync.RWMutex
	grants map[string]map[string]struct{}
}

func NewStationAccess() *StationAccess {
	return &StationAccess{grants: make(map[string]map[string]struct{})}
}

func (a *StationAccess) Grant(actor string, stations ...string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	set, ok := a.grants[actor]
	if !ok {
		set = make(map[string]struct{})
		a.grants[actor] = set
	}
	for _, station := range stations {
		set[station] = struct{}{}
	}
}

func (a *StationAccess) Revoke(actor string, stations ...string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	set := a.grants[actor]
	for _, station := range stations {
		delete(set, station)
	}
}

func (a *StationAccess) CanAccessWorkStation(ctx context.Context, actor, workStationID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if workStationID == "" {
		return true, nil
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	set := a.grants[actor]
	if _, ok := set[AnyStation]; ok {
		return true, nil
	}
	_, ok := set[workStationID]
	return ok, nil
}

// Package presence diffs the live controller feed against the persisted
// online map and stages state transitions for watched CIDs.
package presence

import (
	"time"

	"github.com/RealLeviticus/vatpaccurrency/internal/logger"
	"github.com/RealLeviticus/vatpaccurrency/internal/store"
	"github.com/RealLeviticus/vatpaccurrency/internal/vatsim"
)

// Notification debounce windows. Cooldowns suppress repeated transition
// events; they are never consulted for state correctness.
const (
	CooldownOnline  = 15 * time.Minute
	CooldownOffline = 15 * time.Minute
)

// Info is the last-known position details for a controller.
type Info struct {
	Callsign  string `json:"callsign"`
	Frequency string `json:"frequency,omitempty"`
	Name      string `json:"name,omitempty"`
	LastSeen  int64  `json:"last_seen"`
}

// State is one controller's persisted online state.
type State struct {
	Online     bool  `json:"online"`
	LastChange int64 `json:"last_change"`
	LastInfo   Info  `json:"last_info"`
}

// cooldownMarker is the debounce entry persisted per transition event.
type cooldownMarker struct {
	ExpiresAt int64 `json:"expiresAt"`
}

// Tracker stages presence transitions into the store.
type Tracker struct {
	store *store.Store
	log   *logger.Logger
	now   func() time.Time
}

// New creates a tracker over a loaded store.
func New(st *store.Store, log *logger.Logger) *Tracker {
	return &Tracker{
		store: st,
		log:   log.WithModule("presence"),
		now:   time.Now,
	}
}

// Track compares the live feed against the persisted online map for the
// watched CIDs and stages any transitions. Steady states are not written,
// so a stable feed leaves the store clean. Returns the transition count.
func (t *Tracker) Track(watched []string, live []vatsim.Controller) (int, error) {
	watchSet := make(map[string]struct{}, len(watched))
	for _, cid := range watched {
		watchSet[cid] = struct{}{}
	}

	now := t.now().Unix()
	nowOnline := make(map[string]Info)
	for _, ctrl := range live {
		if _, ok := watchSet[ctrl.CID]; !ok {
			continue
		}
		nowOnline[ctrl.CID] = Info{
			Callsign:  ctrl.Callsign,
			Frequency: ctrl.Frequency,
			Name:      ctrl.Name,
			LastSeen:  now,
		}
	}

	state := make(map[string]State)
	if _, err := t.store.Get(store.KeyOnlineState, &state); err != nil {
		return 0, err
	}

	transitions := 0
	for cid := range union(state, nowOnline) {
		prev, wasOnline := state[cid]
		info, isOnline := nowOnline[cid]
		wasOnline = wasOnline && prev.Online

		switch {
		case !wasOnline && isOnline:
			state[cid] = State{Online: true, LastChange: now, LastInfo: info}
			transitions++
			t.notifyOnline(cid, info, now)

		case wasOnline && !isOnline:
			// Keep the last-known info for display after disconnect.
			state[cid] = State{Online: false, LastChange: now, LastInfo: prev.LastInfo}
			transitions++
			t.notifyOffline(cid, now)
		}
	}

	if transitions > 0 {
		if err := t.store.Set(store.KeyOnlineState, state); err != nil {
			return 0, err
		}
	}
	return transitions, nil
}

// notifyOnline emits an online event unless the per-callsign cooldown is
// still active, and arms the cooldown either way the event fires.
func (t *Tracker) notifyOnline(cid string, info Info, now int64) {
	key := store.CooldownOnlineKey(cid, info.Callsign)
	if t.cooldownActive(key, now) {
		return
	}
	t.log.WithFields(map[string]any{
		"cid":      cid,
		"callsign": info.Callsign,
	}).Info("Controller online")
	_ = t.store.Set(key, cooldownMarker{ExpiresAt: now + int64(CooldownOnline.Seconds())})
}

func (t *Tracker) notifyOffline(cid string, now int64) {
	key := store.CooldownOfflineKey(cid)
	if t.cooldownActive(key, now) {
		return
	}
	t.log.WithField("cid", cid).Info("Controller offline")
	_ = t.store.Set(key, cooldownMarker{ExpiresAt: now + int64(CooldownOffline.Seconds())})
}

func (t *Tracker) cooldownActive(key string, now int64) bool {
	var marker cooldownMarker
	ok, err := t.store.Get(key, &marker)
	return err == nil && ok && marker.ExpiresAt > now
}

func union(a map[string]State, b map[string]Info) map[string]struct{} {
	out := make(map[string]struct{}, len(a)+len(b))
	for k := range a {
		out[k] = struct{}{}
	}
	for k := range b {
		out[k] = struct{}{}
	}
	return out
}

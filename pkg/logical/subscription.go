package logical

import (
	"time"

	"github.com/loom-protocol/loom-go/pkg/log"
	"github.com/loom-protocol/loom-go/pkg/wire"
)

// never is the timestamp that no tick ever reaches.
const never = ^uint64(0)

// Subscriber is one remote device's standing request for callbacks.
type Subscriber struct {
	// Addr is the subscriber's logical address.
	Addr Address

	// ID is the peer-chosen subscription id.
	ID uint32

	// ActionID is the subscribed action.
	ActionID uint16

	// Period is the callback interval in milliseconds; 0 disables
	// periodic fires, leaving only expiry.
	Period uint32

	// EndTime is the absolute expiry, microseconds.
	EndTime uint64

	// NextFire is the absolute next periodic fire time, microseconds;
	// never when Period is 0.
	NextFire uint64
}

// SubscriptionManager tracks one device's subscribers with expiry and
// periodic fan-out, plus the device's own self-update timer. The zero
// value is not usable; devices get a bound manager through BaseDevice.
type SubscriptionManager struct {
	device Device
	mgr    *Manager

	subscribers []Subscriber

	selfUpdatePeriod uint64
	selfUpdateNext   uint64
}

// AddSubscriber registers or refreshes a subscriber from a
// SUBSCRIPTION_START packet. A duplicate (id, address) pair does not
// create a second row: it extends the existing row's expiry and keeps
// its period and fire schedule.
func (sm *SubscriptionManager) AddSubscriber(p *wire.SubscriptionStart, src Address) {
	now := sm.mgr.clock.NowMicros()
	endTime := now + uint64(p.DurationS)*1_000_000

	for i := range sm.subscribers {
		sub := &sm.subscribers[i]
		if sub.ID == p.ID && sub.Addr == src {
			sub.EndTime = endTime
			sm.logChange(sub, "refresh")
			return
		}
	}

	nextFire := never
	if p.PeriodMS > 0 {
		nextFire = now + uint64(p.PeriodMS)*1_000 - 1
	}
	sm.subscribers = append(sm.subscribers, Subscriber{
		Addr:     src,
		ID:       p.ID,
		ActionID: p.ActionID,
		Period:   p.PeriodMS,
		EndTime:  endTime,
		NextFire: nextFire,
	})
	sm.logChange(&sm.subscribers[len(sm.subscribers)-1], "start")
}

// StopSubscription removes every subscriber matching (id, address).
func (sm *SubscriptionManager) StopSubscription(id uint32, src Address) {
	kept := sm.subscribers[:0]
	for i := range sm.subscribers {
		sub := sm.subscribers[i]
		if sub.ID == id && sub.Addr == src {
			sm.logChange(&sub, "stop")
			continue
		}
		kept = append(kept, sub)
	}
	sm.subscribers = kept
}

// SetSelfUpdatePeriod arms the device's self-update timer.
func (sm *SubscriptionManager) SetSelfUpdatePeriod(us uint64) {
	sm.selfUpdatePeriod = us
	sm.selfUpdateNext = sm.mgr.clock.NowMicros() + us
}

// StopSelfUpdate disarms the self-update timer.
func (sm *SubscriptionManager) StopSelfUpdate() {
	sm.selfUpdateNext = never
}

// Subscribers returns a snapshot of the current subscriber list.
func (sm *SubscriptionManager) Subscribers() []Subscriber {
	out := make([]Subscriber, len(sm.subscribers))
	copy(out, sm.subscribers)
	return out
}

// SendImmediateCallbackData emits a SUBSCRIPTION_CALLBACK carrying
// payload to every subscriber of the given action, right now,
// independent of their periodic schedule. Use it for event-driven data
// (a button edge, a state change); periodic replies triggered by
// OnSubscriptionTimerUpdate target one subscriber and belong in
// SendCallbackData.
func (sm *SubscriptionManager) SendImmediateCallbackData(actionID uint16, payload []byte) {
	for i := range sm.subscribers {
		sub := &sm.subscribers[i]
		if sub.ActionID == actionID {
			sm.SendCallbackData(sub.Addr, sub.ID, payload)
		}
	}
}

// SendCallbackData emits one SUBSCRIPTION_CALLBACK carrying payload to
// a single subscriber. This is the reply path for the per-subscriber
// periodic hook: dst and subID come straight from
// OnSubscriptionTimerUpdate, so only the subscriber whose period
// elapsed hears from it.
func (sm *SubscriptionManager) SendCallbackData(dst Address, subID uint32, payload []byte) {
	cb := wire.SubscriptionCallback{ID: subID, Payload: payload}
	pb, err := sm.mgr.NewPacket(dst, sm.device.Port(), len(payload),
		wire.OverlayUnreliable, wire.OpSubscriptionCallback)
	if err != nil {
		return
	}
	if err := cb.Encode(pb.Payload()); err != nil {
		pb.Abort()
		return
	}
	pb.Finish()
}

// UpdatePeriodic is driven by the host ticker. It fires the self-update
// timer, removes expired subscribers, and invokes the periodic hook for
// subscribers whose period elapsed. Expiry dominates: a subscriber that
// expires on this tick is removed without a final fire. Subscribers
// added while the tick runs are not scanned until the next tick.
func (sm *SubscriptionManager) UpdatePeriodic() {
	now := sm.mgr.clock.NowMicros()

	if now > sm.selfUpdateNext {
		sm.device.OnTimerUpdate()
		sm.selfUpdateNext += sm.selfUpdatePeriod
	}

	n := len(sm.subscribers)
	i := 0
	for scanned := 0; scanned < n; scanned++ {
		sub := &sm.subscribers[i]
		if now >= sub.EndTime {
			sm.logChange(sub, "expire")
			sm.subscribers = append(sm.subscribers[:i], sm.subscribers[i+1:]...)
			continue
		}

		if now > sub.NextFire {
			sub.NextFire += uint64(sub.Period) * 1_000
			sm.device.OnSubscriptionTimerUpdate(sub.Addr, sub.ID, sub.ActionID)
		}
		i++
	}
}

func (sm *SubscriptionManager) logChange(sub *Subscriber, change string) {
	sm.mgr.logger.Log(log.Event{
		Timestamp: time.Now(),
		SessionID: sm.mgr.sessionID,
		Layer:     log.LayerDevice,
		Category:  log.CategorySubscription,
		SrcPhy:    sub.Addr.Phy,
		Subscription: &log.SubscriptionEvent{
			Port:           sm.device.Port(),
			SubscriptionID: sub.ID,
			ActionID:       sub.ActionID,
			Change:         change,
		},
	})
}

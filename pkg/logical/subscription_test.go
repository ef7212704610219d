package logical_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loom-protocol/loom-go/pkg/logical"
	"github.com/loom-protocol/loom-go/pkg/wire"
)

func startPacket(t *testing.T, id uint32, actionID, durationS uint16, periodMS uint32) []byte {
	t.Helper()
	start := &wire.SubscriptionStart{ID: id, ActionID: actionID, DurationS: durationS, PeriodMS: periodMS}
	return logicalPacket(t, wire.OpSubscriptionStart, 200, 100, encodePayload(t, start))
}

func TestSubscriptionLifecycle(t *testing.T) {
	m, tr, clk, _ := newTestManager(t, 1)
	d := newTestDevice("sensor", 100, wire.ClassTemperatureSensor)
	require.NoError(t, m.AddDevice(d))
	tr.sent = nil

	clk.Set(1_000_000)
	m.DispatchPacket(startPacket(t, 9, 7, 2, 500), 2)
	require.Len(t, d.Subscriptions().Subscribers(), 1)

	clk.Set(1_499_999)
	m.UpdatePeriodic()
	assert.Empty(t, d.timerFires, "one microsecond early must not fire")

	clk.Set(1_500_000)
	m.UpdatePeriodic()
	require.Len(t, d.timerFires, 1)
	assert.Equal(t, timerFire{
		dst:      logical.Address{Phy: 2, Port: 200},
		subID:    9,
		actionID: 7,
	}, d.timerFires[0])

	clk.Set(2_000_000)
	m.UpdatePeriodic()
	assert.Len(t, d.timerFires, 2)

	// Expired: removed on this tick, and expiry dominates the pending
	// periodic fire.
	clk.Set(3_000_001)
	m.UpdatePeriodic()
	assert.Len(t, d.timerFires, 2)
	assert.Empty(t, d.Subscriptions().Subscribers())
}

func TestDuplicateStartRefreshesExpiry(t *testing.T) {
	m, _, clk, _ := newTestManager(t, 1)
	d := newTestDevice("sensor", 100, wire.ClassTemperatureSensor)
	require.NoError(t, m.AddDevice(d))

	clk.Set(1_000_000)
	m.DispatchPacket(startPacket(t, 9, 7, 2, 500), 2)

	clk.Set(1_800_000)
	m.DispatchPacket(startPacket(t, 9, 7, 5, 500), 2)

	subs := d.Subscriptions().Subscribers()
	require.Len(t, subs, 1, "duplicate START must not create a second row")
	assert.EqualValues(t, 6_800_000, subs[0].EndTime)

	clk.Set(1_500_000)
	m.UpdatePeriodic()
	clk.Set(2_000_000)
	m.UpdatePeriodic()

	// Past the original 3s expiry the subscription still fires.
	clk.Set(3_000_001)
	m.UpdatePeriodic()
	assert.Len(t, d.timerFires, 3)
	assert.Len(t, d.Subscriptions().Subscribers(), 1)

	clk.Set(6_800_000)
	m.UpdatePeriodic()
	assert.Empty(t, d.Subscriptions().Subscribers())
}

func TestDuplicateStartFromOtherAddressIsSeparate(t *testing.T) {
	m, _, clk, _ := newTestManager(t, 1)
	d := newTestDevice("sensor", 100, wire.ClassTemperatureSensor)
	require.NoError(t, m.AddDevice(d))

	clk.Set(1_000_000)
	m.DispatchPacket(startPacket(t, 9, 7, 2, 500), 2)
	m.DispatchPacket(startPacket(t, 9, 7, 2, 500), 3)

	assert.Len(t, d.Subscriptions().Subscribers(), 2)
}

func TestZeroPeriodNeverFires(t *testing.T) {
	m, _, clk, _ := newTestManager(t, 1)
	d := newTestDevice("sensor", 100, wire.ClassTemperatureSensor)
	require.NoError(t, m.AddDevice(d))

	clk.Set(1_000_000)
	m.DispatchPacket(startPacket(t, 5, 7, 2, 0), 2)

	for _, ts := range []uint64{1_500_000, 2_000_000, 2_999_999} {
		clk.Set(ts)
		m.UpdatePeriodic()
	}
	assert.Empty(t, d.timerFires)
	assert.Len(t, d.Subscriptions().Subscribers(), 1)

	// Expiry still applies.
	clk.Set(3_000_000)
	m.UpdatePeriodic()
	assert.Empty(t, d.Subscriptions().Subscribers())
}

func TestSubscriptionStop(t *testing.T) {
	m, _, clk, _ := newTestManager(t, 1)
	d := newTestDevice("sensor", 100, wire.ClassTemperatureSensor)
	require.NoError(t, m.AddDevice(d))

	clk.Set(1_000_000)
	m.DispatchPacket(startPacket(t, 9, 7, 60, 500), 2)

	// A STOP from a different node must not remove the row.
	stop := &wire.SubscriptionStop{ID: 9}
	m.DispatchPacket(logicalPacket(t, wire.OpSubscriptionStop, 200, 100, encodePayload(t, stop)), 3)
	assert.Len(t, d.Subscriptions().Subscribers(), 1)

	m.DispatchPacket(logicalPacket(t, wire.OpSubscriptionStop, 200, 100, encodePayload(t, stop)), 2)
	assert.Empty(t, d.Subscriptions().Subscribers())
}

func TestImmediateCallbackFanOut(t *testing.T) {
	m, tr, clk, p := newTestManager(t, 1)
	d := newTestDevice("sensor", 100, wire.ClassTemperatureSensor)
	require.NoError(t, m.AddDevice(d))
	tr.sent = nil

	clk.Set(1_000_000)
	m.DispatchPacket(startPacket(t, 9, 7, 60, 0), 2)
	m.DispatchPacket(startPacket(t, 11, 8, 60, 0), 3) // different action

	d.Subscriptions().SendImmediateCallbackData(7, []byte{0x12, 0x34})

	require.Len(t, tr.sent, 1, "only the matching action's subscriber is notified")
	assert.EqualValues(t, 2, tr.sent[0].dst)

	_, logicalBytes, err := wire.ParseOverlay(tr.sent[0].frame)
	require.NoError(t, err)
	hdr, err := wire.ParseHeader(logicalBytes)
	require.NoError(t, err)
	require.Equal(t, wire.OpSubscriptionCallback, hdr.Type)
	assert.EqualValues(t, 100, hdr.SrcPort)
	assert.EqualValues(t, 200, hdr.DstPort)

	cb, err := wire.ParseSubscriptionCallback(logicalBytes[wire.LogicalHeaderSize:])
	require.NoError(t, err)
	assert.EqualValues(t, 9, cb.ID)
	assert.Equal(t, []byte{0x12, 0x34}, cb.Payload)
	assert.Equal(t, 0, p.InUse())
}

func TestSubscriptionCallbackDelivery(t *testing.T) {
	m, _, _, _ := newTestManager(t, 1)
	d := newTestDevice("ctl", 100, wire.ClassController)
	require.NoError(t, m.AddDevice(d))

	cb := &wire.SubscriptionCallback{ID: 9, Payload: []byte{0xAA}}
	m.DispatchPacket(logicalPacket(t, wire.OpSubscriptionCallback, 200, 100, encodePayload(t, cb)), 2)

	require.Len(t, d.subData, 1)
	assert.EqualValues(t, 9, d.subData[0].subID)
	assert.Equal(t, []byte{0xAA}, d.subData[0].payload)
	assert.Equal(t, logical.Address{Phy: 2, Port: 200}, d.subData[0].src)
}

func TestSelfUpdateTimer(t *testing.T) {
	m, _, clk, _ := newTestManager(t, 1)
	d := newTestDevice("sensor", 100, wire.ClassTemperatureSensor)
	require.NoError(t, m.AddDevice(d))

	clk.Set(1_000_000)
	d.Subscriptions().SetSelfUpdatePeriod(1_000)

	clk.Set(1_001_000)
	m.UpdatePeriodic()
	assert.Equal(t, 0, d.selfUpdates, "deadline itself is not yet past")

	clk.Set(1_001_001)
	m.UpdatePeriodic()
	assert.Equal(t, 1, d.selfUpdates)

	clk.Set(1_002_001)
	m.UpdatePeriodic()
	assert.Equal(t, 2, d.selfUpdates)

	d.Subscriptions().StopSelfUpdate()
	clk.Set(2_000_000)
	m.UpdatePeriodic()
	assert.Equal(t, 2, d.selfUpdates)
}

func TestSelfUpdateDisarmedByDefault(t *testing.T) {
	m, _, clk, _ := newTestManager(t, 1)
	d := newTestDevice("sensor", 100, wire.ClassTemperatureSensor)
	require.NoError(t, m.AddDevice(d))

	clk.Set(^uint64(0) - 1)
	m.UpdatePeriodic()
	assert.Equal(t, 0, d.selfUpdates)
}

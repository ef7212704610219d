package devices

import (
	"encoding/binary"

	"github.com/loom-protocol/loom-go/pkg/logical"
	"github.com/loom-protocol/loom-go/pkg/wire"
)

// TemperatureActionReading is the id of the sensor's reading action.
const TemperatureActionReading uint16 = 0

var temperatureActions = []wire.ActionDecl{
	{Type: wire.ActionTemperature, Name: []byte("temperature")},
}

var temperatureFields = [][]byte{
	[]byte("temperature"),
}

// TemperatureSensor publishes readings in centidegrees Celsius, encoded
// as a big-endian int16. Sample supplies the measurement; with
// EnablePeriodicSampling the device re-samples itself on the node tick
// and pushes the value to its subscribers.
type TemperatureSensor struct {
	logical.BaseDevice

	attribs []wire.Attrib
	reading int16

	// Sample returns the current measurement in centidegrees. Nil
	// keeps the last value set with SetReading.
	Sample func() int16
}

// NewTemperatureSensor creates a sensor on the given port.
func NewTemperatureSensor(name string, port uint16) *TemperatureSensor {
	return &TemperatureSensor{BaseDevice: logical.NewBaseDevice(name, port)}
}

// DeviceClass returns the temperature sensor class tag.
func (s *TemperatureSensor) DeviceClass() wire.DeviceClass {
	return wire.ClassTemperatureSensor
}

// Attribs returns the sensor's attributes.
func (s *TemperatureSensor) Attribs() []wire.Attrib { return s.attribs }

// SetAttribs sets the attributes announced in HELLO_WORLD. Must be
// called before registration.
func (s *TemperatureSensor) SetAttribs(attribs []wire.Attrib) { s.attribs = attribs }

// APIFields returns the sensor field dictionary.
func (s *TemperatureSensor) APIFields() [][]byte { return temperatureFields }

// APIActions returns the sensor actions.
func (s *TemperatureSensor) APIActions() []wire.ActionDecl { return temperatureActions }

// Reading returns the last measurement in centidegrees.
func (s *TemperatureSensor) Reading() int16 { return s.reading }

// SetReading records a measurement and pushes it to subscribers.
func (s *TemperatureSensor) SetReading(centidegrees int16) {
	s.reading = centidegrees
	s.Subscriptions().SendImmediateCallbackData(TemperatureActionReading, s.encodeReading())
}

// EnablePeriodicSampling arms the self-update timer; every period the
// sensor samples itself and publishes the reading.
func (s *TemperatureSensor) EnablePeriodicSampling(periodUS uint64) {
	s.Subscriptions().SetSelfUpdatePeriod(periodUS)
}

// OnTimerUpdate re-samples and publishes.
func (s *TemperatureSensor) OnTimerUpdate() {
	if s.Sample != nil {
		s.reading = s.Sample()
	}
	s.Subscriptions().SendImmediateCallbackData(TemperatureActionReading, s.encodeReading())
}

// OnSubscriptionTimerUpdate reports the current reading to the one
// subscriber whose period elapsed.
func (s *TemperatureSensor) OnSubscriptionTimerUpdate(dst logical.Address, subID uint32, actionID uint16) {
	if actionID == TemperatureActionReading {
		s.Subscriptions().SendCallbackData(dst, subID, s.encodeReading())
	}
}

// OnActionGet answers a reading fetch with an ACTION_RESPONSE.
func (s *TemperatureSensor) OnActionGet(actionID uint16, _ []byte, src logical.Address, requestID uint8) {
	status := wire.StatusSuccess
	var payload []byte
	if actionID == TemperatureActionReading {
		payload = s.encodeReading()
	} else {
		status = wire.StatusActionNotFound
	}
	sendActionResponse(s.Manager(), &s.BaseDevice, src, status, actionID, requestID, payload)
}

func (s *TemperatureSensor) encodeReading() []byte {
	buf := make([]byte, 2)
	binary.BigEndian.PutUint16(buf, uint16(s.reading))
	return buf
}

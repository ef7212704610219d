package wire

// BroadcastPort is the reserved logical port addressing every device
// hosted on the destination node.
const BroadcastPort uint16 = 0xFFFF

// Opcode identifies the logical packet type.
type Opcode uint8

const (
	OpUnknown Opcode = iota

	OpHelloWorld              // broadcast on device registration
	OpHelloWorldResponse      // unicast reply to HELLO_WORLD
	OpFieldDictionaryRequest  // request the device's api field strings
	OpFieldDictionaryResponse // reply to the previous

	// Group management opcodes are reserved: the numbers are allocated but
	// no payload contract is defined and the dispatcher ignores them.
	OpGroupsListRequest
	OpGroupsListResponse
	OpGroupsAdd
	OpGroupsEdit
	OpGroupsRemove
	OpGroupsFindUsersRequest
	OpGroupsFindUsersResponse

	OpActionExecute       // execute an action, optionally with status reply
	OpActionExecuteResult // status reply to ACTION_EXECUTE
	OpActionFetch         // request action data
	OpActionResponse      // reply to ACTION_FETCH

	OpSubscriptionStart    // begin or refresh a subscription
	OpSubscriptionDone     // reserved acknowledgement, not dispatched
	OpSubscriptionCallback // data callback to a subscriber
	OpSubscriptionStop     // cancel a subscription (subscriber side)
)

// String returns the opcode name.
func (o Opcode) String() string {
	switch o {
	case OpHelloWorld:
		return "HELLO_WORLD"
	case OpHelloWorldResponse:
		return "HELLO_WORLD_RESPONSE"
	case OpFieldDictionaryRequest:
		return "FIELD_DICTIONARY_REQUEST"
	case OpFieldDictionaryResponse:
		return "FIELD_DICTIONARY_RESPONSE"
	case OpGroupsListRequest:
		return "GROUPS_LIST_REQUEST"
	case OpGroupsListResponse:
		return "GROUPS_LIST_RESPONSE"
	case OpGroupsAdd:
		return "GROUPS_ADD"
	case OpGroupsEdit:
		return "GROUPS_EDIT"
	case OpGroupsRemove:
		return "GROUPS_REMOVE"
	case OpGroupsFindUsersRequest:
		return "GROUPS_FIND_USERS_REQUEST"
	case OpGroupsFindUsersResponse:
		return "GROUPS_FIND_USERS_RESPONSE"
	case OpActionExecute:
		return "ACTION_EXECUTE"
	case OpActionExecuteResult:
		return "ACTION_EXECUTE_RESULT"
	case OpActionFetch:
		return "ACTION_FETCH"
	case OpActionResponse:
		return "ACTION_RESPONSE"
	case OpSubscriptionStart:
		return "SUBSCRIPTION_START"
	case OpSubscriptionDone:
		return "SUBSCRIPTION_DONE"
	case OpSubscriptionCallback:
		return "SUBSCRIPTION_CALLBACK"
	case OpSubscriptionStop:
		return "SUBSCRIPTION_STOP"
	default:
		return "UNKNOWN"
	}
}

// DeviceClass describes what kind of logical device is behind a port.
// Classes unify the access contract for similar hardware: every RELAY
// understands the same state action regardless of the hosting node.
type DeviceClass uint32

const (
	ClassUnknown DeviceClass = iota

	ClassButton
	ClassRelay
	ClassTemperatureSensor
	ClassTempHumSensor
	ClassController // standalone, not meant for direct interaction
	ClassPCAdapter
	ClassLuaInterpreter
	ClassLED1Dim
	ClassLED2Dim
	ClassHWAccessor // virtual device interfacing a specific chip
	ClassPyInterpreter

	// ClassStringName marks a device identified by its name string only.
	ClassStringName DeviceClass = 0xFFFFFFFF
)

// String returns the device class name.
func (c DeviceClass) String() string {
	switch c {
	case ClassButton:
		return "BUTTON"
	case ClassRelay:
		return "RELAY"
	case ClassTemperatureSensor:
		return "TEMPERATURE_SENSOR"
	case ClassTempHumSensor:
		return "TEMP_HUM_SENSOR"
	case ClassController:
		return "CONTROLLER"
	case ClassPCAdapter:
		return "PC2LOGICAL_ADAPTER"
	case ClassLuaInterpreter:
		return "LUA_INTERPRETER"
	case ClassLED1Dim:
		return "LED_1_DIM"
	case ClassLED2Dim:
		return "LED_2_DIM"
	case ClassHWAccessor:
		return "HW_ACCESSOR"
	case ClassPyInterpreter:
		return "PY_INTERPRETER"
	case ClassStringName:
		return "STRING_NAME"
	default:
		return "UNKNOWN"
	}
}

// ActionType tags the value domain of a declared action.
type ActionType uint8

const (
	ActionUnknown ActionType = iota
	ActionImmediate
	ActionToggle
	ActionRange // numeric range [0, 255]
	ActionLabel
	ActionTemperature
	ActionHumidity
	ActionTimeDelta // uptime and similar
	ActionTime
)

// String returns the action type name.
func (t ActionType) String() string {
	switch t {
	case ActionImmediate:
		return "IMMEDIATE"
	case ActionToggle:
		return "TOGGLE"
	case ActionRange:
		return "RANGE"
	case ActionLabel:
		return "LABEL"
	case ActionTemperature:
		return "TEMPERATURE"
	case ActionHumidity:
		return "HUMIDITY"
	case ActionTimeDelta:
		return "TIME_DELTA"
	case ActionTime:
		return "TIME"
	default:
		return "UNKNOWN"
	}
}

// ActionExecuteStatus is the in-band result of an ACTION_EXECUTE. It is
// only reported back when the peer set FlagRequireStatusResponse.
type ActionExecuteStatus uint8

const (
	StatusUnknown ActionExecuteStatus = iota
	StatusSuccess
	StatusFail
	StatusArgumentsError
	StatusActionNotFound
	StatusTimeout
)

// String returns the status name.
func (s ActionExecuteStatus) String() string {
	switch s {
	case StatusSuccess:
		return "SUCCESS"
	case StatusFail:
		return "FAIL"
	case StatusArgumentsError:
		return "ARGUMENTS_ERROR"
	case StatusActionNotFound:
		return "ACTION_NOT_FOUND"
	case StatusTimeout:
		return "TIMEOUT"
	default:
		return "UNKNOWN"
	}
}

// ActionExecuteFlags modify ACTION_EXECUTE handling.
type ActionExecuteFlags uint8

const (
	// FlagRequireStatusResponse requests an ACTION_EXECUTE_RESULT reply.
	FlagRequireStatusResponse ActionExecuteFlags = 1 << 0
)

// OverlayType selects the overlay framing ahead of the logical packet.
type OverlayType uint8

const (
	OverlayUnknown OverlayType = iota

	// OverlayReliable carries a sequence number. The number is encoded and
	// decoded but no retransmission state machine exists yet.
	OverlayReliable

	// OverlayUnreliable is plain fire-and-forget framing.
	OverlayUnreliable
)

// String returns the overlay type name.
func (t OverlayType) String() string {
	switch t {
	case OverlayReliable:
		return "RELIABLE"
	case OverlayUnreliable:
		return "UNRELIABLE"
	default:
		return "UNKNOWN"
	}
}

package wire

// Kind identifies an application message type.
type Kind uint8

const (
	// KindAnnounce is a device's presence announcement.
	KindAnnounce Kind = 0x01
	// KindAnnounceAck acknowledges an announcement; the device is
	// registered after receiving it.
	KindAnnounceAck Kind = 0x02
	// KindDisconnect is an explicit disconnect notice.
	KindDisconnect Kind = 0x03
	// KindHeartbeat is a periodic liveness frame.
	KindHeartbeat Kind = 0x04

	// KindTaskStart asks an implement to take a task.
	KindTaskStart Kind = 0x10
	// KindTaskAck is the implement's answer to a task command.
	KindTaskAck Kind = 0x11
	// KindTaskStatus is the implement's periodic task report.
	KindTaskStatus Kind = 0x12
	// KindTaskPause suspends a running task.
	KindTaskPause Kind = 0x13
	// KindTaskResume resumes a suspended task.
	KindTaskResume Kind = 0x14
	// KindTaskEnd completes a task.
	KindTaskEnd Kind = 0x15
	// KindTaskAbort aborts a task from any non-terminal state.
	KindTaskAbort Kind = 0x16

	// KindParamSet carries a process-data set request.
	KindParamSet Kind = 0x20
	// KindParamAck acknowledges a set request.
	KindParamAck Kind = 0x21
	// KindParamRequest asks for a parameter's current value.
	KindParamRequest Kind = 0x22
	// KindParamValue answers a parameter request.
	KindParamValue Kind = 0x23

	// KindTerminal carries an operator-interface screen/command message.
	KindTerminal Kind = 0x30
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindAnnounce:
		return "ANNOUNCE"
	case KindAnnounceAck:
		return "ANNOUNCE_ACK"
	case KindDisconnect:
		return "DISCONNECT"
	case KindHeartbeat:
		return "HEARTBEAT"
	case KindTaskStart:
		return "TASK_START"
	case KindTaskAck:
		return "TASK_ACK"
	case KindTaskStatus:
		return "TASK_STATUS"
	case KindTaskPause:
		return "TASK_PAUSE"
	case KindTaskResume:
		return "TASK_RESUME"
	case KindTaskEnd:
		return "TASK_END"
	case KindTaskAbort:
		return "TASK_ABORT"
	case KindParamSet:
		return "PARAM_SET"
	case KindParamAck:
		return "PARAM_ACK"
	case KindParamRequest:
		return "PARAM_REQUEST"
	case KindParamValue:
		return "PARAM_VALUE"
	case KindTerminal:
		return "TERMINAL"
	default:
		return "UNKNOWN"
	}
}

// IsValid reports whether the kind is a known message type.
func (k Kind) IsValid() bool {
	switch k {
	case KindAnnounce, KindAnnounceAck, KindDisconnect, KindHeartbeat,
		KindTaskStart, KindTaskAck, KindTaskStatus, KindTaskPause,
		KindTaskResume, KindTaskEnd, KindTaskAbort,
		KindParamSet, KindParamAck, KindParamRequest, KindParamValue,
		KindTerminal:
		return true
	default:
		return false
	}
}

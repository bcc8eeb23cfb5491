package wire

// Status represents an acknowledgment status code.
type Status uint8

const (
	// StatusSuccess indicates the command was accepted.
	StatusSuccess Status = 0

	// StatusUnknownTask indicates the task identifier is not known.
	StatusUnknownTask Status = 1

	// StatusTaskNotActive indicates the task is in a terminal state.
	StatusTaskNotActive Status = 2

	// StatusUnknownParameter indicates the definition is not in the catalog.
	StatusUnknownParameter Status = 3

	// StatusOutOfRange indicates a value outside the definition's valid range.
	StatusOutOfRange Status = 4

	// StatusBusy indicates the implement cannot take the command now.
	StatusBusy Status = 5

	// StatusUnsupported indicates the implement does not support the command.
	StatusUnsupported Status = 6
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "SUCCESS"
	case StatusUnknownTask:
		return "UNKNOWN_TASK"
	case StatusTaskNotActive:
		return "TASK_NOT_ACTIVE"
	case StatusUnknownParameter:
		return "UNKNOWN_PARAMETER"
	case StatusOutOfRange:
		return "OUT_OF_RANGE"
	case StatusBusy:
		return "BUSY"
	case StatusUnsupported:
		return "UNSUPPORTED"
	default:
		return "UNKNOWN"
	}
}

// IsSuccess returns true if the status indicates success.
func (s Status) IsSuccess() bool {
	return s == StatusSuccess
}

package pkg

import "errors"

// USB protocol errors.
var (
	// ErrStall indicates an endpoint stall condition.
	ErrStall = errors.New("endpoint stalled")

	// ErrNAK indicates the endpoint is not armed (device busy).
	ErrNAK = errors.New("NAK received")

	// ErrTimeout indicates an operation timeout.
	ErrTimeout = errors.New("operation timeout")

	// ErrProtocol indicates a protocol error.
	ErrProtocol = errors.New("protocol error")

	// ErrNotConfigured indicates the device is not configured.
	ErrNotConfigured = errors.New("device not configured")

	// ErrNotAttached indicates the device is not attached to a bus.
	ErrNotAttached = errors.New("device not attached")

	// ErrInvalidEndpoint indicates an invalid endpoint slot or address.
	ErrInvalidEndpoint = errors.New("invalid endpoint")

	// ErrInvalidState indicates an invalid state for the operation.
	ErrInvalidState = errors.New("invalid state")

	// ErrInvalidRequest indicates an invalid or unsupported request.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrSetupPacketTooShort indicates the setup packet data is too short.
	ErrSetupPacketTooShort = errors.New("setup packet too short")

	// ErrBufferTooSmall indicates the provided buffer is too small.
	ErrBufferTooSmall = errors.New("buffer too small")

	// ErrNotSupported indicates an unsupported operation or feature.
	ErrNotSupported = errors.New("not supported")

	// ErrBusy indicates the resource is busy.
	ErrBusy = errors.New("resource busy")

	// ErrAlreadyRunning indicates the component is already running.
	ErrAlreadyRunning = errors.New("already running")

	// ErrNotRunning indicates the component is not running.
	ErrNotRunning = errors.New("not running")

	// ErrInvalidParameter indicates an invalid parameter was provided.
	ErrInvalidParameter = errors.New("invalid parameter")
)

// Storage errors.
var (
	// ErrIO indicates the medium rejected a read, write or erase.
	ErrIO = errors.New("storage I/O error")

	// ErrNotReady indicates removable media is absent or not initialized.
	ErrNotReady = errors.New("storage not ready")

	// ErrDevice indicates probing returned an unrecognized device identity.
	ErrDevice = errors.New("unrecognized storage device")

	// ErrOutOfRange indicates a sector range beyond the end of the medium.
	ErrOutOfRange = errors.New("sector out of range")

	// ErrNoMemory indicates a scratch or staging buffer could not be provided.
	ErrNoMemory = errors.New("insufficient memory")

	// ErrWriteProtected indicates a write to a read-only medium.
	ErrWriteProtected = errors.New("medium write protected")

	// ErrOpen indicates a backend could not be opened.
	ErrOpen = errors.New("storage open failed")
)

// Errno is the numeric storage status used by firmware-side tooling.
type Errno int32

// Storage status codes.
const (
	ErrnoNone     Errno = 0
	ErrnoNullPtr  Errno = -1
	ErrnoMalloc   Errno = -2
	ErrnoIO       Errno = -3
	ErrnoSize     Errno = -4
	ErrnoNotReady Errno = -5
	ErrnoOpen     Errno = -6
	ErrnoDevice   Errno = -7
)

// String returns a short name for the code.
func (e Errno) String() string {
	switch e {
	case ErrnoNone:
		return "none"
	case ErrnoNullPtr:
		return "null-pointer"
	case ErrnoMalloc:
		return "malloc"
	case ErrnoIO:
		return "io"
	case ErrnoSize:
		return "size"
	case ErrnoNotReady:
		return "not-ready"
	case ErrnoOpen:
		return "open"
	case ErrnoDevice:
		return "device"
	default:
		return "unknown"
	}
}

// ErrnoOf maps an error returned by a storage backend to its numeric code.
// Errors outside the storage taxonomy map to [ErrnoIO].
func ErrnoOf(err error) Errno {
	switch {
	case err == nil:
		return ErrnoNone
	case errors.Is(err, ErrInvalidParameter):
		return ErrnoNullPtr
	case errors.Is(err, ErrNoMemory):
		return ErrnoMalloc
	case errors.Is(err, ErrOutOfRange), errors.Is(err, ErrBufferTooSmall):
		return ErrnoSize
	case errors.Is(err, ErrNotReady):
		return ErrnoNotReady
	case errors.Is(err, ErrOpen):
		return ErrnoOpen
	case errors.Is(err, ErrDevice):
		return ErrnoDevice
	default:
		return ErrnoIO
	}
}

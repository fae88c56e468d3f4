package msc

// USB Mass Storage Class codes.
const (
	ClassMSC = 0x08 // Mass Storage Class
)

// MSC Subclass codes.
const (
	SubclassRBC  = 0x01 // Reduced Block Commands
	SubclassUFI  = 0x04 // USB Floppy Interface
	SubclassSCSI = 0x06 // SCSI Transparent Command Set
)

// MSC Protocol codes.
const (
	ProtocolBulkOnly = 0x50 // Bulk-Only Transport (BOT)
)

// Bulk-Only Transport request codes.
const (
	RequestBulkOnlyMassStorageReset = 0xFF // Reset the MSC device
	RequestGetMaxLUN                = 0xFE // Get maximum Logical Unit Number
)

// Command Block Wrapper (CBW) constants.
const (
	CBWSignature   = 0x43425355 // "USBC" signature
	CBWSize        = 31         // Fixed CBW size in bytes
	CBWFlagDataOut = 0x00       // Data transfer: host to device
	CBWFlagDataIn  = 0x80       // Data transfer: device to host
)

// Command Status Wrapper (CSW) constants.
const (
	CSWSignature        = 0x53425355 // "USBS" signature
	CSWSize             = 13         // Fixed CSW size in bytes
	CSWStatusGood       = 0x00       // Command passed
	CSWStatusFailed     = 0x01       // Command failed
	CSWStatusPhaseError = 0x02       // Phase error occurred
)

// SCSI/UFI operation codes.
const (
	SCSITestUnitReady        = 0x00 // Test if unit is ready
	SCSIRequestSense         = 0x03 // Request sense data
	SCSIInquiry              = 0x12 // Get device information
	SCSIModeSelect6          = 0x15 // Set mode parameters (6-byte)
	SCSIModeSense6           = 0x1A // Get mode parameters (6-byte)
	SCSIStartStopUnit        = 0x1B // Start/stop unit
	SCSIPreventAllowRemoval  = 0x1E // Prevent/allow medium removal
	SCSIReadFormatCapacities = 0x23 // Read format capacities
	SCSIReadCapacity10       = 0x25 // Read capacity (10-byte)
	SCSIRead10               = 0x28 // Read blocks (10-byte)
	SCSIWrite10              = 0x2A // Write blocks (10-byte)
	SCSIVerify10             = 0x2F // Verify blocks (10-byte)
	SCSISynchronizeCache10   = 0x35 // Synchronize cache (10-byte)
	SCSIModeSelect10         = 0x55 // Set mode parameters (10-byte)
	SCSIModeSense10          = 0x5A // Get mode parameters (10-byte)
	SCSIServiceActionIn16    = 0x9E // Service action in (16-byte)
	SCSIReportLUNs           = 0xA0 // Report logical units
	SCSIRead12               = 0xA8 // Read blocks (12-byte)
	SCSIWrite12              = 0xAA // Write blocks (12-byte)
)

// Service action codes for SCSIServiceActionIn16.
const (
	ServiceActionReadCapacity16 = 0x10 // Read capacity (16-byte)
)

// SCSI sense keys.
const (
	SenseNoSense        = 0x00 // No error
	SenseNotReady       = 0x02 // Device not ready
	SenseMediumError    = 0x03 // Medium error
	SenseHardwareError  = 0x04 // Hardware error
	SenseIllegalRequest = 0x05 // Illegal request
	SenseUnitAttention  = 0x06 // Unit attention
	SenseDataProtect    = 0x07 // Data protect
)

// Additional Sense Codes (ASC).
const (
	ASCNoAdditionalInfo     = 0x00 // No additional sense information
	ASCWriteFault           = 0x0C // Write error
	ASCUnrecoveredReadError = 0x11 // Unrecovered read error
	ASCInvalidCommand       = 0x20 // Invalid command operation code
	ASCLBAOutOfRange        = 0x21 // Logical block address out of range
	ASCInvalidFieldInCDB    = 0x24 // Invalid field in CDB
	ASCLUNNotSupported      = 0x25 // Logical unit not supported
	ASCWriteProtected       = 0x27 // Write protected
	ASCMediumNotPresent     = 0x3A // Medium not present
)

// REQUEST SENSE response codes.
const (
	SenseResponseCurrent = 0x70 // Current error, fixed format
	SenseResponseValid   = 0xF0 // Current error with the valid bit set
	SenseResponseSize    = 18
)

// SCSI device types (peripheral device type).
const (
	DeviceTypeDisk = 0x00 // Direct access block device (disk)
)

// INQUIRY response constants.
const (
	InquiryStandardSize = 36   // Standard INQUIRY data length
	InquiryRMB          = 0x80 // Removable media bit
	InquiryAdditional   = 0x1F // Additional length for the standard response
)

// Default INQUIRY identification.
const (
	DefaultVendor   = "Nuvoton"
	DefaultProduct  = "USB Mass Storage"
	DefaultRevision = "1.00"
)

// Mode page codes.
const (
	ModePageReadWriteRecovery = 0x01 // Read-write error recovery page
	ModePageFlexibleDisk      = 0x05 // Flexible disk page
	ModePageRemovableBlock    = 0x1B // Removable block access capabilities
	ModePageTimerProtect      = 0x1C // Timer and protect page
	ModePageAllPages          = 0x3F // All mode pages
)

// Mode parameter header flags.
const (
	ModeDeviceParamWP = 0x80 // Write protect
)

// Flexible disk page geometry.
const (
	FlexibleDiskHeads   = 2
	FlexibleDiskSectors = 64
)

// READ FORMAT CAPACITIES descriptor codes.
const (
	FormatCapacityFormatted = 0x02 // Formatted media
)

// BlockSize is the logical block size reported to the host.
const BlockSize = 512

// MaxLUNs bounds the LUN registry.
const MaxLUNs = 4

// DefaultStagingSize is the default size of the sector staging buffer. It
// holds one 4 KiB flash page or NOR sector so that aligned writes reach the
// backend as whole erase units.
const DefaultStagingSize = 4096

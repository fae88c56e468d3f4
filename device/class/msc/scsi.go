package msc

import "encoding/binary"

// InquiryResponse represents standard INQUIRY data.
type InquiryResponse struct {
	DeviceType       uint8    // Peripheral device type
	RMB              uint8    // Removable media bit (bit 7)
	Version          uint8    // SCSI version
	ResponseFormat   uint8    // Response data format
	AdditionalLength uint8    // Additional length (n-4)
	Flags            [3]uint8 // Various flags
	VendorID         [8]byte  // Vendor identification (ASCII)
	ProductID        [16]byte // Product identification (ASCII)
	ProductRev       [4]byte  // Product revision (ASCII)
}

// MarshalTo writes the INQUIRY response to buf.
// Returns the number of bytes written, or 0 if buf is too small.
func (r *InquiryResponse) MarshalTo(buf []byte) int {
	if len(buf) < InquiryStandardSize {
		return 0
	}

	buf[0] = r.DeviceType
	buf[1] = r.RMB
	buf[2] = r.Version
	buf[3] = r.ResponseFormat
	buf[4] = r.AdditionalLength
	copy(buf[5:8], r.Flags[:])
	copy(buf[8:16], r.VendorID[:])
	copy(buf[16:32], r.ProductID[:])
	copy(buf[32:36], r.ProductRev[:])

	return InquiryStandardSize
}

// NewInquiryResponse creates the INQUIRY response of a removable disk.
func NewInquiryResponse(vendor, product, revision string) *InquiryResponse {
	resp := &InquiryResponse{
		DeviceType:       DeviceTypeDisk,
		RMB:              InquiryRMB,
		AdditionalLength: InquiryAdditional,
	}

	copy(resp.VendorID[:], padString(vendor, 8))
	copy(resp.ProductID[:], padString(product, 16))
	copy(resp.ProductRev[:], padString(revision, 4))

	return resp
}

// ReadCapacity10Response represents READ CAPACITY (10) response.
type ReadCapacity10Response struct {
	LastLBA     uint32 // Last logical block address
	BlockLength uint32 // Block length in bytes
}

// MarshalTo writes the response to buf.
// Returns the number of bytes written, or 0 if buf is too small.
func (r *ReadCapacity10Response) MarshalTo(buf []byte) int {
	if len(buf) < 8 {
		return 0
	}

	binary.BigEndian.PutUint32(buf[0:4], r.LastLBA)
	binary.BigEndian.PutUint32(buf[4:8], r.BlockLength)

	return 8
}

// ReadCapacity16Response represents READ CAPACITY (16) response.
type ReadCapacity16Response struct {
	LastLBA     uint64 // Last logical block address
	BlockLength uint32 // Block length in bytes
}

// MarshalTo writes the response to buf.
// Returns the number of bytes written, or 0 if buf is too small.
func (r *ReadCapacity16Response) MarshalTo(buf []byte) int {
	if len(buf) < 32 {
		return 0
	}

	clear(buf[:32])
	binary.BigEndian.PutUint64(buf[0:8], r.LastLBA)
	binary.BigEndian.PutUint32(buf[8:12], r.BlockLength)

	return 32
}

// Sense is the pending sense triple.
type Sense struct {
	Key  uint8
	ASC  uint8
	ASCQ uint8
}

// Common sense data.
var (
	SenseOK               = Sense{}
	SenseNoMedium         = Sense{SenseNotReady, ASCMediumNotPresent, 0}
	SenseReadError        = Sense{SenseMediumError, ASCUnrecoveredReadError, 0}
	SenseWriteError       = Sense{SenseMediumError, ASCWriteFault, 0}
	SenseOutOfRange       = Sense{SenseIllegalRequest, ASCLBAOutOfRange, 0}
	SenseInvalidOpcode    = Sense{SenseIllegalRequest, ASCInvalidCommand, 0}
	SenseInvalidField     = Sense{SenseIllegalRequest, ASCInvalidFieldInCDB, 0}
	SenseInvalidLUN       = Sense{SenseIllegalRequest, ASCLUNNotSupported, 0}
	SenseWriteProtectedOp = Sense{SenseDataProtect, ASCWriteProtected, 0}
)

// MarshalTo writes a fixed format REQUEST SENSE response with the given
// response code to buf. Returns SenseResponseSize, or 0 if buf is too small.
func (s Sense) MarshalTo(code uint8, buf []byte) int {
	if len(buf) < SenseResponseSize {
		return 0
	}

	clear(buf[:SenseResponseSize])
	buf[0] = code
	buf[2] = s.Key & 0x0F
	buf[7] = SenseResponseSize - 8
	buf[12] = s.ASC
	buf[13] = s.ASCQ

	return SenseResponseSize
}

// marshalModeSense6 writes the 4-byte MODE SENSE (6) header.
func marshalModeSense6(wp bool, buf []byte) int {
	buf[0] = 3
	buf[1] = 0
	buf[2] = 0
	if wp {
		buf[2] = ModeDeviceParamWP
	}
	buf[3] = 0
	return 4
}

var (
	modePage01 = [12]byte{
		0x01, 0x0A, 0x00, 0x03, 0x00, 0x00, 0x00, 0x00,
		0x03, 0x00, 0x00, 0x00,
	}
	modePage05 = [32]byte{
		0x05, 0x1E, 0x13, 0x88, 0x08, 0x20, 0x02, 0x00,
		0x01, 0xF4, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x05, 0x1E, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x01, 0x68, 0x00, 0x00,
	}
	modePage1B = [12]byte{
		0x1B, 0x0A, 0x00, 0x01, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00,
	}
	modePage1C = [8]byte{
		0x1C, 0x06, 0x00, 0x05, 0x00, 0x00, 0x00, 0x00,
	}
)

// ModeSense10Size is the largest MODE SENSE (10) response.
const ModeSense10Size = 8 + len(modePage01) + len(modePage05) + len(modePage1B) + len(modePage1C)

// marshalModeSense10 writes the MODE SENSE (10) header followed by the
// requested page. It returns false for pages that are not supported.
func marshalModeSense10(page uint8, wp bool, totalSectors uint32, buf []byte) (int, bool) {
	clear(buf[:8])
	n := 8
	switch page {
	case ModePageReadWriteRecovery:
		n += copy(buf[n:], modePage01[:])
	case ModePageFlexibleDisk:
		n += putFlexibleDisk(buf[n:], totalSectors)
	case ModePageRemovableBlock:
		n += copy(buf[n:], modePage1B[:])
	case ModePageTimerProtect:
		n += copy(buf[n:], modePage1C[:])
	case ModePageAllPages:
		n += copy(buf[n:], modePage01[:])
		n += putFlexibleDisk(buf[n:], totalSectors)
		n += copy(buf[n:], modePage1B[:])
		n += copy(buf[n:], modePage1C[:])
	default:
		return 0, false
	}
	binary.BigEndian.PutUint16(buf[0:2], uint16(n-2))
	if wp {
		buf[3] = ModeDeviceParamWP
	}
	return n, true
}

func putFlexibleDisk(buf []byte, totalSectors uint32) int {
	n := copy(buf, modePage05[:])
	cylinders := totalSectors / (FlexibleDiskHeads * FlexibleDiskSectors)
	buf[4] = FlexibleDiskHeads
	buf[5] = FlexibleDiskSectors
	binary.BigEndian.PutUint16(buf[8:10], uint16(cylinders))
	return n
}

// ReadFormatCapacitiesSize is the READ FORMAT CAPACITIES response length.
const ReadFormatCapacitiesSize = 20

// marshalFormatCapacities writes the capacity list header, the current
// capacity descriptor and one formattable descriptor.
func marshalFormatCapacities(blocks uint32, buf []byte) int {
	clear(buf[:ReadFormatCapacitiesSize])
	buf[3] = 0x10
	binary.BigEndian.PutUint32(buf[4:8], blocks)
	binary.BigEndian.PutUint32(buf[8:12], BlockSize)
	buf[8] = FormatCapacityFormatted
	binary.BigEndian.PutUint32(buf[12:16], blocks)
	binary.BigEndian.PutUint32(buf[16:20], BlockSize)
	buf[16] = 0
	return ReadFormatCapacitiesSize
}

// marshalReportLUNs writes a REPORT LUNS parameter list for count units.
func marshalReportLUNs(count int, buf []byte) int {
	n := 8 + 8*count
	clear(buf[:n])
	binary.BigEndian.PutUint32(buf[0:4], uint32(8*count))
	for i := 0; i < count; i++ {
		buf[8+8*i+1] = uint8(i)
	}
	return n
}

// padString pads or truncates a string to the specified length.
func padString(s string, length int) []byte {
	result := make([]byte, length)
	for i := 0; i < length; i++ {
		if i < len(s) {
			result[i] = s[i]
		} else {
			result[i] = ' ' // Pad with spaces
		}
	}
	return result
}

func parseU16BE(data []byte, offset int) uint16 {
	if offset+2 > len(data) {
		return 0
	}
	return binary.BigEndian.Uint16(data[offset:])
}

func parseU32BE(data []byte, offset int) uint32 {
	if offset+4 > len(data) {
		return 0
	}
	return binary.BigEndian.Uint32(data[offset:])
}

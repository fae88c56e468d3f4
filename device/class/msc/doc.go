// Package msc implements the USB Mass Storage Class function using the
// Bulk-Only Transport (BOT) protocol and a SCSI/UFI command subset.
//
// # Bulk-Only Transport
//
// Every command runs in three stages:
//
//  1. The host sends a 31-byte Command Block Wrapper (CBW) on bulk OUT.
//  2. An optional data stage moves data in the direction the CBW names.
//  3. The device answers with a 13-byte Command Status Wrapper (CSW) on
//     bulk IN, echoing the CBW tag.
//
// When the host's expectation (direction and length in the CBW) disagrees
// with what the device intends to transfer, the transport resolves the
// mismatch with endpoint halts and the CSW residue as the BOT specification
// prescribes for its thirteen cases. A CBW that is not exactly 31 bytes or
// lacks the signature halts both bulk endpoints until the host issues a
// Bulk-Only Mass Storage Reset; CLEAR_FEATURE alone cannot release them.
//
// # Execution model
//
// [MSC] is a [device.Function]. The interrupt handler only records endpoint
// completions and answers the class requests (Get Max LUN, Bulk-Only
// Reset). All command processing happens in [MSC.Poll], which runs with the
// controller interrupt mask held and releases it only around storage
// calls. A Bulk-Only Reset that lands during a storage call invalidates the
// call's result.
//
// # Logical units
//
// A [Registry] maps logical unit numbers to [storage.Backend] values. It is
// realized once, on the first Get Max LUN, by opening each configured driver
// instance; instances that fail to open are skipped.
//
// # Usage
//
//	ctrl := sim.New(sim.Options{})
//	luns := msc.NewRegistry(msc.LUNSource{
//		Driver: storage.Static("ram", storage.NewRAMSectors(2048)),
//	})
//	disk, err := msc.New(ctrl, msc.Config{
//		Interface: 0,
//		BulkIn:    device.Endpoint{Slot: 2, Address: 0x81, Attributes: device.EndpointTypeBulk, MaxPacketSize: 64, Buffer: 0x100},
//		BulkOut:   device.Endpoint{Slot: 3, Address: 0x02, Attributes: device.EndpointTypeBulk, MaxPacketSize: 64, Buffer: 0x140},
//	}, luns)
//	if err != nil {
//		return err
//	}
//	comp := device.NewComposite(ctrl, disk)
//	if err := comp.Start(); err != nil {
//		return err
//	}
//	return comp.Run(ctx, 0)
//
// # References
//
//   - USB Mass Storage Class Bulk-Only Transport 1.0
//   - USB Mass Storage Class UFI Command Specification 1.0
//   - SCSI Primary Commands (SPC-4)
//   - SCSI Block Commands (SBC-3)
package msc

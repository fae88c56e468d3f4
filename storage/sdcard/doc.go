// Package sdcard exposes SD and eMMC cards behind an SD host slot as a
// storage.Backend.
//
// Host DMA requires aligned buffers. Transfers from callers whose buffer is
// misaligned are bounced one sector at a time through an aligned scratch
// sector. [Slot] simulates a host slot with a removable card.
package sdcard

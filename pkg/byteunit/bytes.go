// Package byteunit provides a small wrapper for kB-denominated quantities,
// adapted from a bytes-denominated counterpart: process and system memory
// fields in this repository are reported in kB by the kernel surface
// (/proc/<pid>/status, /proc/meminfo), so KB is the native unit here.
package byteunit

import "fmt"

// KB is a uint64 wrapper representing a size in kibibytes.
type KB uint64

// FromBytes converts a raw byte count into KB, rounding down.
func FromBytes(b uint64) KB { return KB(b / 1024) }

// Bytes returns the size in bytes.
func (k KB) Bytes() uint64 { return uint64(k) * 1024 }

// MB returns the number of mebibytes (1024 base).
func (k KB) MB() float64 { return float64(k) / 1024 }

// GB returns the number of gibibytes (1024 base).
func (k KB) GB() float64 { return float64(k) / (1024 * 1024) }

// Humanized returns a human-readable string with automatic unit (KB, MB, GB, TB).
func (k KB) Humanized() string {
	v := float64(k)
	switch {
	case k >= 1<<30: // >= 1 TB worth of KB
		return fmt.Sprintf("%.2f TB", v/(1<<30))
	case k >= 1<<20: // >= 1 GB worth of KB
		return fmt.Sprintf("%.2f GB", v/(1<<20))
	case k >= 1<<10: // >= 1 MB worth of KB
		return fmt.Sprintf("%.2f MB", v/(1<<10))
	default:
		return fmt.Sprintf("%d KB", k)
	}
}

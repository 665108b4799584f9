package platform

import (
	"fmt"

	"github.com/loykin/affinity/internal/errdefs"
	"github.com/loykin/affinity/internal/profile"
)

// MaxMaskCores is the number of cores addressable by a Windows affinity mask.
const MaxMaskCores = 64

// niceValues maps priority levels to Linux nice values.
var niceValues = map[profile.Priority]int{
	profile.Idle:        19,
	profile.BelowNormal: 10,
	profile.Normal:      0,
	profile.AboveNormal: -5,
	profile.High:        -10,
	profile.Realtime:    -20,
}

// NiceValue returns the nice value used for p on Linux.
func NiceValue(p profile.Priority) int {
	if v, ok := niceValues[p]; ok {
		return v
	}
	return 0
}

// PriorityFromNice is the inverse of NiceValue. Nice values outside the table
// have no level and yield an error.
func PriorityFromNice(nice int) (profile.Priority, error) {
	for p, v := range niceValues {
		if v == nice {
			return p, nil
		}
	}
	return profile.Normal, errdefs.Errorf(errdefs.System, "read priority", "nice value %d matches no priority level", nice)
}

// BuildMask converts a core list into an affinity bitmask (core index = bit).
func BuildMask(cores []int) (uint64, error) {
	var mask uint64
	for _, c := range cores {
		if c < 0 || c >= MaxMaskCores {
			return 0, errdefs.Errorf(errdefs.UnsupportedCoreCount, "build affinity mask",
				"core %d is outside the %d cores addressable by an affinity mask", c, MaxMaskCores)
		}
		mask |= 1 << uint(c)
	}
	return mask, nil
}

// MaskCores lists the set bits of mask in ascending order.
func MaskCores(mask uint64) []int {
	var out []int
	for i := 0; i < MaxMaskCores; i++ {
		if mask&(1<<uint(i)) != 0 {
			out = append(out, i)
		}
	}
	return out
}

// FormatMask renders a mask the way the tool reports it to users.
func FormatMask(mask uint64) string { return fmt.Sprintf("0x%X", mask) }

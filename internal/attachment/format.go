package attachment

import (
	"fmt"

	"github.com/dustin/go-humanize"
)

var sizeUnits = []string{"B", "KB", "MB", "GB", "TB", "PB", "EB"}

// ReadableFileSize formats a byte count with binary scaling and at most
// three decimal digits: 1023 is "1023 B", 1536 is "1.5 KB".
func ReadableFileSize(size int64) string {
	if size < 0 {
		size = 0
	}
	v := float64(size)
	unit := 0
	for v >= 1024 && unit < len(sizeUnits)-1 {
		v /= 1024
		unit++
	}
	return humanize.FtoaWithDigits(v, 3) + " " + sizeUnits[unit]
}

// ReadableDuration formats seconds as mm:ss, or h:mm:ss from one hour up.
func ReadableDuration(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	h, m, s := seconds/3600, seconds/60%60, seconds%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}

package monitor

import "fmt"

// FormatRate formats a rate value as "X.X runs/min"
func FormatRate(rate float64) string {
	return fmt.Sprintf("%.1f runs/min", rate)
}

// FormatPercentage formats a ratio (0-1) as percentage
func FormatPercentage(ratio float64) string {
	return fmt.Sprintf("%.1f%%", ratio*100)
}

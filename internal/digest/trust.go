package digest

import "strings"

// ComputeTrust scores a finding. Any label containing "verified" is fully
// trusted; otherwise a successful check scores 0.9 and a failed one 0.2.
func ComputeTrust(label string, success bool) float64 {
	if strings.Contains(label, "verified") {
		return 1.0
	}
	if success {
		return 0.9
	}
	return 0.2
}

package negotiation

// ReliabilityScore maps a contact's exchange history to a trust score in
// [0,1] using Laplace smoothing: (successful+1)/(total+2). A contact with no
// history scores a neutral 0.5; every additional failure strictly lowers the
// score and every additional success strictly raises it.
func ReliabilityScore(successful, total, failed int) float64 {
	if total < 0 {
		total = 0
	}
	if successful < 0 {
		successful = 0
	}
	if failed < 0 {
		failed = 0
	}
	if successful+failed > total {
		total = successful + failed
	}
	return float64(successful+1) / float64(total+2)
}

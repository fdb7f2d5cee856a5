package filesecurity

import "math"

// ShannonEntropy returns the entropy of data in bits per byte, from 0 for
// constant input up to 8 for uniformly random input.
func ShannonEntropy(data []byte) float64 {
	if len(data) == 0 {
		return 0
	}

	var freq [256]int
	for _, b := range data {
		freq[b]++
	}

	var entropy float64
	n := float64(len(data))
	for _, count := range freq {
		if count > 0 {
			p := float64(count) / n
			entropy -= p * math.Log2(p)
		}
	}
	return entropy
}

// PrintableRatio is the share of bytes that are printable ASCII or common
// whitespace.
func PrintableRatio(data []byte) float64 {
	if len(data) == 0 {
		return 0
	}
	printable := 0
	for _, b := range data {
		if (b >= 32 && b <= 126) || b == '\t' || b == '\n' || b == '\r' {
			printable++
		}
	}
	return float64(printable) / float64(len(data))
}

// NullRatio is the share of zero bytes.
func NullRatio(data []byte) float64 {
	if len(data) == 0 {
		return 0
	}
	nulls := 0
	for _, b := range data {
		if b == 0 {
			nulls++
		}
	}
	return float64(nulls) / float64(len(data))
}

func head(data []byte, n int) []byte {
	if len(data) > n {
		return data[:n]
	}
	return data
}

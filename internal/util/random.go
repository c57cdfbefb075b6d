package util

import (
	"math/rand"
	"strings"
)

// GenerateRandomID returns "{prefix}{hex}" with hexLength random hex characters.
// The IDs are for display and correlation only, not for anything security related.
func GenerateRandomID(prefix string, hexLength int) string {
	return prefix + GenerateRandomHex(hexLength)
}

// GenerateRandomHex returns length random lowercase hex characters.
func GenerateRandomHex(length int) string {
	if length <= 0 {
		return ""
	}

	const hexChars = "0123456789abcdef"
	var builder strings.Builder
	builder.Grow(length)

	for i := 0; i < length; i++ {
		builder.WriteByte(hexChars[rand.Intn(16)])
	}

	return builder.String()
}

// GenerateCardID generates a transcript card ID with "card_" prefix.
func GenerateCardID() string {
	return GenerateRandomID("card_", 16)
}

// GenerateDeviceID generates a device identifier with "dev_" prefix.
func GenerateDeviceID() string {
	return GenerateRandomID("dev_", 24)
}

package validation

import (
	"fmt"
	"math"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	// PeerIDRegex validates peer ID format
	PeerIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

	// RoomIDRegex validates room ID format
	RoomIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

	// SlotRegex matches p1, p2, ... pN
	SlotRegex = regexp.MustCompile(`^p[1-9][0-9]*$`)
)

// ValidatePeerID validates peer ID
func ValidatePeerID(peerID string) error {
	if peerID == "" {
		return fmt.Errorf("peer ID is required")
	}
	if len(peerID) > 100 {
		return fmt.Errorf("peer ID is too long (max 100 characters)")
	}
	if !PeerIDRegex.MatchString(peerID) {
		return fmt.Errorf("invalid peer ID format")
	}
	return nil
}

// ValidateRoomID validates room ID. Room ids become document path segments,
// so slashes are rejected.
func ValidateRoomID(roomID string) error {
	if roomID == "" {
		return fmt.Errorf("room ID is required")
	}
	if len(roomID) > 100 {
		return fmt.Errorf("room ID is too long (max 100 characters)")
	}
	if !RoomIDRegex.MatchString(roomID) {
		return fmt.Errorf("invalid room ID format")
	}
	return nil
}

// ValidateSlot validates a player slot name.
func ValidateSlot(slot string) error {
	if !SlotRegex.MatchString(slot) {
		return fmt.Errorf("invalid slot %q (expected p1, p2, ...)", slot)
	}
	return nil
}

// ValidateDisplayName validates a player display name.
func ValidateDisplayName(name string) error {
	if !utf8.ValidString(name) {
		return fmt.Errorf("display name contains invalid characters")
	}
	return ValidateStringLength(name, 0, 32, "display name")
}

// ValidatePlayRect checks the play area has finite coordinates and a
// positive size.
func ValidatePlayRect(x, y, width, height float64) error {
	for _, v := range []float64{x, y, width, height} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("play rect must be finite")
		}
	}
	if width <= 0 || height <= 0 {
		return fmt.Errorf("play rect must have positive width and height")
	}
	return nil
}

// ValidateICEServerURL validates a STUN or TURN server URL.
func ValidateICEServerURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("ICE server URL is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid ICE server URL: %w", err)
	}
	switch u.Scheme {
	case "stun", "stuns", "turn", "turns":
	default:
		return fmt.Errorf("invalid ICE server scheme %q (must be stun, stuns, turn or turns)", u.Scheme)
	}
	if u.Opaque == "" && u.Host == "" {
		return fmt.Errorf("ICE server URL must have a host")
	}
	return nil
}

// ValidateNonEmptyString validates that string is not empty after trimming
func ValidateNonEmptyString(s, fieldName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%s is required", fieldName)
	}
	return nil
}

// ValidateStringLength validates string length
func ValidateStringLength(s string, min, max int, fieldName string) error {
	length := utf8.RuneCountInString(s)
	if length < min {
		return fmt.Errorf("%s must be at least %d characters", fieldName, min)
	}
	if length > max {
		return fmt.Errorf("%s is too long (max %d characters)", fieldName, max)
	}
	return nil
}

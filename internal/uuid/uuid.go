// Package uuid provides the identifiers a device attaches to uploaded
// records: a random device id minted once, and a stable client id per
// local record derived from it.
package uuid

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/google/uuid"
)

// UUID v4 format: xxxxxxxx-xxxx-4xxx-yxxx-xxxxxxxxxxxx
// where y is one of [8, 9, a, b] (variant bits)
var uuidV4Regex = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-4[0-9a-fA-F]{3}-[89abAB][0-9a-fA-F]{3}-[0-9a-fA-F]{12}$`)

// clientNamespace scopes record client ids.
var clientNamespace = uuid.MustParse("5b0f3c2e-8d7a-4e1b-9c6f-2a4d8e1f7b30")

// NewDeviceID generates a new device id (UUID v4).
func NewDeviceID() string {
	return uuid.New().String()
}

// IsValid checks if a string is a valid UUID v4.
func IsValid(s string) bool {
	return uuidV4Regex.MatchString(s)
}

// ValidateDeviceID returns an error if s is not a UUID v4.
func ValidateDeviceID(s string) error {
	if !IsValid(s) {
		return fmt.Errorf("invalid device id %q", s)
	}
	return nil
}

// RecordClientID returns the client id for a local record. The same device
// and record id always yield the same value, so re-uploading a record after
// a partial failure lets the authority recognize it.
func RecordClientID(deviceID string, recordID int64) string {
	return uuid.NewSHA1(clientNamespace, []byte(deviceID+"/"+strconv.FormatInt(recordID, 10))).String()
}

package doc

import (
	"github.com/google/uuid"
)

// Mock UUID generation for testing. Returns a function to undo the mocking.
//
// Generates sequential UUIDs if none are given.
func MockUUIDs(uuids ...uuid.UUID) func() {
	var i int
	oldNewUUID := newUUID
	undo := func() { newUUID = oldNewUUID }
	newUUID = func() uuid.UUID {
		var id uuid.UUID
		if i < len(uuids) {
			id = uuids[i]
		} else {
			id[15] = byte(i + 1)
			id[14] = byte((i + 1) >> 8)
		}
		i++
		return id
	}
	return undo
}

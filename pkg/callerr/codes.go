package callerr

// Stable error codes grouped by category.
//
// CALL-0xx: lifecycle preconditions
// CALL-1xx: store failures
// ROOM-0xx: membership resolver
const (
	// CodeInvalidKind is returned when the call kind is not voice or video
	CodeInvalidKind = "CALL-001"
	// CodeMissingField is returned when a required request field is absent
	CodeMissingField = "CALL-002"
	// CodeCallNotFound is returned for an unknown call ID
	CodeCallNotFound = "CALL-003"
	// CodeNotRinging is returned when answering a call that is no longer
	// ringing; a lost answer race surfaces as this code
	CodeNotRinging = "CALL-004"
	// CodeParticipantNotFound is returned for an unknown (call, user) pair
	CodeParticipantNotFound = "CALL-005"

	// CodeStoreTx is a transaction begin/commit failure
	CodeStoreTx = "CALL-100"
	// CodeStoreQuery is a read failure
	CodeStoreQuery = "CALL-101"
	// CodeStoreWrite is an insert/update failure
	CodeStoreWrite = "CALL-102"

	// CodeResolveMembers is a membership lookup failure
	CodeResolveMembers = "ROOM-001"
	// CodeChatPush is an informational chat event push failure
	CodeChatPush = "ROOM-002"
)

package protocol

// HELLO (client -> server)
type HelloMsg struct {
	Type            string            `json:"type"`
	ProtocolVersion string            `json:"protocol_version"`
	ClientName      string            `json:"client_name"`
	Capabilities    HelloCapabilities `json:"capabilities"`
}

type HelloCapabilities struct {
	MaxQueue int `json:"max_queue,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string       `json:"type"`
	ProtocolVersion string       `json:"protocol_version"`
	SessionID       string       `json:"session_id"`
	VolumeID        string       `json:"volume_id"`
	Params          VolumeParams `json:"params"`
}

type VolumeParams struct {
	Radius      int32 `json:"radius"`
	FlushRateHz int   `json:"flush_rate_hz"`
	MaxBatch    int   `json:"max_batch"`
}

// VoxelRef is a voxel as seen on the wire.
type VoxelRef struct {
	Pos   [3]int32 `json:"pos"`
	Color uint32   `json:"color"`
}

// HULL (server -> client): the full current hull, sent once after WELCOME so
// a client can build its mesh before applying deltas. Keys are direction
// names ("+x", "-x", ...).
type HullMsg struct {
	Type            string                `json:"type"`
	ProtocolVersion string                `json:"protocol_version"`
	Flush           uint64                `json:"flush"`
	Faces           map[string][]VoxelRef `json:"faces"`
}

// EDIT (client -> server)
type EditMsg struct {
	Type            string   `json:"type"`
	ProtocolVersion string   `json:"protocol_version"`
	Seq             uint64   `json:"seq"`
	Ops             []EditOp `json:"ops"`
}

type EditOp struct {
	Op    string   `json:"op"` // SET | CLEAR
	Pos   [3]int32 `json:"pos"`
	Color uint32   `json:"color,omitempty"`
}

// DELTA (server -> client): hull changes since the previous flush.
type DeltaMsg struct {
	Type            string                `json:"type"`
	ProtocolVersion string                `json:"protocol_version"`
	Flush           uint64                `json:"flush"`
	Added           map[string][]VoxelRef `json:"added,omitempty"`
	Removed         map[string][]VoxelRef `json:"removed,omitempty"`
}

func (m DeltaMsg) Empty() bool { return len(m.Added) == 0 && len(m.Removed) == 0 }

// Counts returns the number of added and removed faces over all directions.
func (m DeltaMsg) Counts() (added, removed int) {
	for _, v := range m.Added {
		added += len(v)
	}
	for _, v := range m.Removed {
		removed += len(v)
	}
	return added, removed
}

// ERROR (server -> client)
type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Code            string `json:"code"`
	Message         string `json:"message,omitempty"`
	Seq             uint64 `json:"seq,omitempty"`
}

func NewError(code, message string, seq uint64) ErrorMsg {
	return ErrorMsg{
		Type:            TypeError,
		ProtocolVersion: Version,
		Code:            code,
		Message:         message,
		Seq:             seq,
	}
}

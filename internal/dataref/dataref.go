// Package dataref implements the PGAS-style data plane: immutable,
// globally addressable handles that flow along DAG edges so bulk payloads
// never pass through the control plane itself, plus the access-token
// capability model and LLM session affinity bookkeeping that ride on top of
// it.
package dataref

import (
	"time"

	"github.com/google/uuid"
)

// StorageTier is where the bytes behind a DataRef currently live.
type StorageTier string

const (
	TierVRAM StorageTier = "vram"
	TierDRAM StorageTier = "dram"
	TierDisk StorageTier = "disk"
)

// DataKind tags the payload descriptor carried by a DataRef.
type DataKind string

const (
	KindTensor  DataKind = "tensor"
	KindJSON    DataKind = "json"
	KindBytes   DataKind = "bytes"
	KindKVCache DataKind = "kv_cache"
	KindFile    DataKind = "file"
)

// DataDescriptor is the tagged payload-shape metadata for a DataRef. Only
// the fields relevant to Kind are populated; this mirrors the original's
// enum-of-structs using one flat struct, the same convention the teacher
// uses for its token/IR JSON shapes.
type DataDescriptor struct {
	Kind DataKind `json:"kind"`

	// tensor
	Shape       []int  `json:"shape,omitempty"`
	ElementType string `json:"element_type,omitempty"`

	// kv_cache
	ModelID     string `json:"model_id,omitempty"`
	SeqLength   int    `json:"seq_length,omitempty"`

	// file
	MimeType string `json:"mime_type,omitempty"`
}

// DataRef is an immutable, globally addressable handle to data hosted by
// one owning server. Once created, the (uuid, content) binding is fixed:
// Tier and the owning server address may change as the data migrates, but
// the uuid never does.
type DataRef struct {
	UUID         uuid.UUID      `json:"uuid"`
	ServerAddr   string         `json:"server_addr"`
	SizeBytes    int64          `json:"size_bytes"`
	Descriptor   DataDescriptor `json:"descriptor"`
	Tier         StorageTier    `json:"tier"`
	CreatedAt    time.Time      `json:"created_at"`
	WorkflowID   uuid.UUID      `json:"workflow_id"`
	Checksum     string         `json:"checksum,omitempty"`
}

// New creates a DataRef owned by serverAddr. The uuid is assigned once here
// and never changes for the lifetime of the handle.
func New(serverAddr string, size int64, descriptor DataDescriptor, workflowID uuid.UUID) DataRef {
	return DataRef{
		UUID:       uuid.New(),
		ServerAddr: serverAddr,
		SizeBytes:  size,
		Descriptor: descriptor,
		Tier:       TierDRAM,
		CreatedAt:  time.Now().UTC(),
		WorkflowID: workflowID,
	}
}

// InlineThresholdBytes is the default boundary below which a value MAY be
// carried inline in a task/callback message instead of as a DataRef.
const InlineThresholdBytes = 64 * 1024

// ShouldInline reports whether a serialized payload of the given size is
// small enough to be carried inline rather than pushed to the data plane.
func ShouldInline(sizeBytes int64, thresholdBytes int64) bool {
	if thresholdBytes <= 0 {
		thresholdBytes = InlineThresholdBytes
	}
	return sizeBytes < thresholdBytes
}

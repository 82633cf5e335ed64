package badger

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/marmos91/agrisync/pkg/storage"
)

// Key namespace. Entry metadata and payload live under separate prefixes so
// the startup index rebuild can scan metadata without reading payloads.
//
// Data Type          Prefix   Key Format                 Value Type
// ===================================================================
// Entry metadata     "e:"     e:<cache key>              EntryRecord (JSON)
// Entry payload      "d:"     d:<cache key>              raw bytes
// Queued operation   "o:"     o:<id uint64 big-endian>   OperationRecord (JSON)
// Operation sequence "seq:"   seq:ops                    badger Sequence
const (
	prefixEntry     = "e:"
	prefixPayload   = "d:"
	prefixOperation = "o:"
	keyOpSequence   = "seq:ops"
)

func keyEntry(key string) []byte {
	return []byte(prefixEntry + key)
}

func keyPayload(key string) []byte {
	return []byte(prefixPayload + key)
}

// keyOperation encodes the id big-endian so prefix iteration yields ascending ids.
func keyOperation(id uint64) []byte {
	k := make([]byte, len(prefixOperation)+8)
	copy(k, prefixOperation)
	binary.BigEndian.PutUint64(k[len(prefixOperation):], id)
	return k
}

func encodeEntry(rec *storage.EntryRecord) ([]byte, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to encode entry %q: %w", rec.Key, err)
	}
	return data, nil
}

func decodeEntry(data []byte) (*storage.EntryRecord, error) {
	var rec storage.EntryRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode entry: %w", err)
	}
	return &rec, nil
}

func encodeOperation(op *storage.OperationRecord) ([]byte, error) {
	data, err := json.Marshal(op)
	if err != nil {
		return nil, fmt.Errorf("failed to encode operation %d: %w", op.ID, err)
	}
	return data, nil
}

func decodeOperation(data []byte) (*storage.OperationRecord, error) {
	var op storage.OperationRecord
	if err := json.Unmarshal(data, &op); err != nil {
		return nil, fmt.Errorf("failed to decode operation: %w", err)
	}
	return &op, nil
}

// Package snapshot captures a world's entities into a versioned, self-describing blob and restores
// them, and persists snapshots through a pluggable Storage.
package snapshot

import (
	"errors"
	"strings"
	"time"

	"github.com/argus-labs/ecs-core/pkg/ecs"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
)

// Snapshot represents a point-in-time capture of a world's entities.
type Snapshot struct {
	ID        uuid.UUID `json:"id"`
	Frame     uint64    `json:"frame"`
	Timestamp time.Time `json:"timestamp"`
	Data      []byte    `json:"data"`
	Version   uint32    `json:"version"`
}

const CurrentVersion uint32 = 1

var ErrSnapshotNotFound = errors.New("snapshot not found")

// entityRecord is one entity of a snapshot payload.
type entityRecord struct {
	Entity     uint64            `json:"entity"`
	Components []ecs.TaggedBytes `json:"components"`
}

// Capture serializes every live entity of the world. It must not run concurrently with a schedule
// of the world.
func Capture(w *ecs.World) (*Snapshot, error) {
	records := make([]entityRecord, 0, ecs.Len(w))
	for e := range w.Entities() {
		components, err := ecs.EntityBytes(w, e)
		if err != nil {
			return nil, eris.Wrapf(err, "failed to capture entity %s", e)
		}
		records = append(records, entityRecord{Entity: e.Bits(), Components: components})
	}

	data, err := json.Marshal(records)
	if err != nil {
		return nil, eris.Wrap(err, "failed to encode snapshot")
	}
	return &Snapshot{
		ID:        uuid.New(),
		Frame:     w.Frame(),
		Timestamp: time.Now(),
		Data:      data,
		Version:   CurrentVersion,
	}, nil
}

// Restore spawns the snapshot's entities into the world, resolving component types by name, so the
// world must have every type registered under the same names. Entities get new
// handles; the returned map goes from captured handles to restored ones.
func Restore(w *ecs.World, snap *Snapshot) (map[ecs.Entity]ecs.Entity, error) {
	if snap == nil {
		return nil, eris.New("snapshot cannot be nil")
	}
	if snap.Version != CurrentVersion {
		return nil, eris.Errorf("unsupported snapshot version %d, expected %d", snap.Version, CurrentVersion)
	}

	var records []entityRecord
	if err := json.Unmarshal(snap.Data, &records); err != nil {
		return nil, eris.Wrap(err, "failed to decode snapshot")
	}

	mapping := make(map[ecs.Entity]ecs.Entity, len(records))
	for _, record := range records {
		captured := ecs.EntityFromBits(record.Entity)
		restored, err := ecs.SpawnBytes(w, record.Components)
		if err != nil {
			return mapping, eris.Wrapf(err, "failed to restore entity %s", captured)
		}
		mapping[captured] = restored
	}
	return mapping, nil
}

// StorageType defines the type of snapshot storage to use.
type StorageType uint8

const (
	StorageTypeUndefined StorageType = iota
	StorageTypeNop
	StorageTypeRedis
)

const (
	nopStorageString       = "NOP"
	redisStorageString     = "REDIS"
	undefinedStorageString = "UNDEFINED"
)

func (s StorageType) String() string {
	switch s {
	case StorageTypeUndefined:
		return undefinedStorageString
	case StorageTypeNop:
		return nopStorageString
	case StorageTypeRedis:
		return redisStorageString
	default:
		return undefinedStorageString
	}
}

func (s StorageType) IsValid() bool {
	return s == StorageTypeNop || s == StorageTypeRedis
}

func ParseStorageType(s string) (StorageType, error) {
	switch strings.ToUpper(s) {
	case nopStorageString:
		return StorageTypeNop, nil
	case redisStorageString:
		return StorageTypeRedis, nil
	default:
		return StorageTypeUndefined, eris.Errorf("invalid snapshot storage type: %s", s)
	}
}

package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"

	bolt "go.etcd.io/bbolt"

	"github.com/aegiskernel/aegis/pkg/types"
)

var (
	// Bucket names
	bucketArtifacts   = []byte("artifacts")
	bucketIdempotency = []byte("idempotency")
	bucketCheckpoints = []byte("checkpoints")
	bucketCapability  = []byte("capability")
)

// ErrNotFound is returned when a key has no value in the cache
var ErrNotFound = fmt.Errorf("storage: not found")

// BoltStore is the bbolt-backed derived cache: artifact index, mission
// idempotency keys, projector checkpoints, and the capability snapshot.
// Everything in it is rebuildable from the ledger; deleting index.db is
// always safe.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (or creates) index.db under dataDir
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "index.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Create buckets
	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketArtifacts,
			bucketIdempotency,
			bucketCheckpoints,
			bucketCapability,
		}

		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})

	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Artifact index operations

func (s *BoltStore) PutArtifact(artifact *types.Artifact) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketArtifacts)
		data, err := json.Marshal(artifact)
		if err != nil {
			return err
		}
		return b.Put([]byte(artifact.ID), data)
	})
}

func (s *BoltStore) GetArtifact(id string) (*types.Artifact, error) {
	var artifact types.Artifact
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketArtifacts)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("artifact %s: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &artifact)
	})
	if err != nil {
		return nil, err
	}
	return &artifact, nil
}

func (s *BoltStore) ListArtifactsByMission(missionID string) ([]*types.Artifact, error) {
	var artifacts []*types.Artifact
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketArtifacts)
		return b.ForEach(func(k, v []byte) error {
			var artifact types.Artifact
			if err := json.Unmarshal(v, &artifact); err != nil {
				return err
			}
			if artifact.MissionID == missionID {
				artifacts = append(artifacts, &artifact)
			}
			return nil
		})
	})
	return artifacts, err
}

// Idempotency operations: CreateMission dedup keys → mission ids

func (s *BoltStore) PutIdempotencyKey(key, missionID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketIdempotency).Put([]byte(key), []byte(missionID))
	})
}

func (s *BoltStore) GetIdempotencyKey(key string) (string, error) {
	var missionID string
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketIdempotency).Get([]byte(key))
		if data == nil {
			return fmt.Errorf("idempotency key %s: %w", key, ErrNotFound)
		}
		missionID = string(data)
		return nil
	})
	return missionID, err
}

// Checkpoint operations: last projected ledger sequence per view

func (s *BoltStore) PutCheckpoint(name string, seq uint64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, seq)
		return tx.Bucket(bucketCheckpoints).Put([]byte(name), buf)
	})
}

func (s *BoltStore) GetCheckpoint(name string) (uint64, error) {
	var seq uint64
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketCheckpoints).Get([]byte(name))
		if data == nil {
			return fmt.Errorf("checkpoint %s: %w", name, ErrNotFound)
		}
		if len(data) != 8 {
			return fmt.Errorf("checkpoint %s: malformed value", name)
		}
		seq = binary.BigEndian.Uint64(data)
		return nil
	})
	return seq, err
}

// Capability snapshot: stage and lifetime success count

type capabilitySnapshot struct {
	Stage     types.Stage `json:"stage"`
	Successes uint64      `json:"successes"`
}

func (s *BoltStore) PutCapability(stage types.Stage, successes uint64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(capabilitySnapshot{Stage: stage, Successes: successes})
		if err != nil {
			return err
		}
		return tx.Bucket(bucketCapability).Put([]byte("current"), data)
	})
}

func (s *BoltStore) GetCapability() (types.Stage, uint64, error) {
	var snap capabilitySnapshot
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketCapability).Get([]byte("current"))
		if data == nil {
			return fmt.Errorf("capability snapshot: %w", ErrNotFound)
		}
		return json.Unmarshal(data, &snap)
	})
	if err != nil {
		return types.StageDormant, 0, err
	}
	return snap.Stage, snap.Successes, nil
}

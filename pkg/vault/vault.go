package vault

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/aegiskernel/aegis/pkg/log"
	"github.com/aegiskernel/aegis/pkg/storage"
	"github.com/aegiskernel/aegis/pkg/types"
)

// ErrIllegalStatus is returned for review transitions the artifact
// lifecycle does not admit
var ErrIllegalStatus = errors.New("vault: illegal status transition")

// ErrNotFound is returned for unknown artifact ids
var ErrNotFound = errors.New("vault: artifact not found")

// PermissionChecker answers capability queries for the current stage
type PermissionChecker interface {
	Permitted(cap types.Capability) bool
}

// Vault is the content-addressed artifact store. Blobs live on disk named
// by their SHA-256; the metadata index lives in the bbolt cache. Versions
// of the same logical artifact chain through PreviousVersionID and are
// never overwritten.
type Vault struct {
	dir   string
	caps  PermissionChecker
	index *storage.BoltStore

	mu     sync.Mutex
	latest map[string]*types.Artifact
	clock  func() time.Time
}

// New opens a vault rooted at dir, creating it if missing
func New(dir string, caps PermissionChecker, index *storage.BoltStore) (*Vault, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create vault dir: %w", err)
	}
	return &Vault{
		dir:    dir,
		caps:   caps,
		index:  index,
		latest: make(map[string]*types.Artifact),
		clock:  time.Now,
	}, nil
}

// Store persists one artifact: blob to disk, metadata to the index. A new
// artifact for the same (mission, task, type) becomes the next version in
// the chain. Artifacts from tasks at tier D or below are auto-approved
// when the stage has earned AUTO_APPROVE; everything else awaits review.
func (v *Vault) Store(a *types.Artifact, risk types.RiskTier) error {
	now := v.clock().UTC()

	if len(a.Content) > 0 {
		sum := sha256.Sum256(a.Content)
		hash := hex.EncodeToString(sum[:])
		if a.ContentHash == "" {
			a.ContentHash = hash
		}
		path := filepath.Join(v.dir, hash)
		if _, err := os.Stat(path); os.IsNotExist(err) {
			if err := os.WriteFile(path, a.Content, 0644); err != nil {
				return fmt.Errorf("write blob: %w", err)
			}
		}
		a.ContentRef = path
	}

	v.mu.Lock()
	key := versionKey(a)
	if prev := v.latest[key]; prev != nil {
		a.Version = prev.Version + 1
		a.PreviousVersionID = prev.ID
	} else if a.Version == 0 {
		a.Version = 1
	}
	v.latest[key] = a
	v.mu.Unlock()

	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}

	a.Status = types.ArtifactPendingReview
	if types.TierD.AtLeast(risk) && v.caps != nil && v.caps.Permitted(types.CapabilityAutoApprove) {
		a.Status = types.ArtifactApproved
		a.ReviewedAt = now
		a.ReviewedBy = "auto"
	}

	if v.index != nil {
		if err := v.index.PutArtifact(a); err != nil {
			return err
		}
	}

	logger := log.WithComponent("vault")
	logger.Debug().
		Str("artifact_id", a.ID).
		Int("version", a.Version).
		Str("status", string(a.Status)).
		Msg("artifact stored")
	return nil
}

// Review settles a pending artifact with the operator's verdict
func (v *Vault) Review(artifactID, reviewer string, approve bool) (*types.Artifact, error) {
	a, err := v.get(artifactID)
	if err != nil {
		return nil, err
	}
	if a.Status != types.ArtifactPendingReview {
		return nil, fmt.Errorf("%w: review from %s", ErrIllegalStatus, a.Status)
	}

	if approve {
		a.Status = types.ArtifactApproved
	} else {
		a.Status = types.ArtifactRejected
	}
	a.ReviewedAt = v.clock().UTC()
	a.ReviewedBy = reviewer

	return a, v.put(a)
}

// Archive retires a reviewed artifact. Pending artifacts cannot skip
// straight to archived.
func (v *Vault) Archive(artifactID string) (*types.Artifact, error) {
	a, err := v.get(artifactID)
	if err != nil {
		return nil, err
	}
	switch a.Status {
	case types.ArtifactApproved, types.ArtifactRejected:
	default:
		return nil, fmt.Errorf("%w: archive from %s", ErrIllegalStatus, a.Status)
	}

	a.Status = types.ArtifactArchived
	return a, v.put(a)
}

// Get returns one artifact's metadata
func (v *Vault) Get(artifactID string) (*types.Artifact, error) {
	return v.get(artifactID)
}

// ByMission returns all artifacts recorded for a mission
func (v *Vault) ByMission(missionID string) ([]*types.Artifact, error) {
	if v.index == nil {
		return nil, nil
	}
	return v.index.ListArtifactsByMission(missionID)
}

// Read returns an artifact's blob content
func (v *Vault) Read(artifactID string) ([]byte, error) {
	a, err := v.get(artifactID)
	if err != nil {
		return nil, err
	}
	if a.ContentRef == "" {
		return nil, fmt.Errorf("artifact %s: no content", artifactID)
	}
	return os.ReadFile(a.ContentRef)
}

func (v *Vault) get(artifactID string) (*types.Artifact, error) {
	if v.index == nil {
		return nil, ErrNotFound
	}
	a, err := v.index.GetArtifact(artifactID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, artifactID)
	}
	return a, err
}

func (v *Vault) put(a *types.Artifact) error {
	if v.index == nil {
		return nil
	}
	return v.index.PutArtifact(a)
}

func versionKey(a *types.Artifact) string {
	return a.MissionID + "/" + a.TaskID + "/" + string(a.Type)
}

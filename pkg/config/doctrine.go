package config

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// ErrDoctrineViolation is returned when a doctrine invariant is disabled
// or an operation would contradict one. Doctrine violations are never
// masked; the host process exits with code 4 when one is found at boot.
var ErrDoctrineViolation = errors.New("doctrine violation")

// Doctrine holds the immutable runtime invariants. It is loaded once at
// startup, hashed, and the hash is recorded as the first ledger entry of
// each process run. There is no API to change it at runtime.
type Doctrine struct {
	HistoryIsTruth               bool `json:"history_is_truth"`
	AppendOnly                   bool `json:"append_only"`
	NoArtifactNoExistence        bool `json:"no_artifact_no_existence"`
	NoVerificationRejected       bool `json:"no_verification_rejected"`
	IrreversibleRequiresApproval bool `json:"irreversible_requires_approval"`

	// Defaults records whether the built-in doctrine was used because no
	// doctrine file was present.
	Defaults bool `json:"-"`
}

// DefaultDoctrine returns the built-in doctrine with every invariant enabled
func DefaultDoctrine() *Doctrine {
	return &Doctrine{
		HistoryIsTruth:               true,
		AppendOnly:                   true,
		NoArtifactNoExistence:        true,
		NoVerificationRejected:       true,
		IrreversibleRequiresApproval: true,
		Defaults:                     true,
	}
}

// LoadDoctrine reads the doctrine file at path. A missing file yields the
// built-in defaults with Defaults=true; any other read or parse error is
// surfaced to the caller.
func LoadDoctrine(path string) (*Doctrine, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return DefaultDoctrine(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read doctrine: %w", err)
	}

	var d Doctrine
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("parse doctrine: %w", err)
	}
	return &d, nil
}

// Validate rejects a doctrine with any invariant disabled. The core is not
// built to run without them.
func (d *Doctrine) Validate() error {
	switch {
	case !d.HistoryIsTruth:
		return fmt.Errorf("%w: history_is_truth disabled", ErrDoctrineViolation)
	case !d.AppendOnly:
		return fmt.Errorf("%w: append_only disabled", ErrDoctrineViolation)
	case !d.NoArtifactNoExistence:
		return fmt.Errorf("%w: no_artifact_no_existence disabled", ErrDoctrineViolation)
	case !d.NoVerificationRejected:
		return fmt.Errorf("%w: no_verification_rejected disabled", ErrDoctrineViolation)
	case !d.IrreversibleRequiresApproval:
		return fmt.Errorf("%w: irreversible_requires_approval disabled", ErrDoctrineViolation)
	}
	return nil
}

// Hash returns the hex SHA-256 of the doctrine's canonical JSON encoding
func (d *Doctrine) Hash() string {
	data, _ := json.Marshal(d)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Package storage provides the storage abstraction for sealed session
// snapshots. Records are addressed by a namespace and an id and carry an
// opaque Envelope whose Version drives compare-and-swap writes.
package storage

import "context"

// Repository defines the interface for envelope storage.
type Repository interface {
	Put(ctx context.Context, namespace, id string, envelope *Envelope) error
	Get(ctx context.Context, namespace, id string) (*Envelope, error)
	List(ctx context.Context, namespace string) ([]string, error)
	Delete(ctx context.Context, namespace, id string) error
	// PutCAS writes envelope only when the stored version equals
	// expectedVersion. An expectedVersion of zero means "create only".
	PutCAS(ctx context.Context, namespace, id string, expectedVersion uint64, envelope *Envelope) error
}

// RevisionCache remembers the highest revision observed per session so a
// backend that was rolled back to an older snapshot is detected on load.
type RevisionCache interface {
	MaxRevision(ctx context.Context, id string) (uint64, error)
	// ObserveRevision records revision as seen. It returns
	// ErrRollbackDetected when revision is below the recorded maximum.
	ObserveRevision(ctx context.Context, id string, revision uint64) error
	Forget(ctx context.Context, id string) error
}

// CloneEnvelope returns a deep copy of env.
func CloneEnvelope(env *Envelope) *Envelope {
	if env == nil {
		return nil
	}
	return &Envelope{
		Ver:        env.Ver,
		Scheme:     env.Scheme,
		Nonce:      append([]byte(nil), env.Nonce...),
		Ciphertext: append([]byte(nil), env.Ciphertext...),
		Version:    env.Version,
	}
}

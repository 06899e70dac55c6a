package flow

import (
	"context"
	"fmt"
)

// SnapshotKind selects the rollback strategy a snapshot belongs to.
type SnapshotKind string

const (
	// SnapshotContent records an artifact's pre-mutation bytes so a
	// failed branch can restore them in place.
	SnapshotContent SnapshotKind = "content"

	// SnapshotBranch records a disposable side-reference; mutations
	// target only that reference, so failure just abandons it.
	SnapshotBranch SnapshotKind = "branch"
)

// Snapshot is one recorded pre-mutation state. Content snapshots carry
// the target path and original bytes; branch snapshots carry the
// disposable ref name and its base commit.
type Snapshot struct {
	Kind     SnapshotKind `json:"kind"`
	Path     string       `json:"path,omitempty"`
	Original []byte       `json:"original,omitempty"`
	Ref      string       `json:"ref,omitempty"`
	Base     string       `json:"base,omitempty"`
}

// ArtifactStore reads and writes the external artifacts a workflow
// mutates. The code-host collaborator provides the real implementation;
// tests use an in-memory map.
type ArtifactStore interface {
	ReadArtifact(ctx context.Context, path string) ([]byte, error)
	WriteArtifact(ctx context.Context, path string, data []byte) error
}

// RefStore creates disposable side-references on the mutation target.
type RefStore interface {
	CreateRef(ctx context.Context, name, base string) error
}

// TakeContentSnapshot records path's current content in the state before
// a node mutates it. Call once per artifact, before the first write; a
// path already snapshotted in this state keeps its earliest original.
//
// A read failure here is fatal for the branch: mutating without a
// snapshot would make rollback impossible.
func TakeContentSnapshot[D, R any](ctx context.Context, store ArtifactStore, st State[D, R], path string) (State[D, R], error) {
	for _, snap := range st.Snapshots {
		if snap.Kind == SnapshotContent && snap.Path == path {
			return st, nil
		}
	}

	original, err := store.ReadArtifact(ctx, path)
	if err != nil {
		return st, fmt.Errorf("snapshot %s: %w", path, err)
	}

	out := st
	out.Snapshots = append(append([]Snapshot(nil), st.Snapshots...), Snapshot{
		Kind:     SnapshotContent,
		Path:     path,
		Original: original,
	})
	return out, nil
}

// TakeBranchSnapshot creates the disposable ref and records it in the
// state. All subsequent mutations must target only that ref; on failure
// the ref is simply abandoned.
func TakeBranchSnapshot[D, R any](ctx context.Context, refs RefStore, st State[D, R], ref, base string) (State[D, R], error) {
	if err := refs.CreateRef(ctx, ref, base); err != nil {
		return st, fmt.Errorf("create ref %s from %s: %w", ref, base, err)
	}

	out := st
	out.Snapshots = append(append([]Snapshot(nil), st.Snapshots...), Snapshot{
		Kind: SnapshotBranch,
		Ref:  ref,
		Base: base,
	})
	return out, nil
}

// RollbackAll undoes every recorded mutation: content snapshots are
// restored in reverse mutation order, branch snapshots are abandoned
// where they stand. On success the snapshot set is cleared.
//
// A restore failure means an external artifact may be left mutated. It
// comes back as a KindRollback error carrying the path that could not be
// restored, and must reach a human operator rather than be retried.
func RollbackAll[D, R any](ctx context.Context, store ArtifactStore, st State[D, R]) (State[D, R], error) {
	for i := len(st.Snapshots) - 1; i >= 0; i-- {
		snap := st.Snapshots[i]
		if snap.Kind != SnapshotContent {
			continue
		}
		if err := store.WriteArtifact(ctx, snap.Path, snap.Original); err != nil {
			return st, &Error{
				Kind:    KindRollback,
				Message: fmt.Sprintf("restore %s: %v", snap.Path, err),
			}
		}
	}

	out := st
	out.Snapshots = nil
	return out, nil
}

package store

import (
	"context"

	"github.com/mindburn-labs/ledgerkernel/pkg/event"
	"github.com/mindburn-labs/ledgerkernel/pkg/receipt"
)

// Store is the persistence interface the decision engine is built against.
// A caller obtains one from NewSQLiteStore (default, embedded) or
// NewPostgresStore (production), both of which satisfy it identically.
type Store interface {
	Init(ctx context.Context) error

	// WithTx runs fn inside a transaction. A nested call finds the
	// outermost transaction carried in ctx and reuses it, giving callers
	// re-entrant transaction semantics without true nested transactions.
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error

	GetDecision(ctx context.Context, id string) (event.Decision, bool, error)
	PutDecision(ctx context.Context, d event.Decision, expectedVersion *uint64) error

	// AppendEvent is transactional per the contract in component 4.7:
	// idempotency-key short-circuit, next-seq computation, prev_hash
	// linkage, insert, and unique-violation re-fetch are all its
	// responsibility. existed reports whether rec was already present
	// under its idempotency key (in which case the stored record is
	// returned unchanged).
	AppendEvent(ctx context.Context, rec EventRecord) (stored EventRecord, existed bool, err error)
	// FindEventByIdempotencyKey looks up a previously committed event by
	// its idempotency key without appending anything, so a caller can
	// short-circuit a retried request before policy/gate evaluation.
	FindEventByIdempotencyKey(ctx context.Context, decisionID, key string) (EventRecord, bool, error)
	GetEventRecord(ctx context.Context, decisionID string, seq uint64) (EventRecord, bool, error)
	ListEvents(ctx context.Context, decisionID string, fromSeq uint64) ([]EventRecord, error)
	LastEventHash(ctx context.Context, decisionID string) (string, uint64, error)

	PutSnapshot(ctx context.Context, s Snapshot) error
	LatestSnapshotAtOrBefore(ctx context.Context, decisionID string, upToSeq uint64) (Snapshot, bool, error)
	PruneSnapshots(ctx context.Context, decisionID string, keepLastN int) error

	AppendAnchor(ctx context.Context, a Anchor) (Anchor, error)
	ListAnchors(ctx context.Context, decisionID string) ([]Anchor, error)
	AllAnchorsOrdered(ctx context.Context) ([]Anchor, error)
	PruneAnchors(ctx context.Context, keepLastN int) error
	RechainAnchors(ctx context.Context, ordered []Anchor) error

	PutReceipt(ctx context.Context, r Receipt) error
	LatestReceipt(ctx context.Context, decisionID string) (Receipt, bool, error)
	ListReceipts(ctx context.Context, decisionID string) ([]Receipt, error)

	PutPLSShield(ctx context.Context, s receipt.PLSShield) error
	PutRiskLiabilitySignature(ctx context.Context, sig receipt.RiskLiabilitySignature) error

	PutEdge(ctx context.Context, e DecisionEdge) error
	ListEdges(ctx context.Context, decisionID string) ([]DecisionEdge, error)

	GrantRole(ctx context.Context, r Role) error
	RolesFor(ctx context.Context, decisionID, actorID string) ([]string, error)

	PutCounterfactualRun(ctx context.Context, r CounterfactualRun) error

	// BackfillHashChain recomputes (prev_hash, hash) for every event
	// record across every decision whose hash is currently empty. It is
	// a one-time migration run once at store open, under a single
	// transaction covering all decisions.
	BackfillHashChain(ctx context.Context) error

	// OverwriteEventRecordForTest and OverwriteAnchorForTest bypass the
	// normal append path to let verification tests install a
	// deliberately tampered record. Production code never calls these.
	OverwriteEventRecordForTest(ctx context.Context, rec EventRecord) error
	OverwriteAnchorForTest(ctx context.Context, a Anchor) error
}

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/mindburn-labs/ledgerkernel/pkg/event"
	"github.com/mindburn-labs/ledgerkernel/pkg/ledgererr"
	"github.com/mindburn-labs/ledgerkernel/pkg/receipt"
)

// dialect isolates the two differences between the SQLite and Postgres
// backends this package supports: placeholder syntax and the upsert
// clause used for idempotency-key short-circuiting. Everything else —
// schema shape, query structure, scanning — is shared, collapsing what the
// donor codebase kept as two parallel files into one implementation
// parameterized by dialect.
type dialect struct {
	name           string
	placeholder    bool // true if '?' must be rewritten to $1, $2, ... (Postgres)
	onConflictSkip string
}

var sqliteDialect = dialect{name: "sqlite", placeholder: false, onConflictSkip: "ON CONFLICT DO NOTHING"}
var postgresDialect = dialect{name: "postgres", placeholder: true, onConflictSkip: "ON CONFLICT DO NOTHING"}

// rebind rewrites '?' placeholders to '$1'.. for Postgres; SQLite accepts
// '?' natively so it is returned unchanged.
func (d dialect) rebind(query string) string {
	if !d.placeholder {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

type sqlStore struct {
	db      *sql.DB
	dialect dialect
}

type txKey struct{}

func txFromContext(ctx context.Context) (*sql.Tx, bool) {
	tx, ok := ctx.Value(txKey{}).(*sql.Tx)
	return tx, ok
}

// execer abstracts over *sql.DB and *sql.Tx so query helpers work either
// inside or outside an active transaction.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *sqlStore) conn(ctx context.Context) execer {
	if tx, ok := txFromContext(ctx); ok {
		return tx
	}
	return s.db
}

func (s *sqlStore) q(query string) string { return s.dialect.rebind(query) }

// WithTx runs fn inside a transaction. A context already carrying a
// transaction (nested call) reuses it rather than opening a new one,
// giving callers re-entrant semantics without true nested transactions —
// matching the single-writer, cooperative-concurrency model's
// `runInTransaction`-with-savepoints contract without needing savepoints
// at all, since only one transaction is ever actually open at a time.
func (s *sqlStore) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, already := txFromContext(ctx); already {
		return fn(ctx)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	ctx = context.WithValue(ctx, txKey{}, tx)
	if err := fn(ctx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS decisions (
	decision_id TEXT PRIMARY KEY,
	root_id TEXT,
	version INTEGER NOT NULL,
	decision_blob TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS decision_events (
	decision_id TEXT NOT NULL,
	seq INTEGER NOT NULL,
	at TIMESTAMP NOT NULL,
	event_blob TEXT NOT NULL,
	idempotency_key TEXT,
	prev_hash TEXT,
	hash TEXT,
	PRIMARY KEY (decision_id, seq)
);
CREATE UNIQUE INDEX IF NOT EXISTS decision_events_idem
	ON decision_events (decision_id, idempotency_key)
	WHERE idempotency_key IS NOT NULL;
CREATE TABLE IF NOT EXISTS decision_snapshots (
	decision_id TEXT NOT NULL,
	snapshot_id TEXT NOT NULL,
	at TIMESTAMP NOT NULL,
	up_to_seq INTEGER NOT NULL,
	snapshot_blob TEXT NOT NULL,
	checkpoint_hash TEXT,
	root_hash TEXT,
	state_hash TEXT,
	provenance_tail_hash TEXT,
	PRIMARY KEY (decision_id, snapshot_id)
);
CREATE TABLE IF NOT EXISTS decision_anchors (
	seq INTEGER PRIMARY KEY,
	at TIMESTAMP NOT NULL,
	decision_id TEXT NOT NULL,
	snapshot_up_to_seq INTEGER NOT NULL,
	checkpoint_hash TEXT,
	root_hash TEXT,
	state_hash TEXT,
	prev_hash TEXT,
	hash TEXT,
	UNIQUE (decision_id, snapshot_up_to_seq)
);
CREATE TABLE IF NOT EXISTS liability_receipts (
	decision_id TEXT NOT NULL,
	event_seq INTEGER NOT NULL,
	receipt_id TEXT,
	kind TEXT,
	receipt_hash TEXT,
	event_type TEXT,
	actor_id TEXT,
	actor_type TEXT,
	trust_score REAL,
	trust_reason TEXT,
	state_before_hash TEXT,
	state_after_hash TEXT,
	public_state_before_hash TEXT,
	public_state_after_hash TEXT,
	obligations_hash TEXT,
	created_at TIMESTAMP,
	PRIMARY KEY (decision_id, event_seq)
);
CREATE TABLE IF NOT EXISTS pls_shields (
	decision_id TEXT NOT NULL,
	event_seq INTEGER NOT NULL,
	event_type TEXT,
	owner_id TEXT,
	approver_id TEXT,
	signer_state_hash TEXT,
	receipt_hash TEXT,
	shield_hash TEXT,
	created_at TIMESTAMP,
	PRIMARY KEY (decision_id, event_seq)
);
CREATE TABLE IF NOT EXISTS risk_liability_signatures (
	decision_id TEXT NOT NULL,
	event_seq INTEGER NOT NULL,
	event_type TEXT,
	signer_id TEXT,
	signer_state_hash TEXT,
	signature_hash TEXT,
	created_at TIMESTAMP,
	PRIMARY KEY (decision_id, event_seq)
);
CREATE TABLE IF NOT EXISTS decision_edges (
	from_decision_id TEXT NOT NULL,
	to_decision_id TEXT NOT NULL,
	relation TEXT NOT NULL,
	via_event_seq INTEGER,
	edge_hash TEXT,
	meta_json TEXT,
	created_at TIMESTAMP
);
CREATE TABLE IF NOT EXISTS decision_roles (
	decision_id TEXT NOT NULL,
	actor_id TEXT NOT NULL,
	role TEXT NOT NULL,
	created_at TIMESTAMP,
	PRIMARY KEY (decision_id, actor_id, role)
);
CREATE TABLE IF NOT EXISTS counterfactual_runs (
	counterfactual_id TEXT PRIMARY KEY,
	source_decision_id TEXT NOT NULL,
	base_up_to_seq INTEGER NOT NULL,
	engine_version TEXT,
	edits_json TEXT,
	result_decision_id TEXT,
	created_at TIMESTAMP
);
`

func (s *sqlStore) Init(ctx context.Context) error {
	for _, stmt := range strings.Split(schemaSQL, ";\n") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: init schema: %w", err)
		}
	}
	return nil
}

func (s *sqlStore) GetDecision(ctx context.Context, id string) (event.Decision, bool, error) {
	row := s.conn(ctx).QueryRowContext(ctx, s.q(`SELECT decision_blob FROM decisions WHERE decision_id = ?`), id)
	var blob string
	if err := row.Scan(&blob); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return event.Decision{}, false, nil
		}
		return event.Decision{}, false, err
	}
	var d event.Decision
	if err := json.Unmarshal([]byte(blob), &d); err != nil {
		return event.Decision{}, false, err
	}
	return d, true, nil
}

func (s *sqlStore) PutDecision(ctx context.Context, d event.Decision, expectedVersion *uint64) error {
	if expectedVersion != nil {
		existing, ok, err := s.GetDecision(ctx, d.ID)
		if err != nil {
			return err
		}
		if ok && existing.Version != *expectedVersion {
			return ledgererr.New(ledgererr.CodeConcurrentModification, "decision version mismatch")
		}
	}
	blob, err := json.Marshal(d)
	if err != nil {
		return err
	}
	_, err = s.conn(ctx).ExecContext(ctx, s.q(`
		INSERT INTO decisions (decision_id, root_id, version, decision_blob)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (decision_id) DO UPDATE SET root_id = excluded.root_id, version = excluded.version, decision_blob = excluded.decision_blob
	`), d.ID, d.RootID, d.Version, string(blob))
	return err
}

func (s *sqlStore) AppendEvent(ctx context.Context, rec EventRecord) (EventRecord, bool, error) {
	var stored EventRecord
	var existed bool
	err := s.WithTx(ctx, func(ctx context.Context) error {
		if rec.IdempotencyKey != "" {
			if existing, ok, err := s.findByIdemKey(ctx, rec.DecisionID, rec.IdempotencyKey); err != nil {
				return err
			} else if ok {
				stored, existed = existing, true
				return nil
			}
		}

		lastHash, lastSeq, err := s.LastEventHash(ctx, rec.DecisionID)
		if err != nil {
			return err
		}
		rec.Seq = lastSeq + 1
		rec.PrevHash = lastHash
		h, err := HashRecord(rec)
		if err != nil {
			return err
		}
		rec.Hash = h

		blob, err := json.Marshal(rec.Event)
		if err != nil {
			return err
		}
		_, err = s.conn(ctx).ExecContext(ctx, s.q(`
			INSERT INTO decision_events (decision_id, seq, at, event_blob, idempotency_key, prev_hash, hash)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`), rec.DecisionID, rec.Seq, rec.At, string(blob), nullableString(rec.IdempotencyKey), rec.PrevHash, rec.Hash)
		if err != nil {
			// Unique-constraint violation on the idempotency index: a
			// concurrent writer won the race. Re-fetch and return its
			// record rather than erroring.
			if rec.IdempotencyKey != "" {
				if existing, ok, ferr := s.findByIdemKey(ctx, rec.DecisionID, rec.IdempotencyKey); ferr == nil && ok {
					stored, existed = existing, true
					return nil
				}
			}
			return fmt.Errorf("store: append event: %w", err)
		}
		stored = rec
		return nil
	})
	return stored, existed, err
}

func (s *sqlStore) findByIdemKey(ctx context.Context, decisionID, key string) (EventRecord, bool, error) {
	row := s.conn(ctx).QueryRowContext(ctx, s.q(`
		SELECT decision_id, seq, at, event_blob, idempotency_key, prev_hash, hash
		FROM decision_events WHERE decision_id = ? AND idempotency_key = ?
	`), decisionID, key)
	return scanEventRow(row)
}

// FindEventByIdempotencyKey exposes the same idempotency-key lookup
// AppendEvent uses internally, so callers can short-circuit a retried
// request before running policy and gate evaluation against it.
func (s *sqlStore) FindEventByIdempotencyKey(ctx context.Context, decisionID, key string) (EventRecord, bool, error) {
	return s.findByIdemKey(ctx, decisionID, key)
}

func (s *sqlStore) GetEventRecord(ctx context.Context, decisionID string, seq uint64) (EventRecord, bool, error) {
	row := s.conn(ctx).QueryRowContext(ctx, s.q(`
		SELECT decision_id, seq, at, event_blob, idempotency_key, prev_hash, hash
		FROM decision_events WHERE decision_id = ? AND seq = ?
	`), decisionID, seq)
	return scanEventRow(row)
}

func (s *sqlStore) ListEvents(ctx context.Context, decisionID string, fromSeq uint64) ([]EventRecord, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, s.q(`
		SELECT decision_id, seq, at, event_blob, idempotency_key, prev_hash, hash
		FROM decision_events WHERE decision_id = ? AND seq >= ? ORDER BY seq ASC
	`), decisionID, fromSeq)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make([]EventRecord, 0)
	for rows.Next() {
		rec, err := scanEventRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *sqlStore) LastEventHash(ctx context.Context, decisionID string) (string, uint64, error) {
	row := s.conn(ctx).QueryRowContext(ctx, s.q(`
		SELECT hash, seq FROM decision_events WHERE decision_id = ? ORDER BY seq DESC LIMIT 1
	`), decisionID)
	var hash string
	var seq uint64
	if err := row.Scan(&hash, &seq); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", 0, nil
		}
		return "", 0, err
	}
	return hash, seq, nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanEventRow(row *sql.Row) (EventRecord, bool, error) {
	rec, err := scanEventGeneric(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return EventRecord{}, false, nil
		}
		return EventRecord{}, false, err
	}
	return rec, true, nil
}

func scanEventRows(rows *sql.Rows) (EventRecord, error) {
	return scanEventGeneric(rows)
}

func scanEventGeneric(s scannable) (EventRecord, error) {
	var rec EventRecord
	var blob string
	var idem sql.NullString
	var prevHash, hash sql.NullString
	if err := s.Scan(&rec.DecisionID, &rec.Seq, &rec.At, &blob, &idem, &prevHash, &hash); err != nil {
		return EventRecord{}, err
	}
	if err := json.Unmarshal([]byte(blob), &rec.Event); err != nil {
		return EventRecord{}, err
	}
	rec.IdempotencyKey = idem.String
	rec.PrevHash = prevHash.String
	rec.Hash = hash.String
	return rec, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func (s *sqlStore) PutSnapshot(ctx context.Context, snap Snapshot) error {
	blob, err := json.Marshal(snap.Decision)
	if err != nil {
		return err
	}
	if snap.SnapshotID == "" {
		snap.SnapshotID = fmt.Sprintf("%s@%d", snap.DecisionID, snap.UpToSeq)
	}
	_, err = s.conn(ctx).ExecContext(ctx, s.q(`
		INSERT INTO decision_snapshots (decision_id, snapshot_id, at, up_to_seq, snapshot_blob, checkpoint_hash, root_hash, state_hash, provenance_tail_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (decision_id, snapshot_id) DO UPDATE SET
			snapshot_blob = excluded.snapshot_blob, checkpoint_hash = excluded.checkpoint_hash,
			root_hash = excluded.root_hash, state_hash = excluded.state_hash, provenance_tail_hash = excluded.provenance_tail_hash
	`), snap.DecisionID, snap.SnapshotID, snap.At, snap.UpToSeq, string(blob),
		nullableString(snap.CheckpointHash), nullableString(snap.RootHash), snap.StateHash, nullableString(snap.ProvenanceTailHash))
	return err
}

func (s *sqlStore) LatestSnapshotAtOrBefore(ctx context.Context, decisionID string, upToSeq uint64) (Snapshot, bool, error) {
	row := s.conn(ctx).QueryRowContext(ctx, s.q(`
		SELECT decision_id, snapshot_id, at, up_to_seq, snapshot_blob, checkpoint_hash, root_hash, state_hash, provenance_tail_hash
		FROM decision_snapshots WHERE decision_id = ? AND up_to_seq <= ? ORDER BY up_to_seq DESC LIMIT 1
	`), decisionID, upToSeq)

	var snap Snapshot
	var blob string
	var checkpoint, root, tail sql.NullString
	err := row.Scan(&snap.DecisionID, &snap.SnapshotID, &snap.At, &snap.UpToSeq, &blob, &checkpoint, &root, &snap.StateHash, &tail)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Snapshot{}, false, nil
		}
		return Snapshot{}, false, err
	}
	if err := json.Unmarshal([]byte(blob), &snap.Decision); err != nil {
		return Snapshot{}, false, err
	}
	snap.CheckpointHash, snap.RootHash, snap.ProvenanceTailHash = checkpoint.String, root.String, tail.String
	return snap, true, nil
}

func (s *sqlStore) PruneSnapshots(ctx context.Context, decisionID string, keepLastN int) error {
	_, err := s.conn(ctx).ExecContext(ctx, s.q(`
		DELETE FROM decision_snapshots WHERE decision_id = ? AND snapshot_id NOT IN (
			SELECT snapshot_id FROM decision_snapshots WHERE decision_id = ? ORDER BY up_to_seq DESC LIMIT ?
		)
	`), decisionID, decisionID, keepLastN)
	return err
}

func (s *sqlStore) AppendAnchor(ctx context.Context, a Anchor) (Anchor, error) {
	var out Anchor
	err := s.WithTx(ctx, func(ctx context.Context) error {
		row := s.conn(ctx).QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0), COALESCE((SELECT hash FROM decision_anchors ORDER BY seq DESC LIMIT 1), '') FROM decision_anchors`)
		var maxSeq uint64
		var prevHash string
		if err := row.Scan(&maxSeq, &prevHash); err != nil {
			return err
		}
		a.Seq = maxSeq + 1
		a.PrevHash = prevHash
		h, err := AnchorHash(a)
		if err != nil {
			return err
		}
		a.Hash = h

		_, err = s.conn(ctx).ExecContext(ctx, s.q(`
			INSERT INTO decision_anchors (seq, at, decision_id, snapshot_up_to_seq, checkpoint_hash, root_hash, state_hash, prev_hash, hash)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`), a.Seq, a.At, a.DecisionID, a.SnapshotUpToSeq, nullableString(a.CheckpointHash), nullableString(a.RootHash), a.StateHash, nullableString(a.PrevHash), a.Hash)
		if err != nil {
			return err
		}
		out = a
		return nil
	})
	return out, err
}

func (s *sqlStore) ListAnchors(ctx context.Context, decisionID string) ([]Anchor, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, s.q(`
		SELECT seq, at, decision_id, snapshot_up_to_seq, checkpoint_hash, root_hash, state_hash, prev_hash, hash
		FROM decision_anchors WHERE decision_id = ? ORDER BY seq ASC
	`), decisionID)
	if err != nil {
		return nil, err
	}
	return scanAnchors(rows)
}

func (s *sqlStore) AllAnchorsOrdered(ctx context.Context) ([]Anchor, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, `
		SELECT seq, at, decision_id, snapshot_up_to_seq, checkpoint_hash, root_hash, state_hash, prev_hash, hash
		FROM decision_anchors ORDER BY seq ASC
	`)
	if err != nil {
		return nil, err
	}
	return scanAnchors(rows)
}

func scanAnchors(rows *sql.Rows) ([]Anchor, error) {
	defer func() { _ = rows.Close() }()
	out := make([]Anchor, 0)
	for rows.Next() {
		var a Anchor
		var checkpoint, root, prev sql.NullString
		if err := rows.Scan(&a.Seq, &a.At, &a.DecisionID, &a.SnapshotUpToSeq, &checkpoint, &root, &a.StateHash, &prev, &a.Hash); err != nil {
			return nil, err
		}
		a.CheckpointHash, a.RootHash, a.PrevHash = checkpoint.String, root.String, prev.String
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *sqlStore) PruneAnchors(ctx context.Context, keepLastN int) error {
	return s.WithTx(ctx, func(ctx context.Context) error {
		all, err := s.AllAnchorsOrdered(ctx)
		if err != nil {
			return err
		}
		if len(all) <= keepLastN {
			return nil
		}
		kept := all[len(all)-keepLastN:]
		if _, err := s.conn(ctx).ExecContext(ctx, `DELETE FROM decision_anchors`); err != nil {
			return err
		}
		return s.RechainAnchors(ctx, kept)
	})
}

// RechainAnchors recomputes (prev_hash, hash) for every anchor in ordered
// and re-inserts them sequentially, renumbering seq from 1, required so
// verification still works after pruning.
func (s *sqlStore) RechainAnchors(ctx context.Context, ordered []Anchor) error {
	return s.WithTx(ctx, func(ctx context.Context) error {
		prevHash := ""
		for i, a := range ordered {
			a.Seq = uint64(i) + 1
			a.PrevHash = prevHash
			h, err := AnchorHash(a)
			if err != nil {
				return err
			}
			a.Hash = h
			_, err = s.conn(ctx).ExecContext(ctx, s.q(`
				INSERT INTO decision_anchors (seq, at, decision_id, snapshot_up_to_seq, checkpoint_hash, root_hash, state_hash, prev_hash, hash)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT (seq) DO UPDATE SET prev_hash = excluded.prev_hash, hash = excluded.hash
			`), a.Seq, a.At, a.DecisionID, a.SnapshotUpToSeq, nullableString(a.CheckpointHash), nullableString(a.RootHash), a.StateHash, nullableString(a.PrevHash), a.Hash)
			if err != nil {
				return err
			}
			prevHash = a.Hash
		}
		return nil
	})
}

func (s *sqlStore) PutReceipt(ctx context.Context, r Receipt) error {
	_, err := s.conn(ctx).ExecContext(ctx, s.q(`
		INSERT INTO liability_receipts (decision_id, event_seq, receipt_hash, event_type, actor_id, actor_type,
			trust_score, trust_reason, state_before_hash, state_after_hash, public_state_before_hash, public_state_after_hash,
			obligations_hash, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (decision_id, event_seq) DO NOTHING
	`), r.DecisionID, r.EventSeq, r.ReceiptHash, r.EventType, r.ActorID, r.ActorType,
		r.TrustScore, r.TrustReason, r.StateBeforeHash, r.StateAfterHash, r.PublicStateBeforeHash, r.PublicStateAfterHash,
		r.ObligationsHash, r.CreatedAt)
	return err
}

func (s *sqlStore) LatestReceipt(ctx context.Context, decisionID string) (Receipt, bool, error) {
	row := s.conn(ctx).QueryRowContext(ctx, s.q(`
		SELECT decision_id, event_seq, event_type, actor_id, actor_type, trust_score, trust_reason,
			state_before_hash, state_after_hash, public_state_before_hash, public_state_after_hash,
			obligations_hash, created_at, receipt_hash
		FROM liability_receipts WHERE decision_id = ? ORDER BY event_seq DESC LIMIT 1
	`), decisionID)
	return scanReceipt(row)
}

func (s *sqlStore) ListReceipts(ctx context.Context, decisionID string) ([]Receipt, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, s.q(`
		SELECT decision_id, event_seq, event_type, actor_id, actor_type, trust_score, trust_reason,
			state_before_hash, state_after_hash, public_state_before_hash, public_state_after_hash,
			obligations_hash, created_at, receipt_hash
		FROM liability_receipts WHERE decision_id = ? ORDER BY event_seq ASC
	`), decisionID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := make([]Receipt, 0)
	for rows.Next() {
		r, _, err := scanReceiptRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanReceipt(row *sql.Row) (Receipt, bool, error) {
	r, err := scanReceiptGeneric(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Receipt{}, false, nil
		}
		return Receipt{}, false, err
	}
	return r, true, nil
}

func scanReceiptRows(rows *sql.Rows) (Receipt, bool, error) {
	r, err := scanReceiptGeneric(rows)
	return r, err == nil, err
}

func scanReceiptGeneric(s scannable) (Receipt, error) {
	var r Receipt
	var actorID, actorType, trustReason sql.NullString
	var beforeP, afterP sql.NullString
	err := s.Scan(&r.DecisionID, &r.EventSeq, &r.EventType, &actorID, &actorType, &r.TrustScore, &trustReason,
		&r.StateBeforeHash, &r.StateAfterHash, &beforeP, &afterP, &r.ObligationsHash, &r.CreatedAt, &r.ReceiptHash)
	if err != nil {
		return Receipt{}, err
	}
	r.ActorID, r.ActorType, r.TrustReason = actorID.String, actorType.String, trustReason.String
	r.PublicStateBeforeHash, r.PublicStateAfterHash = beforeP.String, afterP.String
	return r, nil
}

func (s *sqlStore) PutPLSShield(ctx context.Context, sh receipt.PLSShield) error {
	_, err := s.conn(ctx).ExecContext(ctx, s.q(`
		INSERT INTO pls_shields (decision_id, event_seq, event_type, owner_id, approver_id, signer_state_hash, receipt_hash, shield_hash, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (decision_id, event_seq) DO NOTHING
	`), sh.DecisionID, sh.EventSeq, sh.EventType, sh.OwnerID, sh.ApproverID, sh.SignerStateHash, sh.ReceiptHash, sh.ShieldHash, sh.CreatedAt)
	return err
}

func (s *sqlStore) PutRiskLiabilitySignature(ctx context.Context, sig receipt.RiskLiabilitySignature) error {
	_, err := s.conn(ctx).ExecContext(ctx, s.q(`
		INSERT INTO risk_liability_signatures (decision_id, event_seq, event_type, signer_id, signer_state_hash, signature_hash, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (decision_id, event_seq) DO NOTHING
	`), sig.DecisionID, sig.EventSeq, sig.EventType, sig.SignerID, sig.SignerStateHash, sig.SignatureHash, sig.CreatedAt)
	return err
}

func (s *sqlStore) PutEdge(ctx context.Context, e DecisionEdge) error {
	metaBlob, err := json.Marshal(e.Meta)
	if err != nil {
		return err
	}
	_, err = s.conn(ctx).ExecContext(ctx, s.q(`
		INSERT INTO decision_edges (from_decision_id, to_decision_id, relation, via_event_seq, edge_hash, meta_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`), e.FromDecisionID, e.ToDecisionID, e.Relation, e.ViaEventSeq, e.EdgeHash, string(metaBlob), e.CreatedAt)
	return err
}

func (s *sqlStore) ListEdges(ctx context.Context, decisionID string) ([]DecisionEdge, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, s.q(`
		SELECT from_decision_id, to_decision_id, relation, via_event_seq, edge_hash, meta_json, created_at
		FROM decision_edges WHERE from_decision_id = ? OR to_decision_id = ?
	`), decisionID, decisionID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := make([]DecisionEdge, 0)
	for rows.Next() {
		var e DecisionEdge
		var metaBlob string
		if err := rows.Scan(&e.FromDecisionID, &e.ToDecisionID, &e.Relation, &e.ViaEventSeq, &e.EdgeHash, &metaBlob, &e.CreatedAt); err != nil {
			return nil, err
		}
		_ = json.Unmarshal([]byte(metaBlob), &e.Meta)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *sqlStore) GrantRole(ctx context.Context, r Role) error {
	_, err := s.conn(ctx).ExecContext(ctx, s.q(`
		INSERT INTO decision_roles (decision_id, actor_id, role, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (decision_id, actor_id, role) DO NOTHING
	`), r.DecisionID, r.ActorID, r.Role, r.CreatedAt)
	return err
}

func (s *sqlStore) RolesFor(ctx context.Context, decisionID, actorID string) ([]string, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, s.q(`
		SELECT role FROM decision_roles WHERE decision_id = ? AND actor_id = ?
	`), decisionID, actorID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := make([]string, 0)
	for rows.Next() {
		var role string
		if err := rows.Scan(&role); err != nil {
			return nil, err
		}
		out = append(out, role)
	}
	return out, rows.Err()
}

func (s *sqlStore) PutCounterfactualRun(ctx context.Context, r CounterfactualRun) error {
	editsBlob, err := json.Marshal(r.Edits)
	if err != nil {
		return err
	}
	_, err = s.conn(ctx).ExecContext(ctx, s.q(`
		INSERT INTO counterfactual_runs (counterfactual_id, source_decision_id, base_up_to_seq, engine_version, edits_json, result_decision_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (counterfactual_id) DO NOTHING
	`), r.CounterfactualID, r.SourceDecisionID, r.BaseUpToSeq, r.EngineVersion, string(editsBlob), nullableString(r.ResultDecisionID), r.CreatedAt)
	return err
}

// BackfillHashChain recomputes hashes for every decision with at least one
// event record missing its hash. It is the one-time migration for
// pre-hash-chain databases described in component 4.7; new installs never
// trigger it because every insert already populates hash/prev_hash.
func (s *sqlStore) BackfillHashChain(ctx context.Context) error {
	return s.WithTx(ctx, func(ctx context.Context) error {
		rows, err := s.conn(ctx).QueryContext(ctx, `SELECT DISTINCT decision_id FROM decision_events WHERE hash IS NULL OR hash = ''`)
		if err != nil {
			return err
		}
		var ids []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				_ = rows.Close()
				return err
			}
			ids = append(ids, id)
		}
		_ = rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(8)
		for _, id := range ids {
			id := id
			g.Go(func() error { return s.backfillOne(gctx, id) })
		}
		return g.Wait()
	})
}

func (s *sqlStore) backfillOne(ctx context.Context, decisionID string) error {
	recs, err := s.ListEvents(ctx, decisionID, 1)
	if err != nil {
		return err
	}
	prevHash := ""
	for _, rec := range recs {
		rec.PrevHash = prevHash
		h, err := HashRecord(rec)
		if err != nil {
			return err
		}
		rec.Hash = h
		_, err = s.conn(ctx).ExecContext(ctx, s.q(`
			UPDATE decision_events SET prev_hash = ?, hash = ? WHERE decision_id = ? AND seq = ?
		`), rec.PrevHash, rec.Hash, rec.DecisionID, rec.Seq)
		if err != nil {
			return err
		}
		prevHash = rec.Hash
	}
	return nil
}

// OverwriteEventRecordForTest writes rec.Hash/PrevHash directly over an
// existing decision_events row, bypassing AppendEvent's chain-linkage
// logic, so verification tests can install a deliberately broken record.
func (s *sqlStore) OverwriteEventRecordForTest(ctx context.Context, rec EventRecord) error {
	_, err := s.conn(ctx).ExecContext(ctx, s.q(`
		UPDATE decision_events SET prev_hash = ?, hash = ? WHERE decision_id = ? AND seq = ?
	`), rec.PrevHash, rec.Hash, rec.DecisionID, rec.Seq)
	return err
}

// OverwriteAnchorForTest writes a.Hash/PrevHash directly over an existing
// decision_anchors row, bypassing AppendAnchor's chain-linkage logic, for
// the same reason OverwriteEventRecordForTest exists.
func (s *sqlStore) OverwriteAnchorForTest(ctx context.Context, a Anchor) error {
	_, err := s.conn(ctx).ExecContext(ctx, s.q(`
		UPDATE decision_anchors SET prev_hash = ?, hash = ? WHERE seq = ?
	`), nullableString(a.PrevHash), a.Hash, a.Seq)
	return err
}

// Package ledgererr defines the structured error taxonomy shared by every
// subsystem of the ledger kernel: transitions, policies, gates, trust,
// execution, integrity, chain verification, PLS and signer binding.
package ledgererr

import "fmt"

// Severity classifies how an error should affect the caller's apply call.
type Severity string

const (
	// Info is informational only; it never blocks and is not normally
	// surfaced as an accumulated warning.
	Info Severity = "INFO"
	// Warn accumulates into a successful ApplyResult's Warnings list.
	Warn Severity = "WARN"
	// Block aborts the current apply call.
	Block Severity = "BLOCK"
)

// Code is a closed-ish set of error codes. New codes should be added here
// rather than constructed ad hoc, so callers can switch on them reliably.
type Code string

const (
	// Transition
	CodeInvalidEventType Code = "INVALID_EVENT_TYPE"
	CodeInvalidTransition Code = "INVALID_TRANSITION"
	CodeLockedDecision    Code = "LOCKED_DECISION"

	// Concurrency
	CodeConcurrentModification Code = "CONCURRENT_MODIFICATION"

	// Policy
	CodeMissingRequiredFields Code = "MISSING_REQUIRED_FIELDS"
	CodeObligationBreached    Code = "OBLIGATION_BREACHED"
	CodeAgentCannotFinalize   Code = "AGENT_CANNOT_FINALIZE"
	CodeComplianceViolation   Code = "COMPLIANCE_VIOLATION"
	CodeInvalidRelation       Code = "INVALID_RELATION"

	// Gates
	CodeRBACRoleRequired  Code = "RBAC_ROLE_REQUIRED"
	CodeWorkflowIncomplete Code = "WORKFLOW_INCOMPLETE"
	CodePolicyViolation    Code = "POLICY_VIOLATION"
	CodeConsequenceBlocked Code = "CONSEQUENCE_BLOCKED"

	// Trust
	CodeTrustOriginZoneRequired   Code = "TRUST_ORIGIN_ZONE_REQUIRED"
	CodeTrustOriginZoneDenied     Code = "TRUST_ORIGIN_ZONE_DENIED"
	CodeTrustOriginZoneNotAllowed Code = "TRUST_ORIGIN_ZONE_NOT_ALLOWED"
	CodeDisputeModeBlock          Code = "DISPUTE_MODE_BLOCK"

	// Execution
	CodeExecutionBlocked Code = "EXECUTION_BLOCKED"

	// Integrity
	CodeDecisionPublicHashMismatch  Code = "DECISION_PUBLIC_HASH_MISMATCH"
	CodeDecisionTampered            Code = "DECISION_TAMPERED"
	CodeDecisionTamperedLegacy      Code = "DECISION_TAMPERED_LEGACY"
	CodeProvenanceTampered          Code = "PROVENANCE_TAMPERED"
	CodeBadGenesisLink              Code = "BAD_GENESIS_LINK"
	CodeBrokenPrevID                Code = "BROKEN_PREV_ID"
	CodeBrokenPrevHash              Code = "BROKEN_PREV_HASH"
	CodeNodeIDMismatch              Code = "NODE_ID_MISMATCH"
	CodeNodeHashMismatch            Code = "NODE_HASH_MISMATCH"
	CodeBagTailMismatch             Code = "BAG_TAIL_MISMATCH"
	CodeSnapshotStateHashMismatch   Code = "SNAPSHOT_STATE_HASH_MISMATCH"
	CodeSnapshotProvTailMismatch    Code = "SNAPSHOT_PROVENANCE_TAIL_MISMATCH"
	CodePLSShieldTampered           Code = "PLS_SHIELD_TAMPERED"
	CodeSignatureTampered           Code = "SIGNATURE_TAMPERED"

	// Chain verification
	CodeMissingHashes            Code = "MISSING_HASHES"
	CodePrevHashMismatch         Code = "PREV_HASH_MISMATCH"
	CodeHashMismatch             Code = "HASH_MISMATCH"
	CodeNonMonotonicSeq          Code = "NON_MONOTONIC_SEQ"
	CodeCheckpointHashMismatch   Code = "CHECKPOINT_HASH_MISMATCH"
	CodeCheckpointEventNotFound  Code = "CHECKPOINT_EVENT_NOT_FOUND"
	CodeNoSnapshot               Code = "NO_SNAPSHOT"

	// PLS
	CodePLSResponsibilityRequired Code = "PLS_RESPONSIBILITY_REQUIRED"
	CodePLSApproverRequired       Code = "PLS_APPROVER_REQUIRED"
	CodePLSApproverActorMismatch  Code = "PLS_APPROVER_ACTOR_MISMATCH"
	CodePLSSignerStateHashRequired Code = "PLS_SIGNER_STATE_HASH_REQUIRED"
	CodePLSSignerStateHashMismatch Code = "PLS_SIGNER_STATE_HASH_MISMATCH"

	// Signer binding
	CodeSignerIDRequired        Code = "SIGNER_ID_REQUIRED"
	CodeSignerStateHashRequired Code = "SIGNER_STATE_HASH_REQUIRED"
	CodeSignerStateHashMismatch Code = "SIGNER_STATE_HASH_MISMATCH"
	CodeSignerActorMismatch     Code = "SIGNER_ACTOR_MISMATCH"

	// Generic / not found
	CodeNotFound Code = "NOT_FOUND"
)

// Error is the structured error value used throughout the kernel.
type Error struct {
	Code     Code
	Sev      Severity
	Message  string
	Details  map[string]any
	Wrapped  error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return string(e.Code)
}

// Unwrap allows errors.Is/As to see through to a wrapped cause.
func (e *Error) Unwrap() error { return e.Wrapped }

// Severity reports the blocking severity of this error.
func (e *Error) Severity() Severity { return e.Sev }

// New constructs a BLOCK-severity error, the common case.
func New(code Code, message string) *Error {
	return &Error{Code: code, Sev: Block, Message: message}
}

// Newf is New with fmt.Sprintf-style formatting.
func Newf(code Code, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// Warnf constructs a WARN-severity error.
func Warnf(code Code, format string, args ...any) *Error {
	e := Newf(code, format, args...)
	e.Sev = Warn
	return e
}

// WithDetails attaches structured details and returns the same error for
// chaining at the call site.
func (e *Error) WithDetails(d map[string]any) *Error {
	e.Details = d
	return e
}

// Wrap attaches an underlying cause.
func (e *Error) Wrap(cause error) *Error {
	e.Wrapped = cause
	return e
}

// IsBlock reports whether err is a *Error with Block severity.
func IsBlock(err error) bool {
	var le *Error
	if ok := asError(err, &le); ok {
		return le.Sev == Block
	}
	return false
}

func asError(err error, target **Error) bool {
	for err != nil {
		if le, ok := err.(*Error); ok {
			*target = le
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

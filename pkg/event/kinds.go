// Package event defines the closed set of decision event kinds, the
// decision lifecycle state machine, and the Decision aggregate's value
// types (artifacts, risk, accountability, history).
package event

// Kind is a tagged variant over the closed set of event kinds a decision
// ledger accepts. Unknown kinds are rejected at the boundary with
// INVALID_EVENT_TYPE; the engine only ever operates on a normalized Kind.
type Kind string

const (
	KindValidate Kind = "VALIDATE"
	KindSimulate Kind = "SIMULATE"
	KindExplain  Kind = "EXPLAIN"
	KindApprove  Kind = "APPROVE"
	KindReject   Kind = "REJECT"

	KindAttachArtifacts Kind = "ATTACH_ARTIFACTS"
	KindSign            Kind = "SIGN"
	KindIngestRecords   Kind = "INGEST_RECORDS"
	KindLinkDecisions   Kind = "LINK_DECISIONS"
	KindAttestExternal  Kind = "ATTEST_EXTERNAL"
	KindEnterDispute    Kind = "ENTER_DISPUTE"
	KindExitDispute     Kind = "EXIT_DISPUTE"

	KindAddObligation     Kind = "ADD_OBLIGATION"
	KindFulfillObligation Kind = "FULFILL_OBLIGATION"
	KindWaiveObligation   Kind = "WAIVE_OBLIGATION"
	KindAttestExecution   Kind = "ATTEST_EXECUTION"

	KindSetRisk          Kind = "SET_RISK"
	KindAddBlastRadius   Kind = "ADD_BLAST_RADIUS"
	KindAddImpactedSystem Kind = "ADD_IMPACTED_SYSTEM"
	KindSetRollbackPlan  Kind = "SET_ROLLBACK_PLAN"

	KindAssignResponsibility Kind = "ASSIGN_RESPONSIBILITY"
	KindAcceptRisk           Kind = "ACCEPT_RISK"
	KindSetTrustPolicy       Kind = "SET_TRUST_POLICY"
	KindAssertTrustOrigin    Kind = "ASSERT_TRUST_ORIGIN"

	KindAgentPropose          Kind = "AGENT_PROPOSE"
	KindAgentTriggerObligation Kind = "AGENT_TRIGGER_OBLIGATION"

	KindSetAmount      Kind = "SET_AMOUNT"
	KindSetObligations Kind = "SET_OBLIGATIONS"
	KindAutoViolation  Kind = "AUTO_VIOLATION"
	KindResolveViolation Kind = "RESOLVE_VIOLATION"
)

// allKinds is the closed set used to validate incoming events.
var allKinds = map[Kind]bool{
	KindValidate: true, KindSimulate: true, KindExplain: true, KindApprove: true, KindReject: true,
	KindAttachArtifacts: true, KindSign: true, KindIngestRecords: true, KindLinkDecisions: true,
	KindAttestExternal: true, KindEnterDispute: true, KindExitDispute: true,
	KindAddObligation: true, KindFulfillObligation: true, KindWaiveObligation: true, KindAttestExecution: true,
	KindSetRisk: true, KindAddBlastRadius: true, KindAddImpactedSystem: true, KindSetRollbackPlan: true,
	KindAssignResponsibility: true, KindAcceptRisk: true, KindSetTrustPolicy: true, KindAssertTrustOrigin: true,
	KindAgentPropose: true, KindAgentTriggerObligation: true,
	KindSetAmount: true, KindSetObligations: true, KindAutoViolation: true, KindResolveViolation: true,
}

// IsKnown reports whether k is in the closed set of accepted event kinds.
func IsKnown(k Kind) bool {
	return allKinds[k]
}

// remediationAllowlist is the fixed set of event kinds permitted to proceed
// even while an open BLOCK execution violation exists.
var remediationAllowlist = map[Kind]bool{
	KindValidate: true, KindSimulate: true, KindExplain: true,
	KindAttachArtifacts: true, KindSign: true, KindAttestExternal: true, KindAttestExecution: true,
	KindEnterDispute: true, KindExitDispute: true,
	KindAddObligation: true, KindFulfillObligation: true, KindWaiveObligation: true,
}

// InRemediationAllowlist reports whether k may proceed despite an open BLOCK
// execution violation, independent of payload content.
func InRemediationAllowlist(k Kind) bool {
	return remediationAllowlist[k]
}

// ActorType enumerates who originated an event.
type ActorType string

const (
	ActorHuman   ActorType = "human"
	ActorService ActorType = "service"
	ActorSystem  ActorType = "system"
	ActorAgent   ActorType = "agent"
)

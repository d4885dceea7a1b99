package event

// State is a decision's lifecycle state.
type State string

const (
	StateDraft     State = "DRAFT"
	StateValidated State = "VALIDATED"
	StateSimulated State = "SIMULATED"
	StateExplained State = "EXPLAINED"
	StateApproved  State = "APPROVED"
	StateRejected  State = "REJECTED"
)

// Locked reports whether s is a terminal, locked state. A locked decision
// only accepts events named in an explicit allowlist (see
// policy.ImmutabilityWindow).
func (s State) Locked() bool {
	return s == StateApproved || s == StateRejected
}

// transitions maps the current state to the set of event kinds that advance
// it, and the state each one advances to. Kinds absent from a state's map
// are side-effect-only with respect to the state machine (they never change
// state), which IsStateChanging distinguishes from a kind that is state-changing
// but structurally inapplicable from the current state.
var transitions = map[State]map[Kind]State{
	StateDraft: {
		KindValidate: StateValidated,
	},
	StateValidated: {
		KindSimulate: StateSimulated,
		KindExplain:  StateExplained,
		KindApprove:  StateApproved,
		KindReject:   StateRejected,
	},
	StateSimulated: {
		KindExplain: StateExplained,
		KindApprove: StateApproved,
		KindReject:  StateRejected,
	},
	StateExplained: {
		KindApprove: StateApproved,
		KindReject:  StateRejected,
	},
}

// stateChangingKinds is the set of kinds that ever appear as a key in any
// state's transition map, i.e. kinds capable of changing state from *some*
// state even if not from the current one.
var stateChangingKinds = map[Kind]bool{
	KindValidate: true, KindSimulate: true, KindExplain: true, KindApprove: true, KindReject: true,
}

// IsStateChanging reports whether k is ever capable of changing decision
// state (VALIDATE/SIMULATE/EXPLAIN/APPROVE/REJECT). All other kinds are
// artifact/side-effect-only and never consulted by the state machine.
func IsStateChanging(k Kind) bool {
	return stateChangingKinds[k]
}

// idempotentKinds may be re-applied from the same state they would already
// produce without failing INVALID_TRANSITION. This enables snapshot-delta
// replay to re-apply VALIDATE/SIMULATE/EXPLAIN defensively.
var idempotentKinds = map[Kind]bool{
	KindValidate: true, KindSimulate: true, KindExplain: true,
}

// IsIdempotentKind reports whether k is allowed to be re-applied from a
// state it would already produce.
func IsIdempotentKind(k Kind) bool {
	return idempotentKinds[k]
}

// idempotentTargets gives the single state each idempotent kind produces
// whenever it is a legal forward transition from any source state (VALIDATE
// only ever produces VALIDATED, SIMULATE only SIMULATED, EXPLAIN only
// EXPLAINED). A re-applied idempotent kind is legitimate only when the
// decision has already reached exactly this state — not merely because the
// kind happens to be in idempotentKinds, which would also paper over an
// illegal out-of-order jump (e.g. EXPLAIN on a fresh DRAFT decision).
var idempotentTargets = map[Kind]State{
	KindValidate: StateValidated,
	KindSimulate: StateSimulated,
	KindExplain:  StateExplained,
}

// IdempotentTargetState returns the state k always produces when it
// legitimately advances the lifecycle, so a caller can distinguish "already
// at the state this kind would produce" (a legal no-op re-apply) from "not
// yet reachable from here" (an illegal transition) when NextState reports
// ok=false for an idempotent kind.
func IdempotentTargetState(k Kind) (target State, ok bool) {
	target, ok = idempotentTargets[k]
	return target, ok
}

// NextState computes the state that applying k from cur would produce.
// ok is false if k is not a valid transition from cur (including
// side-effect-only kinds, for which NextState simply returns cur, ok=true,
// since they never change state and the caller should not treat that as an
// invalid transition by itself).
func NextState(cur State, k Kind) (next State, ok bool) {
	if !IsStateChanging(k) {
		return cur, true
	}
	byKind, known := transitions[cur]
	if !known {
		return cur, false
	}
	next, known = byKind[k]
	if !known {
		return cur, false
	}
	return next, true
}

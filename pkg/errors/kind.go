package errors

// Kind identifies the failure category of a pipeline error. Kinds are stable
// tokens: they appear in audit logs, CLI output and tests, so renaming one is a
// breaking change.
type Kind string

const (
	// General
	KindUnknown Kind = "UNKNOWN"

	// Structural directive errors (canonicalization)
	KindDuplicateKey            Kind = "DUPLICATE"
	KindStructuralCollision     Kind = "COLLISION"
	KindEnvelopeContamination   Kind = "ENVELOPE_CONTAMINATION"
	KindStructurallyIncomplete  Kind = "STRUCTURALLY_INCOMPLETE"
	KindUnknownStructure        Kind = "UNKNOWN_STRUCTURE"
	KindUnknownNestedKey        Kind = "UNKNOWN_NESTED_KEY"
	KindUnknownSubKey           Kind = "UNKNOWN_SUB_KEY"
	KindConflictingDefinition   Kind = "CONFLICTING_DEFINITION"
	KindInvalidBlockType        Kind = "INVALID_BLOCK_TYPE"
	KindMissingRequiredSubBlock Kind = "MISSING_REQUIRED_SUB_BLOCK"

	// Signature / provisioning
	KindSignatureIncomplete Kind = "SIGNATURE_INCOMPLETE"
	KindSignatureMismatch   Kind = "SIGNATURE_MISMATCH"
	KindStrategyHollow      Kind = "STRATEGY_HOLLOW"
	KindStrategyNotFound    Kind = "STRATEGY_NOT_FOUND"

	// Semantic validation
	KindSemanticMismatch Kind = "SEMANTIC_MISMATCH"

	// Execution contract violations
	KindStopContractViolation Kind = "STOP_CONTRACT_VIOLATION"
	KindMissingIndicator      Kind = "MISSING_AUTHORITATIVE_INDICATOR"
	KindMarketStateMissing    Kind = "MARKET_STATE_MISSING"

	// Integrity failures
	KindArtifactTampering Kind = "ARTIFACT_TAMPERING"
	KindManifestMismatch  Kind = "MANIFEST_MISMATCH"
	KindSnapshotDrift     Kind = "SNAPSHOT_DRIFT"

	// Governance violations
	KindIllegalTransition Kind = "ILLEGAL_TRANSITION"
	KindStateCorruption   Kind = "STATE_CORRUPTION"

	// Data failures
	KindDataMissing           Kind = "DATA_MISSING"
	KindMissingConversionData Kind = "MISSING_CONVERSION_DATA"
	KindBrokerSpecInvalid     Kind = "BROKER_SPEC_INVALID"

	// Emission
	KindFolderExists     Kind = "FOLDER_EXISTS"
	KindValidationFailed Kind = "VALIDATION_FAILED"

	// Orchestration
	KindPreflightFailed  Kind = "PREFLIGHT_FAILED"
	KindStageFailed      Kind = "STAGE_FAILED"
	KindResumeRefused    Kind = "RESUME_REFUSED"
	KindEngineIncompatible Kind = "ENGINE_INCOMPATIBLE"
)

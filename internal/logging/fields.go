package logging

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldItemID is the standardized structured logging key for queue item identifiers.
	FieldItemID = "item_id"
	// FieldOwnerID is the standardized structured logging key for the requesting account.
	FieldOwnerID = "owner_id"
	// FieldSessionID is the standardized structured logging key for search session identifiers.
	FieldSessionID = "session_id"
	// FieldSessionStep is the standardized structured logging key for a session stage ordinal.
	FieldSessionStep = "session_step"
	// FieldTaskRef is the standardized structured logging key for remote task identifiers.
	FieldTaskRef = "task_ref"
	// FieldRunID is the standardized structured logging key for remote run identifiers.
	FieldRunID = "run_id"
	// FieldEventType is the standardized structured logging key for machine-readable event names.
	FieldEventType = "event_type"
	// FieldErrorHint is the standardized structured logging key for operator next steps.
	FieldErrorHint = "error_hint"
	// FieldAlert flags warnings or anomalies that should stand out in structured logs.
	FieldAlert = "alert"
)

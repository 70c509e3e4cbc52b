// Package audit keeps the console's audit trail in the audit_logs table.
//
// Each remote action session that reaches a terminal outcome is written as
// one Entry by SessionRecorder. Entries are listed newest first with
// optional filtering by action, entity and outcome.
package audit

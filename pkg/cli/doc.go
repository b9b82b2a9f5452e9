// Package cli implements caseboard-cli, an administration client for the
// caseboard permission server.
//
// Every command talks to the server over HTTP. -server (or CASEBOARD_URL)
// selects the server and -as (or CASEBOARD_ACTOR) names the acting user, which
// is recorded in the audit log.
//
// # Commands
//
// export-snapshot: download all permissions
//
//	caseboard-cli export-snapshot -out backup.json
//
// import-snapshot: replace all permissions; -dry-run only validates
//
//	caseboard-cli import-snapshot -file backup.json -as admin1
//
// export-audit: download the audit log
//
//	caseboard-cli export-audit -format csv -kind add,remove -from 2026-01-01
//
// bulk: grant or revoke one permission for many users
//
//	caseboard-cli bulk -op add -module students -action edit -users u1,u2
//
// check: exit status 0 when allowed, 1 when denied
//
//	caseboard-cli check -user u1 -module reports -action export
package cli

// Package audit records every permission-changing action as an immutable
// entry and serves filtered reads and exports of the log.
//
// # Entries
//
// An Entry carries the actor (id, display name, email), a Kind (add, remove,
// update, reset), a human-readable Details string and the affected Subject.
// Entries are built with NewEntry, which stamps a UUID, the current UTC time
// and the actor found on the context by ActorMiddleware.
//
// # Sinks
//
//	MemoryLog   in-memory, also a Store; the default read side
//	FileLogger  NDJSON file with rotation, replayed at startup
//	DBLogger    audit_log table, also a Store
//	MultiLogger fans one Append out to several sinks
//
// # Export
//
// ExportCSV writes the header
//
//	Data/Hora,Usuário,Email,Ação,Detalhes
//
// followed by one quote-wrapped row per entry. Embedded quotes are not
// escaped, matching the format the dashboard has always produced. JSON and
// NDJSON are also available through Export.
//
// # HTTP
//
//	GET /audit/entries?q=&kind=&from=&to=&limit=
//	GET /audit/export?format=csv|json|ndjson
//	GET /audit/stats
package audit

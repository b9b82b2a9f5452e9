package audit

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// CSVHeader is the header row of the CSV export
const CSVHeader = "Data/Hora,Usuário,Email,Ação,Detalhes"

// csvTimeLayout renders timestamps the way the dashboard displays them
const csvTimeLayout = "02/01/2006 15:04:05"

// ExportCSV renders entries as CSV. Every data field is wrapped in double
// quotes; quotes inside a field are written as-is, not doubled.
func ExportCSV(entries []*Entry) []byte {
	var b strings.Builder
	b.WriteString(CSVHeader)
	b.WriteString("\n")

	for _, e := range entries {
		fields := []string{
			e.Timestamp.Format(csvTimeLayout),
			e.ActorName,
			e.ActorEmail,
			e.Kind.Label(),
			e.Details,
		}
		for i, f := range fields {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteByte('"')
			b.WriteString(f)
			b.WriteByte('"')
		}
		b.WriteString("\n")
	}

	return []byte(b.String())
}

// exportJSON exports entries as a JSON array
func exportJSON(entries []*Entry) ([]byte, error) {
	return json.MarshalIndent(entries, "", "  ")
}

// exportNDJSON exports entries as newline-delimited JSON
func exportNDJSON(entries []*Entry) ([]byte, error) {
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)

	for _, entry := range entries {
		if err := encoder.Encode(entry); err != nil {
			return nil, fmt.Errorf("failed to encode entry: %w", err)
		}
	}

	return buf.Bytes(), nil
}

// ExportFilename returns the attachment name for an export
func ExportFilename(format ExportFormat) string {
	switch format {
	case ExportFormatCSV:
		return "auditoria-permissoes.csv"
	case ExportFormatNDJSON:
		return "auditoria-permissoes.ndjson"
	default:
		return "auditoria-permissoes.json"
	}
}

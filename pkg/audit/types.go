package audit

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// Kind is the category of a permission-changing action
type Kind string

const (
	KindAdd    Kind = "add"
	KindRemove Kind = "remove"
	KindUpdate Kind = "update"
	KindReset  Kind = "reset"
)

var kindLabels = map[Kind]string{
	KindAdd:    "Adicionar",
	KindRemove: "Remover",
	KindUpdate: "Atualizar",
	KindReset:  "Redefinir",
}

// Label returns the localized label used in exports
func (k Kind) Label() string {
	if l, ok := kindLabels[k]; ok {
		return l
	}
	return string(k)
}

// ParseKind validates a kind identifier
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if _, ok := kindLabels[k]; !ok {
		return "", fmt.Errorf("unknown audit action kind: %q", s)
	}
	return k, nil
}

// Entry is a single immutable audit record
type Entry struct {
	ID          string    `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	ActorUserID string    `json:"actorUserId"`
	ActorName   string    `json:"actorName"`
	ActorEmail  string    `json:"actorEmail"`
	Kind        Kind      `json:"action"`
	Details     string    `json:"details"`

	// Subject is the affected user id, role, or "*" for store-wide changes
	Subject string `json:"subject,omitempty"`
}

// Filter selects entries; zero-valued fields match everything
type Filter struct {
	Text  string
	Kinds []Kind
	From  *time.Time
	To    *time.Time

	Limit int
}

// Matches reports whether the entry satisfies every provided filter
func (f Filter) Matches(e *Entry) bool {
	if len(f.Kinds) > 0 && !slices.Contains(f.Kinds, e.Kind) {
		return false
	}
	if f.From != nil && e.Timestamp.Before(*f.From) {
		return false
	}
	if f.To != nil && e.Timestamp.After(*f.To) {
		return false
	}
	if f.Text != "" {
		needle := strings.ToLower(f.Text)
		haystack := strings.ToLower(e.ActorName + "\x00" + e.ActorEmail + "\x00" + e.Details + "\x00" + e.Subject)
		if !strings.Contains(haystack, needle) {
			return false
		}
	}
	return true
}

// ExportFormat represents the format for exporting audit entries
type ExportFormat string

const (
	ExportFormatCSV    ExportFormat = "csv"
	ExportFormatJSON   ExportFormat = "json"
	ExportFormatNDJSON ExportFormat = "ndjson"
)

// Stats summarizes a set of entries
type Stats struct {
	Total  int64          `json:"total"`
	ByKind map[Kind]int64 `json:"byKind"`
	First  *time.Time     `json:"first,omitempty"`
	Last   *time.Time     `json:"last,omitempty"`
}

// ComputeStats aggregates entries into Stats
func ComputeStats(entries []*Entry) Stats {
	s := Stats{ByKind: make(map[Kind]int64)}
	for _, e := range entries {
		s.Total++
		s.ByKind[e.Kind]++
		ts := e.Timestamp
		if s.First == nil || ts.Before(*s.First) {
			s.First = &ts
		}
		if s.Last == nil || ts.After(*s.Last) {
			last := ts
			s.Last = &last
		}
	}
	return s
}

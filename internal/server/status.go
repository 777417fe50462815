package server

import (
	"strconv"
	"strings"
	"time"

	"github.com/danmuck/repoctl/internal/registry"
)

const (
	statusHeader     = "id\tname\taddr\tconnected\tfinished\tstatus"
	statusTimeLayout = "2006-01-02 15:04:05"
)

// renderStatus expects records already ordered by id.
func renderStatus(records []registry.ClientRecord) string {
	var b strings.Builder
	b.WriteString(statusHeader)
	for _, rec := range records {
		b.WriteByte('\n')
		b.WriteString(strconv.FormatUint(rec.ID, 10))
		b.WriteByte('\t')
		b.WriteString(rec.Name)
		b.WriteByte('\t')
		b.WriteString(rec.Addr)
		b.WriteByte('\t')
		b.WriteString(formatStatusTime(rec.ConnectedAt))
		b.WriteByte('\t')
		b.WriteString(formatStatusTime(rec.FinishedAt))
		b.WriteByte('\t')
		b.WriteString(string(rec.Status))
	}
	return b.String()
}

func formatStatusTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(statusTimeLayout)
}

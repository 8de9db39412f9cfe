package prometheus

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/metrics/export/internaldefs"
)

// Source is what the exporter reads on every scrape. *authcore.Engine satisfies it.
type Source interface {
	MetricsSnapshot() authcore.MetricsSnapshot
	AuditDropped() uint64
	UserCacheLen() int
}

// Exporter renders engine metrics in Prometheus text exposition format.
type Exporter struct {
	source Source
}

// New returns an exporter over source.
func New(source Source) *Exporter {
	return &Exporter{source: source}
}

// Handler returns an http.Handler that serves the exposition.
func (p *Exporter) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = w.Write([]byte(p.Render()))
	})
}

// Render returns the current exposition. It is empty when metrics are disabled and
// nothing was dropped.
func (p *Exporter) Render() string {
	if p == nil || p.source == nil {
		return ""
	}

	snapshot := p.source.MetricsSnapshot()
	dropped := p.source.AuditDropped()
	if len(snapshot.Counters) == 0 && len(snapshot.Histograms) == 0 && dropped == 0 {
		return ""
	}

	var b strings.Builder
	b.Grow(4096)

	for _, def := range internaldefs.CounterDefs {
		writeHeader(&b, def.Name, def.Help, "counter")
		writeSample(&b, def.Name, "", snapshot.Counters[def.ID])
	}

	for _, def := range internaldefs.HistogramDefs {
		raw, ok := snapshot.Histograms[def.ID]
		if !ok {
			continue
		}
		cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(raw))
		writeHeader(&b, def.Name, def.Help, "histogram")
		for i, le := range internaldefs.HistogramBounds {
			writeSample(&b, def.Name+"_bucket", `le="`+le+`"`, cumulative[i])
		}
		writeSample(&b, def.Name+"_count", "", cumulative[len(cumulative)-1])
	}

	writeHeader(&b, "authcore_audit_dropped_total", "Audit events dropped by dispatcher backpressure.", "counter")
	writeSample(&b, "authcore_audit_dropped_total", "", dropped)

	writeHeader(&b, "authcore_user_cache_entries", "Entries currently held by the user cache.", "gauge")
	writeSample(&b, "authcore_user_cache_entries", "", uint64(p.source.UserCacheLen()))

	return b.String()
}

func writeHeader(b *strings.Builder, name, help, kind string) {
	b.WriteString("# HELP ")
	b.WriteString(name)
	b.WriteByte(' ')
	b.WriteString(escapeHelp(help))
	b.WriteString("\n# TYPE ")
	b.WriteString(name)
	b.WriteByte(' ')
	b.WriteString(kind)
	b.WriteByte('\n')
}

func writeSample(b *strings.Builder, name, labels string, value uint64) {
	b.WriteString(name)
	if labels != "" {
		b.WriteByte('{')
		b.WriteString(labels)
		b.WriteByte('}')
	}
	b.WriteByte(' ')
	b.WriteString(strconv.FormatUint(value, 10))
	b.WriteByte('\n')
}

func escapeHelp(help string) string {
	help = strings.ReplaceAll(help, "\\", "\\\\")
	help = strings.ReplaceAll(help, "\n", "\\n")
	return help
}

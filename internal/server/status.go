package server

import (
	"fmt"
	"html/template"
	"net/http"

	"github.com/dustin/go-humanize"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/conneroisu/coffeefilter/internal/version"
)

var statusTemplate = template.Must(template.New("status").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body { font-family: system-ui, sans-serif; margin: 2rem; color: #222; }
table { border-collapse: collapse; }
th, td { text-align: left; padding: .25rem .75rem; border-bottom: 1px solid #ddd; }
.muted { color: #777; }
</style>
</head>
<body>
<h1>{{.Title}}</h1>
<p class="muted">{{.Version}}, started {{.Started}}</p>

<h2>Cache</h2>
<table id="stats">
<tr><th>Policy</th><td>{{.Policy}}</td></tr>
<tr><th>Entries</th><td>{{.Entries}} of {{.Capacity}}</td></tr>
<tr><th>Compiled size</th><td>{{.Bytes}}</td></tr>
<tr><th>Hit rate</th><td>{{.HitRate}}</td></tr>
<tr><th>Evictions</th><td>{{.Evictions}}</td></tr>
<tr><th>Compiles</th><td>{{.Compiles}}</td></tr>
<tr><th>Compile failures</th><td>{{.Failures}}</td></tr>
<tr><th>Reload clients</th><td>{{.Clients}}</td></tr>
</table>

<h2>Artifacts</h2>
{{if .Artifacts}}
<table id="artifacts">
<tr><th>Script</th><th>Source</th><th>Size</th><th>Compiled</th></tr>
{{range .Artifacts}}<tr><td>{{.RequestPath}}</td><td>{{.Key}}</td><td>{{.Size}}</td><td>{{.Compiled}}</td></tr>
{{end}}</table>
{{else}}
<p class="muted">Nothing compiled yet.</p>
{{end}}
</body>
</html>
`))

type statusArtifact struct {
	RequestPath string
	Key         string
	Size        string
	Compiled    string
}

type statusPage struct {
	Title     string
	Version   string
	Started   string
	Policy    string
	Entries   string
	Capacity  string
	Bytes     string
	HitRate   string
	Evictions string
	Compiles  string
	Failures  string
	Clients   int
	Artifacts []statusArtifact
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats := s.cache.Stats()
	gw := s.gateway.Stats()

	page := statusPage{
		Title:     cases.Title(language.English).String("coffeefilter status"),
		Version:   version.Get().Short(),
		Started:   humanize.Time(s.startedAt),
		Policy:    cases.Upper(language.English).String(s.config.Cache.Policy),
		Entries:   humanize.Comma(int64(stats.Entries)),
		Capacity:  humanize.Comma(int64(stats.Capacity)),
		Bytes:     humanize.Bytes(uint64(stats.Bytes)),
		HitRate:   fmt.Sprintf("%.1f%%", stats.HitRate*100),
		Evictions: humanize.Comma(stats.Evictions),
		Compiles:  humanize.Comma(gw.Compiles),
		Failures:  humanize.Comma(gw.Failures),
		Clients:   s.hub.count(),
	}
	for _, e := range s.entries() {
		page.Artifacts = append(page.Artifacts, statusArtifact{
			RequestPath: e.RequestPath,
			Key:         e.Key,
			Size:        humanize.Bytes(uint64(e.Bytes)),
			Compiled:    humanize.Time(e.CompiledAt),
		})
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := statusTemplate.Execute(w, page); err != nil {
		s.logger.Warn(r.Context(), err, "Failed to render status page")
	}
}

package cli

import (
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/mossy-p/livecast/internal/models"
	"github.com/mossy-p/livecast/internal/sink"
)

// printer serializes output from callbacks running on other goroutines.
type printer struct {
	mu sync.Mutex
	w  io.Writer
}

func newPrinter(w io.Writer) *printer {
	return &printer{w: w}
}

func (p *printer) Printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, format, args...)
}

func (p *printer) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.w.Write(b)
}

func renderLiveTable(w io.Writer, entries []models.DirectoryEntry, now time.Time) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "Nobody is live right now.")
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"#", "Streamer", "Name", "Live for", "Topic"})
	for i, e := range entries {
		t.AppendRow(table.Row{i + 1, e.ID, e.DisplayName, since(now, e.LiveSince), models.Topic(e.ID)})
	}
	t.Render()
}

func renderStats(w io.Writer, stats map[string]sink.TrackStats) {
	if len(stats) == 0 {
		return
	}

	ids := make([]string, 0, len(stats))
	for id := range stats {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Track", "Kind", "Codec", "Packets", "Bytes"})
	for _, id := range ids {
		st := stats[id]
		t.AppendRow(table.Row{id, st.Kind, st.Codec, st.Packets, st.Bytes})
	}
	t.Render()
}

func since(now, t time.Time) string {
	if t.IsZero() || t.After(now) {
		return "-"
	}
	return now.Sub(t).Truncate(time.Second).String()
}

package main

import (
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/pavelpascari/listsim/pkg/inspector"
)

const shortIDLength = 8

func renderRecords(w io.Writer, recs []inspector.Record, wide bool) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.SetTitle("Requests")

	header := table.Row{"Request", "Key", "Status", "Cache", "Duration", "Error"}
	if wide {
		header = append(header, "Started", "Settled")
	}
	t.AppendHeader(header)

	for _, r := range recs {
		id := r.RequestID
		if !wide && len(id) > shortIDLength {
			id = id[:shortIDLength]
		}

		cache := ""
		if r.Status == inspector.StatusSuccess {
			cache = "miss"
			if r.CacheHit {
				cache = "hit"
			}
		}

		duration := ""
		if r.Status == inspector.StatusSuccess || r.Status == inspector.StatusAborted {
			duration = fmt.Sprintf("%d ms", r.DurationMs)
		}

		row := table.Row{id, r.RequestKey, statusText(r.Status), cache, duration, r.ErrorMessage}
		if wide {
			settled := ""
			if r.SettledAt != nil {
				settled = r.SettledAt.Format(time.RFC3339Nano)
			}
			row = append(row, r.StartedAt.Format(time.RFC3339Nano), settled)
		}
		t.AppendRow(row)
	}

	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Duration", Align: text.AlignRight},
	})
	t.Render()
}

func renderStats(w io.Writer, s inspector.Stats) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.SetTitle("Summary")

	t.AppendHeader(table.Row{"Started", "Succeeded", "Cache hits", "Aborted", "Failed", "Hit ratio", "Avg duration"})
	t.AppendRow(table.Row{
		s.Started,
		s.Succeeded,
		s.CacheHits,
		s.Aborted,
		s.Failed,
		fmt.Sprintf("%.0f%%", s.CacheHitRatio()*100),
		s.AverageDuration().Round(time.Millisecond).String(),
	})
	t.Render()
}

func statusText(s inspector.Status) string {
	switch s {
	case inspector.StatusSuccess:
		return text.FgGreen.Sprint(string(s))
	case inspector.StatusAborted:
		return text.FgYellow.Sprint(string(s))
	case inspector.StatusError:
		return text.FgRed.Sprint(string(s))
	default:
		return string(s)
	}
}

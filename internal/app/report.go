package app

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"pacer/internal/batch"
	"pacer/internal/config"
	"pacer/internal/storage"
	"pacer/pkg/pacer"
)

// Report summarizes one finished batch run.
type Report struct {
	ID             string        `json:"id"`
	Name           string        `json:"name"`
	StartedAt      time.Time     `json:"started_at"`
	Took           time.Duration `json:"took_ns"`
	Delay          time.Duration `json:"delay_ns"`
	MaxConcurrency int           `json:"max_concurrency"`
	MaxInFlight    int           `json:"max_in_flight"`
	Total          int           `json:"total"`
	OK             int           `json:"ok"`
	Failed         int           `json:"failed"`

	// Outcomes are in completion order.
	Outcomes []OutcomeLine `json:"outcomes"`
}

// OutcomeLine is one settled task as shown to users.
type OutcomeLine struct {
	Seq     int           `json:"seq"`
	Index   int           `json:"index"`
	Name    string        `json:"name"`
	Kind    string        `json:"kind"`
	OK      bool          `json:"ok"`
	Error   string        `json:"error,omitempty"`
	Detail  string        `json:"detail,omitempty"`
	Status  int           `json:"status,omitempty"`
	Bytes   int64         `json:"bytes,omitempty"`
	Started time.Time     `json:"started"`
	Took    time.Duration `json:"took_ns"`
}

func newReport(id string, started time.Time, snap pacer.Snapshot, defs []config.TaskConfig, outs pacer.Outcomes[batch.Result]) *Report {
	r := &Report{
		ID:             id,
		Name:           snap.Name,
		StartedAt:      started,
		Took:           time.Since(started),
		Delay:          snap.Delay,
		MaxConcurrency: snap.MaxConcurrency,
		MaxInFlight:    snap.MaxInFlight,
		Total:          len(outs),
		Outcomes:       make([]OutcomeLine, 0, len(outs)),
	}
	for seq, o := range outs {
		line := OutcomeLine{
			Seq:     seq,
			Index:   o.Index,
			Name:    o.Value.Name,
			Kind:    o.Value.Kind,
			OK:      o.OK(),
			Detail:  o.Value.Detail,
			Status:  o.Value.Status,
			Bytes:   o.Value.Bytes,
			Started: o.Started,
			Took:    o.Duration,
		}
		// A panicking task settles with a zero Result; fall back to the definition.
		if line.Name == "" && o.Index < len(defs) {
			line.Name = defs[o.Index].DisplayName(o.Index)
			line.Kind = strings.ToLower(strings.TrimSpace(defs[o.Index].Kind))
		}
		if o.Err != nil {
			line.Error = o.Err.Error()
			r.Failed++
		} else {
			r.OK++
		}
		r.Outcomes = append(r.Outcomes, line)
	}
	return r
}

// Ordered returns outcomes in completion order or, for "submission", by
// task index.
func (r *Report) Ordered(order string) []OutcomeLine {
	out := slices.Clone(r.Outcomes)
	if order == "submission" {
		slices.SortStableFunc(out, func(a, b OutcomeLine) int { return a.Index - b.Index })
	}
	return out
}

// Record converts the report into its stored form.
func (r *Report) Record() storage.RunRecord {
	rec := storage.RunRecord{
		ID:             r.ID,
		Name:           r.Name,
		StartedAt:      r.StartedAt,
		Took:           r.Took,
		Total:          r.Total,
		OK:             r.OK,
		Failed:         r.Failed,
		Delay:          r.Delay,
		MaxConcurrency: r.MaxConcurrency,
		Outcomes:       make([]storage.OutcomeRecord, 0, len(r.Outcomes)),
	}
	for _, o := range r.Outcomes {
		rec.Outcomes = append(rec.Outcomes, storage.OutcomeRecord{
			Seq:     o.Seq,
			Index:   o.Index,
			Name:    o.Name,
			Kind:    o.Kind,
			OK:      o.OK,
			Error:   o.Error,
			Detail:  o.Detail,
			Started: o.Started,
			Took:    o.Took,
		})
	}
	return rec
}

// Render writes the report as "text" or "json".
func (r *Report) Render(w io.Writer, format, order string) error {
	lines := r.Ordered(order)
	if format == "json" {
		cp := *r
		cp.Outcomes = lines
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(cp)
	}

	fmt.Fprintf(w, "run %s (%s): %d tasks, %d ok, %d failed in %s\n",
		r.ID, r.Name, r.Total, r.OK, r.Failed, r.Took.Round(time.Millisecond))
	fmt.Fprintf(w, "delay %s, max concurrency %d, peak in flight %d\n\n",
		r.Delay, r.MaxConcurrency, r.MaxInFlight)
	if len(lines) == 0 {
		_, err := fmt.Fprintln(w, "no tasks")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tTASK\tKIND\tRESULT\tTOOK\tSIZE\tDETAIL")
	for _, l := range lines {
		result := "ok"
		detail := l.Detail
		if !l.OK {
			result = "FAIL"
			detail = l.Error
		}
		size := "-"
		if l.Bytes > 0 {
			size = humanize.Bytes(uint64(l.Bytes))
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			l.Index, l.Name, l.Kind, result, l.Took.Round(time.Millisecond), size, oneLine(detail))
	}
	return tw.Flush()
}

// RenderHistory writes stored runs, newest first, one per line.
func RenderHistory(w io.Writer, runs []storage.RunRecord) error {
	if len(runs) == 0 {
		_, err := fmt.Fprintln(w, "no runs recorded")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tSTARTED\tTOOK\tTOTAL\tOK\tFAILED")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%d\n",
			r.ID, r.Name, humanize.Time(r.StartedAt), r.Took.Round(time.Millisecond), r.Total, r.OK, r.Failed)
	}
	return tw.Flush()
}

func oneLine(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > 80 {
		return s[:77] + "..."
	}
	return s
}

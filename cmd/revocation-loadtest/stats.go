package main

import (
	"fmt"
	"io"
	"slices"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/MrEthical07/authtrail"
)

// outcome classifies a single operation against what the token's state predicts.
type outcome uint8

const (
	outcomeAccepted outcome = iota
	outcomeRejectedRevoked
	// outcomeLeaked is a revoked token that authenticated.
	outcomeLeaked
	outcomeError
	numOutcomes
)

var outcomeNames = [numOutcomes]string{"accepted", "revoked", "leaked", "error"}

type sample struct {
	took    time.Duration
	outcome outcome
}

type phaseReport struct {
	name     string
	elapsed  time.Duration
	sorted   []time.Duration
	outcomes [numOutcomes]int
}

func newPhaseReport(name string, elapsed time.Duration, samples []sample) phaseReport {
	r := phaseReport{name: name, elapsed: elapsed, sorted: make([]time.Duration, 0, len(samples))}
	for _, s := range samples {
		r.sorted = append(r.sorted, s.took)
		r.outcomes[s.outcome]++
	}
	slices.Sort(r.sorted)
	return r
}

func (r phaseReport) ops() int { return len(r.sorted) }

func (r phaseReport) leaked() int { return r.outcomes[outcomeLeaked] }

func (r phaseReport) throughput() float64 {
	if r.elapsed <= 0 {
		return 0
	}
	return float64(r.ops()) / r.elapsed.Seconds()
}

// quantile returns the nearest-rank q-quantile, q in [0, 1].
func (r phaseReport) quantile(q float64) time.Duration {
	n := len(r.sorted)
	if n == 0 {
		return 0
	}
	switch {
	case q <= 0:
		return r.sorted[0]
	case q >= 1:
		return r.sorted[n-1]
	}
	return r.sorted[int(float64(n-1)*q)]
}

func writeReports(w io.Writer, reports ...phaseReport) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprint(tw, "phase\tops\tops/s\tp50\tp95\tp99\tmax\t")
	for _, name := range outcomeNames {
		fmt.Fprintf(tw, "%s\t", name)
	}
	fmt.Fprintln(tw)
	for _, r := range reports {
		fmt.Fprintf(tw, "%s\t%d\t%.0f\t%s\t%s\t%s\t%s\t",
			r.name, r.ops(), r.throughput(),
			r.quantile(0.50).Round(time.Microsecond),
			r.quantile(0.95).Round(time.Microsecond),
			r.quantile(0.99).Round(time.Microsecond),
			r.quantile(1).Round(time.Microsecond),
		)
		for _, n := range r.outcomes {
			fmt.Fprintf(tw, "%d\t", n)
		}
		fmt.Fprintln(tw)
	}
	return tw.Flush()
}

var serverCounters = []struct {
	label string
	id    authtrail.MetricID
}{
	{"revocations confirmed", authtrail.MetricRevokeSuccess},
	{"revocation retries", authtrail.MetricRevokeRetry},
	{"revocations unconfirmed", authtrail.MetricRevokeFailure},
	{"store unavailable", authtrail.MetricStoreUnavailable},
	{"revoked tokens rejected", authtrail.MetricAuthenticateRevoked},
	{"accepted without check", authtrail.MetricFailOpenAccepted},
}

// writeManagerSummary prints what the manager itself counted during the run, so
// client-side outcomes can be checked against it.
func writeManagerSummary(w io.Writer, snap authtrail.MetricsSnapshot, actions map[string]uint64) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, c := range serverCounters {
		fmt.Fprintf(tw, "%s\t%d\n", c.label, snap.Counters[c.id])
	}
	names := make([]string, 0, len(actions))
	for name := range actions {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(tw, "audit %s\t%d\n", name, actions[name])
	}
	return tw.Flush()
}

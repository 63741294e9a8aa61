// Package selector picks one reachable node, preferring the persisted choice
// and otherwise the highest-priority region that answers a probe.
package selector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/John-Robertt/route-cli/internal/model"
)

const (
	DefaultTimeout     = 2 * time.Second
	DefaultParallelism = 4
)

type SelectionError struct {
	AppError model.AppError
	Cause    error
	// Outcomes holds every completed probe, in the order they were decided.
	Outcomes []Outcome
}

func (e *SelectionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.AppError.Code, e.AppError.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.AppError.Code, e.AppError.Message, e.Cause)
}

func (e *SelectionError) Unwrap() error { return e.Cause }

func (e *SelectionError) Is(target error) bool { return target == model.ErrNoReachableNode }

func (e *SelectionError) App() model.AppError { return e.AppError }

// Outcome is the result of probing one node.
type Outcome struct {
	Node      model.Node
	Err       error
	Latency   time.Duration
	CheckedAt time.Time
}

func (o Outcome) OK() bool { return o.Err == nil }

type Selection struct {
	Node  model.Node
	State model.RuntimeState
	// Probes counts the probes that were started.
	Probes int
}

type Selector struct {
	Prober  Prober
	Timeout time.Duration
	// Parallelism bounds concurrent probes. Values <= 1 probe one node at a time.
	Parallelism int
	Now         func() time.Time
	// Observer, when set, sees every probe that ran to completion. Calls are
	// serialized.
	Observer func(Outcome)
	Logger   *slog.Logger

	obsMu sync.Mutex
}

// Select returns the node to use for this run together with the state that
// should be persisted. state is never modified; on error no state is returned.
func (s *Selector) Select(ctx context.Context, nodes []model.Node, state model.RuntimeState) (Selection, error) {
	candidates := make([]model.Node, 0, len(nodes))
	for _, n := range nodes {
		if n.Support.OK() {
			candidates = append(candidates, n)
		}
	}
	if len(candidates) == 0 {
		return Selection{}, newSelectionError(len(nodes), nil, nil)
	}

	var (
		probes   int
		outcomes []Outcome
	)

	if state.SelectedNode != "" {
		if i := indexOf(candidates, state.SelectedNode); i >= 0 {
			persisted := candidates[i]
			probes++
			o := s.probe(ctx, persisted)
			s.observe(o)
			if o.OK() {
				s.logger().Debug("persisted node reachable", "node", persisted.Name)
				return s.selected(persisted, probes), nil
			}
			if err := ctx.Err(); err != nil {
				return Selection{}, err
			}
			s.logger().Info("persisted node unreachable, falling back", "node", persisted.Name, "err", o.Err)
			outcomes = append(outcomes, o)
			candidates = append(candidates[:i:i], candidates[i+1:]...)
		} else {
			s.logger().Debug("persisted node not among candidates", "node", state.SelectedNode)
		}
	}

	ByRegion(candidates)

	winner, ran, rest, err := s.probeOrdered(ctx, candidates)
	probes += ran
	outcomes = append(outcomes, rest...)
	if err != nil {
		return Selection{}, err
	}
	if winner == nil {
		var last error
		if len(outcomes) > 0 {
			last = outcomes[len(outcomes)-1].Err
		}
		return Selection{}, newSelectionError(len(nodes), outcomes, last)
	}
	return s.selected(*winner, probes), nil
}

// ByRegion stable-sorts nodes by region priority, keeping subscription order
// within a region.
func ByRegion(nodes []model.Node) {
	sort.SliceStable(nodes, func(i, j int) bool { return nodes[i].Region < nodes[j].Region })
}

// probeOrdered probes candidates with at most Parallelism probes in flight.
// Probes start in list order and results are consumed in list order, so the
// winner is the first reachable candidate regardless of completion order.
func (s *Selector) probeOrdered(ctx context.Context, candidates []model.Node) (*model.Node, int, []Outcome, error) {
	if len(candidates) == 0 {
		return nil, 0, nil, nil
	}
	par := s.Parallelism
	if par < 1 {
		par = 1
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make([]chan Outcome, len(candidates))
	for i := range results {
		results[i] = make(chan Outcome, 1)
	}

	var (
		started atomic.Int64
		wg      sync.WaitGroup
	)
	sem := make(chan struct{}, par)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i, n := range candidates {
			select {
			case sem <- struct{}{}:
			case <-runCtx.Done():
				return
			}
			if runCtx.Err() != nil {
				<-sem
				return
			}
			started.Add(1)
			wg.Add(1)
			go func(i int, n model.Node) {
				defer wg.Done()
				defer func() { <-sem }()
				o := s.probe(runCtx, n)
				if runCtx.Err() == nil {
					s.observe(o)
				}
				results[i] <- o
			}(i, n)
		}
	}()

	var (
		winner   *model.Node
		outcomes []Outcome
		err      error
	)
decide:
	for i := range candidates {
		select {
		case o := <-results[i]:
			outcomes = append(outcomes, o)
			if o.OK() {
				w := candidates[i]
				winner = &w
				break decide
			}
			s.logger().Debug("probe failed", "node", o.Node.Name, "region", o.Node.Region, "err", o.Err)
		case <-ctx.Done():
			err = ctx.Err()
			break decide
		}
	}
	if winner == nil && err == nil {
		err = ctx.Err()
	}
	cancel()
	wg.Wait()
	return winner, int(started.Load()), outcomes, err
}

func (s *Selector) probe(ctx context.Context, n model.Node) Outcome {
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	pctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	prober := s.Prober
	if prober == nil {
		prober = TCPProber{}
	}
	start := time.Now()
	err := prober.Probe(pctx, n)
	return Outcome{Node: n, Err: err, Latency: time.Since(start), CheckedAt: s.now()}
}

func (s *Selector) observe(o Outcome) {
	if s.Observer == nil {
		return
	}
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	s.Observer(o)
}

func (s *Selector) selected(n model.Node, probes int) Selection {
	return Selection{
		Node:   n,
		State:  model.RuntimeState{SelectedNode: n.Name, LastSelectedAt: s.now()},
		Probes: probes,
	}
}

func (s *Selector) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Selector) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func indexOf(nodes []model.Node, name string) int {
	for i, n := range nodes {
		if n.Name == name {
			return i
		}
	}
	return -1
}

func newSelectionError(total int, outcomes []Outcome, cause error) error {
	msg := "no supported node to probe"
	hint := "run `update` to refresh the subscription"
	if len(outcomes) > 0 {
		msg = fmt.Sprintf("none of %d probed nodes answered", len(outcomes))
		hint = "check network connectivity or the subscription's servers"
	} else if total > 0 {
		msg = fmt.Sprintf("all %d nodes are unsupported", total)
	}
	if cause != nil && errors.Is(cause, context.DeadlineExceeded) {
		cause = fmt.Errorf("probe timed out: %w", cause)
	}
	return &SelectionError{
		AppError: model.AppError{
			Code:    "NO_REACHABLE_NODE",
			Message: msg,
			Stage:   "select",
			Hint:    hint,
		},
		Cause:    cause,
		Outcomes: outcomes,
	}
}

// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kadirpekel/agentcore/pkg/agenterrors"
	"github.com/kadirpekel/agentcore/pkg/step"
)

// RunBody executes entries sequentially against a local context history
// seeded from the caller's history (spec §4.2: control-flow nodes spawn
// ephemeral sub-agents sharing the parent's options). ResetHistory clears
// only this body's local context tracking, not the flattened results
// returned to the caller (spec §4.1). Results from nested control-flow
// entries are flattened inline into the returned slice, matching the
// "results are appended linearly" semantics of Branch/Switch/While/
// ForEach/RetryUntil/RunSubAgent (spec §4.2).
func RunBody(ctx context.Context, rt *Runtime, entries []step.Entry, seed []step.StepResult) ([]step.StepResult, error) {
	history := append([]step.StepResult{}, seed...)
	var out []step.StepResult

	for _, e := range entries {
		s := e.Resolve(history)

		if s.Kind == step.KindResetHistory {
			history = nil
			continue
		}

		var prev *step.StepResult
		if len(history) > 0 {
			p := history[len(history)-1]
			prev = &p
		}

		runHook(ctx, s.Pre, history)
		results, err := Dispatch(ctx, rt, s, history, prev, len(out))
		for i, r := range results {
			if rt.OnStep != nil {
				rt.OnStep(r, len(out)+i)
			}
		}
		runHook(ctx, s.Post, history)

		if err != nil {
			out = append(out, results...)
			return out, err
		}

		out = append(out, results...)
		history = append(history, results...)
	}

	return out, nil
}

// runHook invokes a pre/post hook, recovering a panic and logging any
// returned error without ever masking the step's own outcome (spec §4.2,
// §7: "Hook exceptions are logged but never mask or change step outcomes").
func runHook(ctx context.Context, h step.Hook, history []step.StepResult) {
	if h == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Error("scheduler: step hook panicked", "panic", r)
		}
	}()
	if err := h(ctx, history); err != nil {
		slog.Error("scheduler: step hook returned an error", "error", err)
	}
}

// Dispatch is the single entry point over the step.Step tagged variant
// (spec §9 design note: "A single dispatch function over the variant is
// preferred"). It returns every StepResult the step (and any nested body)
// produced, in program order.
func Dispatch(ctx context.Context, rt *Runtime, s step.Step, history []step.StepResult, prev *step.StepResult, index int) ([]step.StepResult, error) {
	switch s.Kind {
	case step.KindLLM, step.KindMcpExplicit, step.KindMcpAuto:
		res, err := executeLeaf(ctx, rt, s, prev, index)
		if err != nil {
			return nil, err
		}
		return []step.StepResult{res}, nil

	case step.KindParallel:
		res, err := dispatchParallel(ctx, rt, s, history)
		if err != nil {
			return nil, err
		}
		return []step.StepResult{res}, nil

	case step.KindBranch:
		body := s.BranchFalse
		if s.BranchCond != nil && s.BranchCond(history) {
			body = s.BranchTrue
		}
		return RunBody(ctx, rt, body, history)

	case step.KindSwitch:
		key := ""
		if s.SwitchSelector != nil {
			key = s.SwitchSelector(history)
		}
		body, ok := s.SwitchCases[key]
		if !ok {
			body = s.SwitchDefault
		}
		if body == nil {
			return nil, nil
		}
		return RunBody(ctx, rt, body, history)

	case step.KindWhile:
		return dispatchWhile(ctx, rt, s, history)

	case step.KindForEach:
		return dispatchForEach(ctx, rt, s, history)

	case step.KindRetryUntil:
		return dispatchRetryUntil(ctx, rt, s, history)

	case step.KindRunSubAgent:
		if s.SubAgent == nil {
			return nil, fmt.Errorf("scheduler: run-sub-agent step has no agent configured")
		}
		return s.SubAgent.RunHistory(ctx)

	default:
		return nil, fmt.Errorf("scheduler: unknown step kind %q", s.Kind)
	}
}

func dispatchWhile(ctx context.Context, rt *Runtime, s step.Step, history []step.StepResult) ([]step.StepResult, error) {
	maxIter := s.WhileMaxIterations
	if maxIter <= 0 {
		maxIter = step.DefaultWhileMaxIterations
	}

	var deadline time.Time
	if s.WhileTimeout > 0 {
		deadline = time.Now().Add(s.WhileTimeout)
	}

	var out []step.StepResult
	hist := history
	for i := 0; i < maxIter; i++ {
		if s.WhileCond != nil && !s.WhileCond(hist) {
			break
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			break
		}
		results, err := RunBody(ctx, rt, s.WhileBody, hist)
		out = append(out, results...)
		if err != nil {
			return out, err
		}
		hist = append(hist, results...)
	}
	return out, nil
}

func dispatchForEach(ctx context.Context, rt *Runtime, s step.Step, history []step.StepResult) ([]step.StepResult, error) {
	if s.ForEachBody == nil {
		return nil, nil
	}
	var out []step.StepResult
	hist := history
	for _, item := range s.ForEachItems {
		body := s.ForEachBody(item)
		results, err := RunBody(ctx, rt, body, hist)
		out = append(out, results...)
		if err != nil {
			return out, err
		}
		hist = append(hist, results...)
	}
	return out, nil
}

func dispatchRetryUntil(ctx context.Context, rt *Runtime, s step.Step, history []step.StepResult) ([]step.StepResult, error) {
	maxAttempts := s.RetryUntilMaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = step.DefaultMaxAttempts
	}

	var lastResults []step.StepResult
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		results, err := RunBody(ctx, rt, s.RetryUntilBody, history)
		if err != nil {
			return results, err
		}
		lastResults = results

		var last step.StepResult
		if len(results) > 0 {
			last = results[len(results)-1]
		}
		if s.RetryUntilPredicate == nil || s.RetryUntilPredicate(last) {
			return results, nil
		}

		if attempt == maxAttempts {
			break
		}
		if s.RetryUntilBackoff > 0 {
			delay := time.Duration(float64(time.Second) * math.Pow(s.RetryUntilBackoff, float64(attempt-1)))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return lastResults, ctx.Err()
			}
		}
	}

	return lastResults, &agenterrors.RetryExhaustedError{
		Meta:     agenterrors.Meta{StepID: "retry_until"},
		Attempts: maxAttempts,
		Cause:    fmt.Errorf("success predicate never satisfied"),
	}
}

// dispatchParallel runs each child concurrently via errgroup.Group with no
// SetLimit (unbounded, matching "dispatches N children concurrently");
// first error aborts the batch and is propagated, siblings are not
// forcibly cancelled beyond ctx (spec §4.2, §9: cancellation is
// best-effort). Each child is expected to resolve to exactly one
// StepResult; if a child itself nests control-flow and yields several,
// the last one is used as that slot's representative (an explicit choice
// recorded in DESIGN.md, since parallelResults/parallel are defined as
// one StepResult per slot).
func dispatchParallel(ctx context.Context, rt *Runtime, s step.Step, history []step.StepResult) (step.StepResult, error) {
	if s.ParallelMap != nil {
		return dispatchParallelMap(ctx, rt, s.ParallelMap, history)
	}
	return dispatchParallelList(ctx, rt, s.ParallelList, history)
}

func dispatchParallelList(ctx context.Context, rt *Runtime, entries []step.Entry, history []step.StepResult) (step.StepResult, error) {
	results := make([]step.StepResult, len(entries))
	g, gctx := errgroup.WithContext(ctx)
	for i, e := range entries {
		i, e := i, e
		g.Go(func() error {
			r, err := runParallelChild(gctx, rt, e, history)
			results[i] = r
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return step.StepResult{ParallelResults: results, Err: err}, err
	}
	return step.StepResult{ParallelResults: results}, nil
}

func dispatchParallelMap(ctx context.Context, rt *Runtime, entries map[string]step.Entry, history []step.StepResult) (step.StepResult, error) {
	results := make(map[string]step.StepResult, len(entries))
	type kv struct {
		key string
		val step.StepResult
	}
	out := make(chan kv, len(entries))

	g, gctx := errgroup.WithContext(ctx)
	for key, e := range entries {
		key, e := key, e
		g.Go(func() error {
			r, err := runParallelChild(gctx, rt, e, history)
			out <- kv{key: key, val: r}
			return err
		})
	}
	err := g.Wait()
	close(out)
	for pair := range out {
		results[pair.key] = pair.val
	}

	if err != nil {
		return step.StepResult{Parallel: results, Err: err}, err
	}
	return step.StepResult{Parallel: results}, nil
}

func runParallelChild(ctx context.Context, rt *Runtime, e step.Entry, history []step.StepResult) (step.StepResult, error) {
	s := e.Resolve(history)
	var prev *step.StepResult
	if len(history) > 0 {
		p := history[len(history)-1]
		prev = &p
	}
	// Parallel children have no single position in the flattened history
	// vector, so token provenance can't carry a step index here; -1 marks
	// "no enclosing index" for TokenMeta consumers.
	results, err := Dispatch(ctx, rt, s, history, prev, -1)
	if len(results) == 0 {
		return step.StepResult{}, err
	}
	return results[len(results)-1], err
}

package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/canvasflow/engine/internal/domain/execution"
	"github.com/canvasflow/engine/internal/domain/workflow"
)

// Recover restarts executions the process left behind: pending rows
// start fresh, running rows resume from their last checkpoint, paused
// rows go back to waiting on their approval node. Node results in a
// non-terminal state are discarded and re-run.
func (o *Orchestrator) Recover(ctx context.Context) (int, error) {
	recovered := 0
	for _, status := range []string{execution.StatusPending, execution.StatusRunning, execution.StatusPaused} {
		execs, err := o.executions.FindByStatus(ctx, status)
		if err != nil {
			return recovered, fmt.Errorf("recover %s executions: %w", status, err)
		}
		for i := range execs {
			exec := &execs[i]
			o.mu.Lock()
			_, live := o.active[exec.ID]
			o.mu.Unlock()
			if live {
				continue
			}
			if err := o.recoverOne(ctx, exec); err != nil {
				o.log.Error("recover execution", "executionId", exec.ID, "error", err)
				continue
			}
			recovered++
		}
	}
	if recovered > 0 {
		o.log.Info("recovered executions", "count", recovered)
	}
	return recovered, nil
}

func (o *Orchestrator) recoverOne(ctx context.Context, exec *execution.Execution) error {
	wf, err := o.workflows.FindGraphByID(ctx, exec.WorkflowID)
	if err != nil {
		return err
	}
	graph, err := workflow.BuildGraph(wf.Nodes, wf.Connections)
	if err != nil {
		// The workflow changed underneath the run and no longer loads.
		exec.Error = err.Error()
		if uerr := o.executions.UpdateStatus(ctx, exec.ID, execution.StatusFailed, "graph invalid on recovery"); uerr != nil {
			return uerr
		}
		return nil
	}

	if exec.NodeResults == nil {
		exec.NodeResults = make(map[string]*execution.NodeResult)
	}
	for id, nr := range exec.NodeResults {
		switch nr.Status {
		case execution.NodeCompleted, execution.NodeSkipped, execution.NodeFailed:
		case execution.NodeWaiting:
			if exec.Status != execution.StatusPaused || exec.PendingNodeID != id {
				delete(exec.NodeResults, id)
			}
		default:
			// Was in flight when the process died.
			delete(exec.NodeResults, id)
		}
	}

	r := &run{
		exec:     exec,
		graph:    graph,
		sm:       newStateMachine(exec.Status),
		resumeCh: make(chan bool),
		cancelCh: make(chan struct{}),
		done:     make(chan struct{}),
	}
	o.startRun(r)
	o.log.Info("resumed execution", "executionId", exec.ID, "status", exec.Status)
	return nil
}

// Janitor deletes terminal executions past the retention period.
type Janitor struct {
	o         *Orchestrator
	period    time.Duration
	retention time.Duration
	stopCh    chan struct{}
	doneCh    chan struct{}
}

func NewJanitor(o *Orchestrator, period, retention time.Duration) *Janitor {
	if period <= 0 {
		period = time.Hour
	}
	return &Janitor{
		o:         o,
		period:    period,
		retention: retention,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

func (j *Janitor) Run() {
	defer close(j.doneCh)
	ticker := time.NewTicker(j.period)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			j.Sweep(context.Background())
		case <-j.stopCh:
			return
		}
	}
}

func (j *Janitor) Stop() {
	close(j.stopCh)
	<-j.doneCh
}

func (j *Janitor) Sweep(ctx context.Context) {
	if j.retention <= 0 {
		return
	}
	cutoff := time.Now().Add(-j.retention)
	deleted, err := j.o.executions.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		j.o.log.Error("retention sweep", "error", err)
		return
	}
	if deleted > 0 {
		j.o.log.Info("retention sweep removed executions", "count", deleted, "cutoff", cutoff)
	}
}

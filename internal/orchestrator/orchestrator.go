package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/canvasflow/engine/internal/domain/execution"
	"github.com/canvasflow/engine/internal/domain/workflow"
	"github.com/canvasflow/engine/internal/jobqueue"
	"github.com/canvasflow/engine/internal/nodes"
	"github.com/canvasflow/engine/internal/store"
	"github.com/canvasflow/engine/pkg/config"
	"github.com/canvasflow/engine/pkg/events"
	"github.com/canvasflow/engine/pkg/logger"
	"github.com/canvasflow/engine/pkg/metrics"
)

// jobTypeNode is the queue job type for every node execution. The
// payload carries the node and its assembled input.
const jobTypeNode = "node.execute"

type nodeTask struct {
	node  workflow.Node
	input nodes.Input
}

// Orchestrator drives workflow executions: it resolves the graph,
// schedules ready nodes onto the job queue, tracks per-node results,
// and owns each execution's state machine. It is the local Backend
// implementation.
type Orchestrator struct {
	cfg        config.EngineConfig
	log        logger.Logger
	workflows  store.WorkflowRepository
	executions store.ExecutionRepository
	registry   *nodes.Registry
	queue      *jobqueue.Queue
	bus        events.EventBus
	m          *metrics.Metrics

	sem chan struct{}

	mu     sync.Mutex
	active map[string]*run
	wg     sync.WaitGroup
}

// run is the in-memory side of one live execution. The run goroutine
// is the only writer of exec after start.
type run struct {
	exec  *execution.Execution
	graph *workflow.Graph
	sm    *stateMachine

	resumeCh   chan bool
	cancelCh   chan struct{}
	cancelOnce sync.Once
	done       chan struct{}
}

func (r *run) cancel() {
	r.cancelOnce.Do(func() { close(r.cancelCh) })
}

func (r *run) cancelled() bool {
	select {
	case <-r.cancelCh:
		return true
	default:
		return false
	}
}

func New(
	cfg config.EngineConfig,
	workflows store.WorkflowRepository,
	executions store.ExecutionRepository,
	registry *nodes.Registry,
	queue *jobqueue.Queue,
	bus events.EventBus,
	m *metrics.Metrics,
	log logger.Logger,
) (*Orchestrator, error) {
	if m == nil {
		m = metrics.NewNop()
	}
	o := &Orchestrator{
		cfg:        cfg,
		log:        log,
		workflows:  workflows,
		executions: executions,
		registry:   registry,
		queue:      queue,
		bus:        bus,
		m:          m,
		active:     make(map[string]*run),
	}
	if cfg.MaxConcurrentRuns > 0 {
		o.sem = make(chan struct{}, cfg.MaxConcurrentRuns)
	}
	if err := queue.RegisterHandler(jobTypeNode, o.handleNodeJob); err != nil {
		return nil, err
	}
	return o, nil
}

func (o *Orchestrator) Name() string { return "local" }

func (o *Orchestrator) Healthy(ctx context.Context) bool { return true }

// handleNodeJob runs inside a queue worker. Handler errors feed the
// queue's retry policy; a missing handler is not retryable but the
// registry fallback makes that unreachable for registered fallbacks.
func (o *Orchestrator) handleNodeJob(ctx context.Context, job *jobqueue.JobContext) (interface{}, error) {
	task, ok := job.Payload.(*nodeTask)
	if !ok {
		return nil, fmt.Errorf("unexpected payload type %T", job.Payload)
	}
	handler, ok := o.registry.Get(task.node.Type)
	if !ok {
		return nil, fmt.Errorf("%w: %s", execution.ErrNodeHandlerMissing, task.node.Type)
	}
	job.Log("executing node %s (%s)", task.node.ID, task.node.Type)
	return handler.Execute(ctx, task.input)
}

// ExecuteWorkflow validates the graph, persists a pending execution
// and starts its run goroutine. The returned id is usable with
// GetStatus immediately.
func (o *Orchestrator) ExecuteWorkflow(ctx context.Context, workflowID string, inputs map[string]interface{}, triggerType string) (string, error) {
	wf, err := o.workflows.FindGraphByID(ctx, workflowID)
	if err != nil {
		return "", err
	}
	graph, err := workflow.BuildGraph(wf.Nodes, wf.Connections)
	if err != nil {
		return "", fmt.Errorf("%w: %v", execution.ErrGraphInvalid, err)
	}
	if len(graph.StartNodes()) == 0 {
		return "", fmt.Errorf("%w: %v", execution.ErrGraphInvalid, workflow.ErrNoStartNode)
	}
	if triggerType == "" {
		triggerType = execution.TriggerManual
	}

	exec := execution.New(workflowID, triggerType, inputs)
	if err := o.executions.Create(ctx, exec); err != nil {
		return "", err
	}
	o.publish(events.ExecutionQueued, exec, "", nil)

	r := &run{
		exec:     exec,
		graph:    graph,
		sm:       newStateMachine(exec.Status),
		resumeCh: make(chan bool),
		cancelCh: make(chan struct{}),
		done:     make(chan struct{}),
	}
	o.startRun(r)
	return exec.ID, nil
}

func (o *Orchestrator) startRun(r *run) {
	o.mu.Lock()
	o.active[r.exec.ID] = r
	o.mu.Unlock()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer close(r.done)
		defer func() {
			o.mu.Lock()
			delete(o.active, r.exec.ID)
			o.mu.Unlock()
		}()
		o.runLoop(r)
	}()
}

// GetStatus reads the persisted execution. Reads have no side effects,
// so repeated calls on a terminal execution return identical data.
func (o *Orchestrator) GetStatus(ctx context.Context, executionID string) (*execution.Execution, error) {
	return o.executions.FindByID(ctx, executionID)
}

// Cancel requests cooperative cancellation. In-flight node work is
// never preempted; the run stops before scheduling anything further.
// Cancelling an already terminal execution is a no-op.
func (o *Orchestrator) Cancel(ctx context.Context, executionID string) error {
	o.mu.Lock()
	r, ok := o.active[executionID]
	o.mu.Unlock()
	if ok {
		r.cancel()
		return nil
	}

	exec, err := o.executions.FindByID(ctx, executionID)
	if err != nil {
		return err
	}
	if execution.IsTerminal(exec.Status) {
		return nil
	}
	// No live run, e.g. a pending row left over from a crash.
	return o.executions.UpdateStatus(ctx, executionID, execution.StatusCancelled, "cancelled by user")
}

// Resume delivers an approval decision to a paused execution. Approved
// resumes the graph at the waiting node; rejected fails the execution.
func (o *Orchestrator) Resume(ctx context.Context, executionID string, approved bool) error {
	o.mu.Lock()
	r, ok := o.active[executionID]
	o.mu.Unlock()
	if !ok {
		exec, err := o.executions.FindByID(ctx, executionID)
		if err != nil {
			return err
		}
		if exec.Status != execution.StatusPaused {
			return execution.ErrNotPaused
		}
		return fmt.Errorf("execution %s has no live run, recover it first", executionID)
	}
	if r.sm.Current() != execution.StatusPaused {
		return execution.ErrNotPaused
	}
	select {
	case r.resumeCh <- approved:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-r.done:
		return execution.ErrNotPaused
	}
}

// ExecuteSingleNode runs one node in isolation with the given records
// as its input, bypassing the queue. Meant for testing a node while
// editing a workflow.
func (o *Orchestrator) ExecuteSingleNode(ctx context.Context, workflowID, nodeID string, input []execution.Record) (*nodes.Result, error) {
	wf, err := o.workflows.FindGraphByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	graph, err := workflow.BuildGraph(wf.Nodes, wf.Connections)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", execution.ErrGraphInvalid, err)
	}
	node, ok := graph.Node(nodeID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", workflow.ErrNodeNotFound, nodeID)
	}
	handler, ok := o.registry.Get(node.Type)
	if !ok {
		return nil, fmt.Errorf("%w: %s", execution.ErrNodeHandlerMissing, node.Type)
	}

	if o.cfg.NodeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.NodeTimeout)
		defer cancel()
	}
	in := nodes.Input{
		Records: input,
		Ports:   map[string][]execution.Record{workflow.PortDefault: input},
		Config:  node.Config,
		Context: nodes.ExecutionContext{
			WorkflowID: workflowID,
			NodeID:     node.ID,
			NodeName:   node.Name,
			Logger:     o.log,
		},
	}
	return handler.Execute(ctx, in)
}

// Shutdown waits for live runs to finish, up to the context deadline.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runLoop is the per-execution driver. One goroutine per live run;
// exec is written only here after the run starts.
func (o *Orchestrator) runLoop(r *run) {
	ctx := context.Background()
	exec := r.exec

	if o.sem != nil {
		select {
		case o.sem <- struct{}{}:
			defer func() { <-o.sem }()
		case <-r.cancelCh:
			o.finish(ctx, r, execution.StatusCancelled, "cancelled by user")
			return
		}
	}

	startedAt := time.Now()
	o.m.ActiveExecutions.Inc()
	defer o.m.ActiveExecutions.Dec()
	defer func() {
		o.m.ExecutionDuration.Observe(time.Since(startedAt).Seconds())
	}()

	switch r.sm.Current() {
	case execution.StatusPending:
		now := time.Now().UTC()
		exec.StartedAt = &now
		o.setStatus(ctx, r, execution.StatusRunning, "started")
		o.m.ExecutionsStarted.Inc()
		o.publish(events.ExecutionStarted, exec, "", nil)
		o.seedSkippedStarts(ctx, r)
	case execution.StatusPaused:
		// Recovered mid-approval. Fall straight into the wait.
		if !o.awaitApproval(ctx, r, exec.PendingNodeID) {
			return
		}
	}

	for {
		if r.cancelled() {
			o.finish(ctx, r, execution.StatusCancelled, "cancelled by user")
			return
		}

		ready, skippable := o.frontier(r)
		for _, id := range skippable {
			o.markSkipped(ctx, r, id)
		}
		if len(ready) == 0 {
			if len(skippable) > 0 {
				continue
			}
			o.complete(ctx, r)
			return
		}

		pausedNode, failErr := o.executeBatch(ctx, r, ready)
		if r.cancelled() {
			o.finish(ctx, r, execution.StatusCancelled, "cancelled by user")
			return
		}
		if failErr != nil {
			o.fail(ctx, r, failErr)
			return
		}
		if pausedNode != "" {
			if !o.awaitApproval(ctx, r, pausedNode) {
				return
			}
		}
	}
}

// seedSkippedStarts marks trigger-type roots that are not the chosen
// start set as skipped, so their downstream edges resolve as starved
// instead of hanging undetermined.
func (o *Orchestrator) seedSkippedStarts(ctx context.Context, r *run) {
	starts := make(map[string]bool)
	for _, id := range r.graph.StartNodes() {
		starts[id] = true
	}
	for _, id := range r.graph.NodeIDs() {
		node, _ := r.graph.Node(id)
		if len(r.graph.Incoming(id)) > 0 || starts[id] {
			continue
		}
		if workflow.IsTriggerType(node.Type) || node.Type == workflow.TypeManualInput {
			o.markSkipped(ctx, r, id)
		}
	}
}

// frontier partitions undecided nodes into those ready to run and
// those to skip. An incoming edge is satisfied when its source
// completed and, for branching sources, actually emitted records on
// the connected port. A node with every edge decided and none
// satisfied is starved and skips; strict joins also skip when any
// single edge starved.
func (o *Orchestrator) frontier(r *run) (ready, skippable []string) {
	exec := r.exec
	for _, id := range r.graph.NodeIDs() {
		if _, decided := exec.NodeResults[id]; decided {
			continue
		}
		node, _ := r.graph.Node(id)
		if node.Type == workflow.TypeComment {
			continue
		}
		incoming := r.graph.Incoming(id)
		if len(incoming) == 0 {
			ready = append(ready, id)
			continue
		}

		satisfied, starved, undetermined := 0, 0, 0
		for _, conn := range incoming {
			switch o.edgeState(r, conn) {
			case edgeSatisfied:
				satisfied++
			case edgeStarved:
				starved++
			default:
				undetermined++
			}
		}
		if undetermined > 0 {
			continue
		}
		if satisfied == 0 || (o.cfg.StrictJoins && starved > 0) {
			skippable = append(skippable, id)
			continue
		}
		ready = append(ready, id)
	}
	sort.Strings(ready)
	sort.Strings(skippable)
	return ready, skippable
}

type edgeState int

const (
	edgeUndetermined edgeState = iota
	edgeSatisfied
	edgeStarved
)

func (o *Orchestrator) edgeState(r *run, conn workflow.Connection) edgeState {
	result, ok := r.exec.NodeResults[conn.From]
	if !ok {
		if src, found := r.graph.Node(conn.From); found && src.Type == workflow.TypeComment {
			return edgeStarved
		}
		return edgeUndetermined
	}
	switch result.Status {
	case execution.NodeSkipped, execution.NodeFailed:
		return edgeStarved
	case execution.NodeCompleted:
		src, _ := r.graph.Node(conn.From)
		if !workflow.IsBranchingType(src.Type) {
			return edgeSatisfied
		}
		if recs, ok := result.Branches[conn.FromPort]; ok && len(recs) > 0 {
			return edgeSatisfied
		}
		return edgeStarved
	default:
		return edgeUndetermined
	}
}

// buildInput assembles a node's input from its satisfied edges.
// Starved edges contribute nothing, which is how a lenient join sees a
// missing side.
func (o *Orchestrator) buildInput(r *run, id string) nodes.Input {
	node, _ := r.graph.Node(id)
	in := nodes.Input{
		Ports:  make(map[string][]execution.Record),
		Config: node.Config,
		Context: nodes.ExecutionContext{
			ExecutionID: r.exec.ID,
			WorkflowID:  r.exec.WorkflowID,
			NodeID:      node.ID,
			NodeName:    node.Name,
			Variables:   r.exec.Inputs,
			Logger:      o.log,
		},
	}
	for _, conn := range r.graph.Incoming(id) {
		if o.edgeState(r, conn) != edgeSatisfied {
			continue
		}
		src := r.exec.NodeResults[conn.From]
		srcNode, _ := r.graph.Node(conn.From)
		recs := src.OutputData
		if workflow.IsBranchingType(srcNode.Type) {
			recs = src.Branches[conn.FromPort]
		}
		recs = execution.CloneRecords(recs)
		in.Ports[conn.ToPort] = append(in.Ports[conn.ToPort], recs...)
		in.Records = append(in.Records, recs...)
	}
	return in
}

// executeBatch submits every ready node to the queue and waits for all
// of them. Returns the id of a node that paused the run, or the first
// node failure. Both may be set when a batch mixes outcomes; failure
// wins upstream.
func (o *Orchestrator) executeBatch(ctx context.Context, r *run, ready []string) (pausedNode string, failErr error) {
	exec := r.exec

	type inflight struct {
		id     string
		handle *jobqueue.Handle
	}
	batch := make([]inflight, 0, len(ready))

	for _, id := range ready {
		node, _ := r.graph.Node(id)
		input := o.buildInput(r, id)

		now := time.Now().UTC()
		exec.NodeResults[id] = &execution.NodeResult{
			NodeID:    id,
			Status:    execution.NodeRunning,
			InputData: input.Records,
			StartedAt: &now,
		}
		o.publish(events.NodeStarted, exec, id, nil)
		o.appendLog(ctx, exec.ID, id, "info", fmt.Sprintf("node %s (%s) started", node.Name, node.Type))

		priority := jobqueue.PriorityNormal
		if exec.TriggerType == execution.TriggerManual {
			priority = jobqueue.PriorityHigh
		}
		// Node jobs are rebuilt from execution checkpoints on restart,
		// so the queue snapshot must not replay them.
		handle, err := o.queue.Submit(jobTypeNode, &nodeTask{node: node, input: input}, jobqueue.Options{
			Priority:  priority,
			Timeout:   o.cfg.NodeTimeout,
			Ephemeral: true,
		})
		if err != nil {
			o.recordNodeFailure(ctx, r, id, node, 0, err)
			return "", &execution.NodeError{NodeID: id, Cause: err}
		}
		batch = append(batch, inflight{id: id, handle: handle})
	}

	// Wait under a context that unblocks on cancellation. The node
	// jobs themselves are not preempted.
	waitCtx, cancelWait := context.WithCancel(ctx)
	defer cancelWait()
	go func() {
		select {
		case <-r.cancelCh:
			cancelWait()
		case <-waitCtx.Done():
		}
	}()

	for _, item := range batch {
		node, _ := r.graph.Node(item.id)
		value, err := item.handle.Wait(waitCtx)
		if err != nil && waitCtx.Err() != nil && r.cancelled() {
			o.queue.Cancel(item.handle.ID)
			return "", nil
		}

		attempts := 1
		if job, ok := o.queue.Get(item.handle.ID); ok {
			attempts = job.Attempts
		}
		o.queue.Forget(item.handle.ID)

		if err != nil {
			if errors.Is(err, jobqueue.ErrJobTimedOut) {
				err = &execution.TimeoutError{NodeID: item.id}
			}
			o.recordNodeFailure(ctx, r, item.id, node, attempts, err)
			if failErr == nil {
				failErr = &execution.NodeError{NodeID: item.id, Cause: err}
			}
			continue
		}

		result, _ := value.(*nodes.Result)
		if result == nil {
			result = &nodes.Result{}
		}
		if result.Pause != nil {
			o.recordNodeWaiting(ctx, r, item.id, node, attempts, result.Pause)
			if pausedNode == "" {
				pausedNode = item.id
			}
			continue
		}
		o.recordNodeSuccess(ctx, r, item.id, node, attempts, result)
	}
	return pausedNode, failErr
}

func (o *Orchestrator) recordNodeSuccess(ctx context.Context, r *run, id string, node workflow.Node, attempts int, result *nodes.Result) {
	exec := r.exec
	nr := exec.NodeResults[id]
	now := time.Now().UTC()
	nr.Status = execution.NodeCompleted
	nr.OutputData = result.Records
	nr.Branches = result.Branches
	nr.Attempts = attempts
	nr.FinishedAt = &now
	if nr.StartedAt != nil {
		nr.DurationMs = now.Sub(*nr.StartedAt).Milliseconds()
	}
	if node.Type == workflow.TypeOutput {
		exec.FinalOutput = result.Records
	}

	o.m.NodesExecuted.WithLabelValues(node.Type, "completed").Inc()
	o.m.NodeDuration.WithLabelValues(node.Type).Observe(float64(nr.DurationMs) / 1000)
	o.publish(events.NodeCompleted, exec, id, map[string]interface{}{"records": len(result.Records)})
	o.appendLog(ctx, exec.ID, id, "info", fmt.Sprintf("node %s completed with %d records", node.Name, len(result.Records)))
	o.checkpoint(ctx, r)
}

func (o *Orchestrator) recordNodeFailure(ctx context.Context, r *run, id string, node workflow.Node, attempts int, cause error) {
	exec := r.exec
	nr := exec.NodeResults[id]
	now := time.Now().UTC()
	nr.Status = execution.NodeFailed
	nr.Error = cause.Error()
	nr.Attempts = attempts
	nr.FinishedAt = &now
	if nr.StartedAt != nil {
		nr.DurationMs = now.Sub(*nr.StartedAt).Milliseconds()
	}

	outcome := "failed"
	var timeoutErr *execution.TimeoutError
	if errors.As(cause, &timeoutErr) {
		outcome = "timeout"
	}
	o.m.NodesExecuted.WithLabelValues(node.Type, outcome).Inc()
	o.publish(events.NodeFailed, exec, id, map[string]interface{}{"error": cause.Error()})
	o.appendLog(ctx, exec.ID, id, "error", fmt.Sprintf("node %s failed: %v", node.Name, cause))
	o.checkpoint(ctx, r)
}

func (o *Orchestrator) recordNodeWaiting(ctx context.Context, r *run, id string, node workflow.Node, attempts int, pause *nodes.PauseSignal) {
	exec := r.exec
	nr := exec.NodeResults[id]
	nr.Status = execution.NodeWaiting
	nr.Attempts = attempts
	exec.PendingNodeID = id

	o.publish(events.ApprovalRequested, exec, id, map[string]interface{}{
		"reason":    pause.Reason,
		"approvers": pause.Approvers,
	})
	o.appendLog(ctx, exec.ID, id, "info", fmt.Sprintf("node %s waiting for approval: %s", node.Name, pause.Reason))
	o.checkpoint(ctx, r)
}

func (o *Orchestrator) markSkipped(ctx context.Context, r *run, id string) {
	now := time.Now().UTC()
	r.exec.NodeResults[id] = &execution.NodeResult{
		NodeID:     id,
		Status:     execution.NodeSkipped,
		FinishedAt: &now,
	}
	node, _ := r.graph.Node(id)
	o.m.NodesExecuted.WithLabelValues(node.Type, "skipped").Inc()
	o.publish(events.NodeSkipped, r.exec, id, nil)
	o.checkpoint(ctx, r)
}

// awaitApproval parks the run until Resume or Cancel. Returns true
// when the run should keep going.
func (o *Orchestrator) awaitApproval(ctx context.Context, r *run, nodeID string) bool {
	exec := r.exec
	if r.sm.Current() != execution.StatusPaused {
		o.setStatus(ctx, r, execution.StatusPaused, "waiting for approval")
		o.publish(events.ExecutionPaused, exec, nodeID, nil)
	}

	select {
	case approved := <-r.resumeCh:
		o.publish(events.ApprovalResolved, exec, nodeID, map[string]interface{}{"approved": approved})
		if !approved {
			nr := exec.NodeResults[nodeID]
			now := time.Now().UTC()
			nr.Status = execution.NodeFailed
			nr.Error = execution.ErrApprovalRejected.Error()
			nr.FinishedAt = &now
			exec.PendingNodeID = ""
			o.setStatus(ctx, r, execution.StatusFailed, execution.ErrApprovalRejected.Error())
			exec.Error = execution.ErrApprovalRejected.Error()
			o.finalize(ctx, r, events.ExecutionFailed, "failed")
			return false
		}

		// Approved: the node passes its input through unchanged.
		nr := exec.NodeResults[nodeID]
		now := time.Now().UTC()
		nr.Status = execution.NodeCompleted
		nr.OutputData = execution.CloneRecords(nr.InputData)
		nr.FinishedAt = &now
		exec.PendingNodeID = ""
		o.setStatus(ctx, r, execution.StatusRunning, "approved")
		o.publish(events.ExecutionResumed, exec, nodeID, nil)
		o.checkpoint(ctx, r)
		return true

	case <-r.cancelCh:
		o.finish(ctx, r, execution.StatusCancelled, "cancelled by user")
		return false
	}
}

func (o *Orchestrator) complete(ctx context.Context, r *run) {
	exec := r.exec
	if exec.FinalOutput == nil {
		exec.FinalOutput = o.lastOutput(r)
	}
	o.finish(ctx, r, execution.StatusCompleted, "all nodes finished")
}

// lastOutput falls back to the records of the latest finished node
// when the graph has no output node.
func (o *Orchestrator) lastOutput(r *run) []execution.Record {
	var latest *execution.NodeResult
	for _, nr := range r.exec.NodeResults {
		if nr.Status != execution.NodeCompleted || nr.FinishedAt == nil {
			continue
		}
		if latest == nil || nr.FinishedAt.After(*latest.FinishedAt) {
			latest = nr
		}
	}
	if latest == nil {
		return nil
	}
	return latest.OutputData
}

func (o *Orchestrator) fail(ctx context.Context, r *run, cause error) {
	r.exec.Error = cause.Error()
	o.setStatus(ctx, r, execution.StatusFailed, cause.Error())
	o.finalize(ctx, r, events.ExecutionFailed, "failed")
}

func (o *Orchestrator) finish(ctx context.Context, r *run, status, reason string) {
	o.setStatus(ctx, r, status, reason)
	switch status {
	case execution.StatusCompleted:
		o.finalize(ctx, r, events.ExecutionCompleted, "completed")
	case execution.StatusCancelled:
		o.finalize(ctx, r, events.ExecutionCancelled, "cancelled")
	default:
		o.finalize(ctx, r, events.ExecutionFailed, "failed")
	}
}

func (o *Orchestrator) finalize(ctx context.Context, r *run, eventType, outcome string) {
	exec := r.exec
	if exec.CompletedAt == nil {
		now := time.Now().UTC()
		exec.CompletedAt = &now
	}
	o.checkpoint(ctx, r)
	o.m.ExecutionsFinished.WithLabelValues(outcome).Inc()
	o.publish(eventType, exec, "", nil)
	o.log.Info("execution finished",
		"executionId", exec.ID,
		"workflowId", exec.WorkflowID,
		"status", exec.Status,
	)
}

// setStatus moves the state machine and mirrors the change to the
// store. The repository records the transition for audit.
func (o *Orchestrator) setStatus(ctx context.Context, r *run, status, reason string) {
	if err := r.sm.Transition(status, reason); err != nil {
		o.log.Error("refused status change", "executionId", r.exec.ID, "error", err)
		return
	}
	r.exec.Status = status
	if err := o.executions.UpdateStatus(ctx, r.exec.ID, status, reason); err != nil {
		o.log.Error("persist status change", "executionId", r.exec.ID, "status", status, "error", err)
	}
}

// checkpoint persists the execution snapshot. Called after every node
// outcome so a crash never loses more than the in-flight node.
func (o *Orchestrator) checkpoint(ctx context.Context, r *run) {
	if err := o.executions.Save(ctx, r.exec); err != nil {
		o.log.Error("checkpoint execution", "executionId", r.exec.ID, "error", err)
	}
}

func (o *Orchestrator) appendLog(ctx context.Context, executionID, nodeID, level, message string) {
	if err := o.executions.AppendLog(ctx, executionID, nodeID, level, message); err != nil {
		o.log.Warn("append execution log", "executionId", executionID, "error", err)
	}
}

func (o *Orchestrator) publish(eventType string, exec *execution.Execution, nodeID string, payload map[string]interface{}) {
	if o.bus == nil {
		return
	}
	builder := events.NewEventBuilder(eventType).
		WithExecutionID(exec.ID).
		WithWorkflowID(exec.WorkflowID)
	if nodeID != "" {
		builder = builder.WithNodeID(nodeID)
	}
	for k, v := range payload {
		builder = builder.WithPayload(k, v)
	}
	if err := o.bus.Publish(context.Background(), builder.Build()); err != nil {
		o.log.Warn("publish event", "type", eventType, "error", err)
	}
}

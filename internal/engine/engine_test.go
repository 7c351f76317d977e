package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"crewline/internal/config"
	"crewline/internal/db"
	"crewline/internal/domain"
	"crewline/internal/engine"
	"crewline/internal/migrate"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	eng := engine.New(conn, cfg)
	eng.SetClock(func() time.Time { return time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC) })
	return testEnv{Engine: eng, Ctx: context.Background()}
}

func (env testEnv) addOperator(t *testing.T, id, role string) domain.Operator {
	t.Helper()
	o, err := env.Engine.AddOperator(env.Ctx, id, id, role)
	if err != nil {
		t.Fatalf("add operator %s: %v", id, err)
	}
	return o
}

func (env testEnv) heartbeat(t *testing.T, id string) {
	t.Helper()
	now := env.Engine.Now().UTC().Format(time.RFC3339)
	if err := env.Engine.Repo.Heartbeat(env.Ctx, id, now); err != nil {
		t.Fatalf("heartbeat %s: %v", id, err)
	}
}

func (env testEnv) operator(t *testing.T, id string) domain.Operator {
	t.Helper()
	o, err := env.Engine.Repo.GetOperator(env.Ctx, id)
	if err != nil {
		t.Fatalf("get operator %s: %v", id, err)
	}
	return o
}

func (env testEnv) createRequest(t *testing.T, title, clientID string) domain.Request {
	t.Helper()
	req, err := env.Engine.CreateRequest(env.Ctx, engine.CreateRequestOptions{Title: title, ClientID: clientID})
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	return req
}

func TestCreateRequestClaimsOnlineManager(t *testing.T) {
	env := newTestEnv(t)
	env.addOperator(t, "pm-1", domain.RolePM)
	env.heartbeat(t, "pm-1")

	req := env.createRequest(t, "Build the thing", "client-1")
	if req.ManagerID == nil || *req.ManagerID != "pm-1" {
		t.Fatalf("expected pm-1 assigned, got %v", req.ManagerID)
	}
	if req.RoomID == nil {
		t.Fatalf("expected a room")
	}
	if req.Status != domain.RequestPending {
		t.Fatalf("expected pending, got %s", req.Status)
	}
	pm := env.operator(t, "pm-1")
	if pm.ActiveCount != 1 || !pm.IsBusy {
		t.Fatalf("expected busy pm with active_count 1, got %+v", pm)
	}
}

func TestEventTimestampsFollowEngineClock(t *testing.T) {
	env := newTestEnv(t)
	env.addOperator(t, "pm-1", domain.RolePM)
	env.heartbeat(t, "pm-1")
	req := env.createRequest(t, "Build the thing", "client-1")

	evts, err := env.Engine.Repo.LatestEvents(env.Ctx, 10, req.ID, "", "", "")
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(evts) == 0 {
		t.Fatalf("expected lifecycle events")
	}
	want := env.Engine.Now().UTC().Format(time.RFC3339)
	for _, evt := range evts {
		if evt.TS != want {
			t.Fatalf("event %s at %s, want %s", evt.Type, evt.TS, want)
		}
	}
}

func TestCreateRequestSpreadsLoad(t *testing.T) {
	env := newTestEnv(t)
	env.addOperator(t, "pm-a", domain.RolePM)
	env.addOperator(t, "pm-b", domain.RolePM)
	env.heartbeat(t, "pm-a")
	env.heartbeat(t, "pm-b")

	env.createRequest(t, "first", "c1")
	env.createRequest(t, "second", "c1")

	a := env.operator(t, "pm-a")
	b := env.operator(t, "pm-b")
	if a.ActiveCount != 1 || b.ActiveCount != 1 {
		t.Fatalf("expected one request per manager, got %d and %d", a.ActiveCount, b.ActiveCount)
	}
}

func TestCreateRequestFallsBackToBusyManager(t *testing.T) {
	env := newTestEnv(t)
	env.addOperator(t, "pm-1", domain.RolePM)
	env.heartbeat(t, "pm-1")

	env.createRequest(t, "first", "c1")
	req := env.createRequest(t, "second", "c1")
	if req.ManagerID == nil || *req.ManagerID != "pm-1" {
		t.Fatalf("expected busy fallback to pm-1, got %v", req.ManagerID)
	}
	pm := env.operator(t, "pm-1")
	if pm.ActiveCount != 2 {
		t.Fatalf("expected active_count 2, got %d", pm.ActiveCount)
	}
}

func TestCreateRequestParksWithoutManager(t *testing.T) {
	env := newTestEnv(t)
	env.addOperator(t, "pm-1", domain.RolePM) // registered but never heartbeated

	req := env.createRequest(t, "waiting", "c1")
	if req.ManagerID != nil {
		t.Fatalf("expected no manager, got %v", *req.ManagerID)
	}
	if req.Status != domain.RequestPending {
		t.Fatalf("expected pending, got %s", req.Status)
	}
	standby, err := env.Engine.Repo.ListStandbyRequests(env.Ctx, 0)
	if err != nil {
		t.Fatalf("list standby: %v", err)
	}
	if len(standby) != 1 || standby[0].ID != req.ID {
		t.Fatalf("expected request on standby, got %v", standby)
	}
}

func TestSweepStandbyAssignsWhenManagerSurfaces(t *testing.T) {
	env := newTestEnv(t)
	env.addOperator(t, "pm-1", domain.RolePM)
	req := env.createRequest(t, "waiting", "c1")

	n, err := env.Engine.SweepStandby(env.Ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected no assignment before heartbeat, got %d", n)
	}

	env.heartbeat(t, "pm-1")
	n, err = env.Engine.SweepStandby(env.Ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected one assignment, got %d", n)
	}
	got, err := env.Engine.Repo.GetRequest(env.Ctx, req.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.ManagerID == nil || *got.ManagerID != "pm-1" {
		t.Fatalf("expected pm-1 after sweep, got %v", got.ManagerID)
	}
	if got.RoomID == nil {
		t.Fatalf("expected a room after sweep")
	}
}

func TestRetryStandbyOperatorDrainsQueue(t *testing.T) {
	env := newTestEnv(t)
	env.addOperator(t, "pm-1", domain.RolePM)
	env.createRequest(t, "one", "c1")
	env.createRequest(t, "two", "c1")

	env.heartbeat(t, "pm-1")
	n, err := env.Engine.RetryStandbyOperator(env.Ctx, "pm-1")
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected both requests assigned, got %d", n)
	}
	pm := env.operator(t, "pm-1")
	if pm.ActiveCount != 2 {
		t.Fatalf("expected active_count 2, got %d", pm.ActiveCount)
	}
}

func TestRetryStandbyIgnoresEngineers(t *testing.T) {
	env := newTestEnv(t)
	env.addOperator(t, "eng-1", domain.RoleEngineer)
	env.createRequest(t, "one", "c1")
	env.heartbeat(t, "eng-1")
	n, err := env.Engine.RetryStandbyOperator(env.Ctx, "eng-1")
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected engineers to be skipped, got %d", n)
	}
}

func TestAssignEngineerRules(t *testing.T) {
	env := newTestEnv(t)
	env.addOperator(t, "pm-1", domain.RolePM)
	env.addOperator(t, "eng-1", domain.RoleEngineer)
	env.addOperator(t, "eng-2", domain.RoleEngineer)
	env.heartbeat(t, "pm-1")
	req := env.createRequest(t, "work", "c1")

	if _, err := env.Engine.AssignEngineer(env.Ctx, req.ID, "eng-1", "eng-1"); err == nil {
		t.Fatalf("expected forbidden for non-manager")
	}
	req, err := env.Engine.AssignEngineer(env.Ctx, req.ID, "eng-1", "pm-1")
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if req.EngineerID == nil || *req.EngineerID != "eng-1" {
		t.Fatalf("expected eng-1, got %v", req.EngineerID)
	}
	// Same engineer again is fine, a different one is not.
	if _, err := env.Engine.AssignEngineer(env.Ctx, req.ID, "eng-1", "pm-1"); err != nil {
		t.Fatalf("re-assign same engineer: %v", err)
	}
	var ise engine.InvalidStateError
	if _, err := env.Engine.AssignEngineer(env.Ctx, req.ID, "eng-2", "pm-1"); !errors.As(err, &ise) {
		t.Fatalf("expected invalid state for second engineer, got %v", err)
	}
	if _, err := env.Engine.AssignEngineer(env.Ctx, req.ID, "pm-1", "pm-1"); !errors.As(err, &ise) {
		t.Fatalf("expected invalid state for pm as engineer, got %v", err)
	}
}

func TestAcceptRequestIsSticky(t *testing.T) {
	env := newTestEnv(t)
	env.addOperator(t, "pm-1", domain.RolePM)
	env.addOperator(t, "eng-1", domain.RoleEngineer)
	env.heartbeat(t, "pm-1")
	req := env.createRequest(t, "work", "c1")
	req, _ = env.Engine.AssignEngineer(env.Ctx, req.ID, "eng-1", "pm-1")

	if _, err := env.Engine.AcceptRequest(env.Ctx, req.ID, "pm-1"); err == nil {
		t.Fatalf("expected forbidden for non-engineer")
	}
	req, err := env.Engine.AcceptRequest(env.Ctx, req.ID, "eng-1")
	if err != nil || !req.AcceptedOnce {
		t.Fatalf("accept: %v accepted=%v", err, req.AcceptedOnce)
	}
	req, err = env.Engine.AcceptRequest(env.Ctx, req.ID, "eng-1")
	if err != nil || !req.AcceptedOnce {
		t.Fatalf("second accept should be a no-op: %v", err)
	}
	// Accepting the request itself never reserves engineer capacity.
	eng1 := env.operator(t, "eng-1")
	if eng1.ActiveCount != 0 || eng1.IsBusy {
		t.Fatalf("expected idle engineer, got %+v", eng1)
	}
}

func TestTaskLifecycleAndWorkload(t *testing.T) {
	env := newTestEnv(t)
	env.addOperator(t, "pm-1", domain.RolePM)
	env.addOperator(t, "eng-1", domain.RoleEngineer)
	env.heartbeat(t, "pm-1")
	req := env.createRequest(t, "work", "client-1")

	task, err := env.Engine.CreateTask(env.Ctx, engine.CreateTaskOptions{
		RequestID:  req.ID,
		Title:      "implement",
		EngineerID: "eng-1",
		Deadline:   "2024-02-01",
	}, "pm-1")
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	if task.Deadline == nil || *task.Deadline != "2024-02-01T23:59:59Z" {
		t.Fatalf("expected end-of-day deadline, got %v", task.Deadline)
	}
	// Creating the task bound the engineer to the request.
	req, _ = env.Engine.Repo.GetRequest(env.Ctx, req.ID)
	if req.EngineerID == nil || *req.EngineerID != "eng-1" {
		t.Fatalf("expected implicit engineer binding, got %v", req.EngineerID)
	}

	if _, err := env.Engine.AcceptTask(env.Ctx, task.ID, "pm-1"); err == nil {
		t.Fatalf("expected forbidden for non-engineer accept")
	}
	task, err = env.Engine.AcceptTask(env.Ctx, task.ID, "eng-1")
	if err != nil || task.Status != domain.TaskInProgress {
		t.Fatalf("accept task: %v status=%s", err, task.Status)
	}
	eng1 := env.operator(t, "eng-1")
	if eng1.ActiveCount != 1 || !eng1.IsBusy {
		t.Fatalf("expected engineer reserved, got %+v", eng1)
	}
	req, _ = env.Engine.Repo.GetRequest(env.Ctx, req.ID)
	if req.Status != domain.RequestInProgress {
		t.Fatalf("expected request in_progress, got %s", req.Status)
	}

	// Accepting again must not double-book.
	task, err = env.Engine.AcceptTask(env.Ctx, task.ID, "eng-1")
	if err != nil {
		t.Fatalf("idempotent accept: %v", err)
	}
	eng1 = env.operator(t, "eng-1")
	if eng1.ActiveCount != 1 {
		t.Fatalf("expected active_count to stay 1, got %d", eng1.ActiveCount)
	}

	task, err = env.Engine.CompleteTask(env.Ctx, task.ID, "eng-1")
	if err != nil || task.Status != domain.TaskComplete {
		t.Fatalf("complete task: %v status=%s", err, task.Status)
	}
	if task.CompletedAt == nil {
		t.Fatalf("expected completed_at set")
	}
	req, _ = env.Engine.Repo.GetRequest(env.Ctx, req.ID)
	if req.Status != domain.RequestReview {
		t.Fatalf("expected request review, got %s", req.Status)
	}
}

func TestSingleEngineerPerRequest(t *testing.T) {
	env := newTestEnv(t)
	env.addOperator(t, "pm-1", domain.RolePM)
	env.addOperator(t, "eng-1", domain.RoleEngineer)
	env.addOperator(t, "eng-2", domain.RoleEngineer)
	env.heartbeat(t, "pm-1")
	req := env.createRequest(t, "work", "c1")

	if _, err := env.Engine.CreateTask(env.Ctx, engine.CreateTaskOptions{
		RequestID: req.ID, Title: "a", EngineerID: "eng-1",
	}, "pm-1"); err != nil {
		t.Fatalf("first task: %v", err)
	}
	var ise engine.InvalidStateError
	if _, err := env.Engine.CreateTask(env.Ctx, engine.CreateTaskOptions{
		RequestID: req.ID, Title: "b", EngineerID: "eng-2",
	}, "pm-1"); !errors.As(err, &ise) {
		t.Fatalf("expected invalid state for second engineer, got %v", err)
	}
	// Omitting the engineer reuses the bound one.
	task, err := env.Engine.CreateTask(env.Ctx, engine.CreateTaskOptions{
		RequestID: req.ID, Title: "c",
	}, "pm-1")
	if err != nil {
		t.Fatalf("third task: %v", err)
	}
	if task.EngineerID != "eng-1" {
		t.Fatalf("expected eng-1, got %s", task.EngineerID)
	}
}

func TestCloseRequiresRatings(t *testing.T) {
	env := newTestEnv(t)
	env.addOperator(t, "pm-1", domain.RolePM)
	env.addOperator(t, "eng-1", domain.RoleEngineer)
	env.heartbeat(t, "pm-1")
	req := env.createRequest(t, "work", "client-1")
	task, _ := env.Engine.CreateTask(env.Ctx, engine.CreateTaskOptions{
		RequestID: req.ID, Title: "do it", EngineerID: "eng-1",
	}, "pm-1")
	_, _ = env.Engine.AcceptTask(env.Ctx, task.ID, "eng-1")
	_, _ = env.Engine.CompleteTask(env.Ctx, task.ID, "eng-1")

	var ise engine.InvalidStateError
	if _, err := env.Engine.Close(env.Ctx, req.ID, "pm-1"); !errors.As(err, &ise) {
		t.Fatalf("expected close blocked without ratings, got %v", err)
	}
	if _, err := env.Engine.Rate(env.Ctx, req.ID, domain.RatingManager, 5, "great", "client-1"); err != nil {
		t.Fatalf("rate manager: %v", err)
	}
	if _, err := env.Engine.Close(env.Ctx, req.ID, "pm-1"); !errors.As(err, &ise) {
		t.Fatalf("expected close blocked with one rating, got %v", err)
	}
	if _, err := env.Engine.Rate(env.Ctx, req.ID, domain.RatingEngineer, 4, "", "client-1"); err != nil {
		t.Fatalf("rate engineer: %v", err)
	}

	if _, err := env.Engine.Close(env.Ctx, req.ID, "eng-1"); err == nil {
		t.Fatalf("expected forbidden for engineer close")
	}
	closed, err := env.Engine.Close(env.Ctx, req.ID, "pm-1")
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if closed.Status != domain.RequestComplete || closed.CompletedAt == nil {
		t.Fatalf("expected complete request, got %+v", closed)
	}
	pm := env.operator(t, "pm-1")
	eng1 := env.operator(t, "eng-1")
	if pm.ActiveCount != 0 || pm.IsBusy {
		t.Fatalf("expected released manager, got %+v", pm)
	}
	if eng1.ActiveCount != 0 || eng1.IsBusy {
		t.Fatalf("expected released engineer, got %+v", eng1)
	}
}

func TestClosedRequestFreezesTasks(t *testing.T) {
	env := newTestEnv(t)
	env.addOperator(t, "pm-1", domain.RolePM)
	env.addOperator(t, "eng-1", domain.RoleEngineer)
	env.heartbeat(t, "pm-1")
	req := env.createRequest(t, "work", "client-1")
	done, _ := env.Engine.CreateTask(env.Ctx, engine.CreateTaskOptions{
		RequestID: req.ID, Title: "main work", EngineerID: "eng-1",
	}, "pm-1")
	leftover, _ := env.Engine.CreateTask(env.Ctx, engine.CreateTaskOptions{
		RequestID: req.ID, Title: "never started", EngineerID: "eng-1",
	}, "pm-1")
	_, _ = env.Engine.AcceptTask(env.Ctx, done.ID, "eng-1")
	_, _ = env.Engine.CompleteTask(env.Ctx, done.ID, "eng-1")
	_, _ = env.Engine.Rate(env.Ctx, req.ID, domain.RatingManager, 5, "", "client-1")
	_, _ = env.Engine.Rate(env.Ctx, req.ID, domain.RatingEngineer, 5, "", "client-1")
	if _, err := env.Engine.Close(env.Ctx, req.ID, "pm-1"); err != nil {
		t.Fatalf("close: %v", err)
	}

	// The leftover pending task can no longer be accepted; otherwise the
	// engineer would hold capacity against a complete request forever.
	var ise engine.InvalidStateError
	if _, err := env.Engine.AcceptTask(env.Ctx, leftover.ID, "eng-1"); !errors.As(err, &ise) {
		t.Fatalf("expected accept rejected after close, got %v", err)
	}
	got, err := env.Engine.Repo.GetTask(env.Ctx, leftover.ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if got.Status != domain.TaskPending {
		t.Fatalf("expected task untouched, got %s", got.Status)
	}
	eng1 := env.operator(t, "eng-1")
	if eng1.ActiveCount != 0 || eng1.IsBusy {
		t.Fatalf("expected idle engineer after close, got %+v", eng1)
	}
}

func TestCompleteTaskRejectedAfterClose(t *testing.T) {
	env := newTestEnv(t)
	env.addOperator(t, "pm-1", domain.RolePM)
	env.addOperator(t, "eng-1", domain.RoleEngineer)
	env.heartbeat(t, "pm-1")
	req := env.createRequest(t, "work", "client-1")
	task, _ := env.Engine.CreateTask(env.Ctx, engine.CreateTaskOptions{
		RequestID: req.ID, Title: "in flight", EngineerID: "eng-1",
	}, "pm-1")
	_, _ = env.Engine.AcceptTask(env.Ctx, task.ID, "eng-1")
	if _, err := env.Engine.MarkReview(env.Ctx, req.ID, "eng-1"); err != nil {
		t.Fatalf("mark review: %v", err)
	}
	_, _ = env.Engine.Rate(env.Ctx, req.ID, domain.RatingManager, 5, "", "client-1")
	_, _ = env.Engine.Rate(env.Ctx, req.ID, domain.RatingEngineer, 5, "", "client-1")
	if _, err := env.Engine.Close(env.Ctx, req.ID, "pm-1"); err != nil {
		t.Fatalf("close: %v", err)
	}

	var ise engine.InvalidStateError
	if _, err := env.Engine.CompleteTask(env.Ctx, task.ID, "eng-1"); !errors.As(err, &ise) {
		t.Fatalf("expected complete rejected after close, got %v", err)
	}
}

func TestRateValidation(t *testing.T) {
	env := newTestEnv(t)
	env.addOperator(t, "pm-1", domain.RolePM)
	env.heartbeat(t, "pm-1")
	req := env.createRequest(t, "work", "client-1")

	var ise engine.InvalidStateError
	if _, err := env.Engine.Rate(env.Ctx, req.ID, "quality", 5, "", "client-1"); !errors.As(err, &ise) {
		t.Fatalf("expected unknown target error, got %v", err)
	}
	if _, err := env.Engine.Rate(env.Ctx, req.ID, domain.RatingManager, 6, "", "client-1"); !errors.As(err, &ise) {
		t.Fatalf("expected score range error, got %v", err)
	}
	// Not in review yet.
	if _, err := env.Engine.Rate(env.Ctx, req.ID, domain.RatingManager, 5, "", "client-1"); !errors.As(err, &ise) {
		t.Fatalf("expected not-in-review error, got %v", err)
	}
	var fe engine.ForbiddenError
	if _, err := env.Engine.Rate(env.Ctx, req.ID, domain.RatingManager, 5, "", "pm-1"); !errors.As(err, &fe) {
		t.Fatalf("expected forbidden for non-client rater, got %v", err)
	}
}

func TestReopenRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	env.addOperator(t, "pm-1", domain.RolePM)
	env.addOperator(t, "eng-1", domain.RoleEngineer)
	env.heartbeat(t, "pm-1")
	req := env.createRequest(t, "work", "client-1")
	task, _ := env.Engine.CreateTask(env.Ctx, engine.CreateTaskOptions{
		RequestID: req.ID, Title: "do it", EngineerID: "eng-1",
	}, "pm-1")
	_, _ = env.Engine.AcceptTask(env.Ctx, task.ID, "eng-1")
	_, _ = env.Engine.CompleteTask(env.Ctx, task.ID, "eng-1")
	_, _ = env.Engine.Rate(env.Ctx, req.ID, domain.RatingManager, 5, "", "client-1")
	_, _ = env.Engine.Rate(env.Ctx, req.ID, domain.RatingEngineer, 5, "", "client-1")
	if _, err := env.Engine.Close(env.Ctx, req.ID, "pm-1"); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Reopen requests only apply to closed rooms, and only members or the
	// client may file them.
	if _, err := env.Engine.RequestReopen(env.Ctx, req.ID, "stranger"); err == nil {
		t.Fatalf("expected forbidden for stranger")
	}
	got, err := env.Engine.RequestReopen(env.Ctx, req.ID, "client-1")
	if err != nil || !got.ReopenRequested {
		t.Fatalf("request reopen: %v flag=%v", err, got.ReopenRequested)
	}
	// Idempotent.
	got, err = env.Engine.RequestReopen(env.Ctx, req.ID, "client-1")
	if err != nil || !got.ReopenRequested {
		t.Fatalf("second request reopen: %v", err)
	}

	if _, err := env.Engine.Reopen(env.Ctx, req.ID, "eng-1"); err == nil {
		t.Fatalf("expected forbidden for engineer reopen")
	}
	reopened, err := env.Engine.Reopen(env.Ctx, req.ID, "pm-1")
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if reopened.Status != domain.RequestInProgress || reopened.ReopenRequested || reopened.CompletedAt != nil {
		t.Fatalf("unexpected reopened request %+v", reopened)
	}
	pm := env.operator(t, "pm-1")
	eng1 := env.operator(t, "eng-1")
	if pm.ActiveCount != 1 || eng1.ActiveCount != 1 {
		t.Fatalf("expected workload re-reserved, got pm=%d eng=%d", pm.ActiveCount, eng1.ActiveCount)
	}
	// Reopening an open request is a no-op.
	again, err := env.Engine.Reopen(env.Ctx, req.ID, "pm-1")
	if err != nil {
		t.Fatalf("reopen again: %v", err)
	}
	if again.Status != domain.RequestInProgress {
		t.Fatalf("expected no-op reopen, got %s", again.Status)
	}
	pm = env.operator(t, "pm-1")
	if pm.ActiveCount != 1 {
		t.Fatalf("no-op reopen must not re-reserve, got %d", pm.ActiveCount)
	}
}

func TestStaleHeartbeatBlocksClaim(t *testing.T) {
	env := newTestEnv(t)
	env.addOperator(t, "pm-1", domain.RolePM)
	env.heartbeat(t, "pm-1")

	// Advance well past the staleness cutoff without a fresh heartbeat.
	env.Engine.SetClock(func() time.Time { return time.Date(2024, 1, 1, 12, 1, 0, 0, time.UTC) })
	req := env.createRequest(t, "late", "c1")
	if req.ManagerID != nil {
		t.Fatalf("expected stale manager skipped, got %v", *req.ManagerID)
	}
	// The inline prune demoted the stale online flag.
	pm := env.operator(t, "pm-1")
	if pm.Online {
		t.Fatalf("expected stale operator marked offline")
	}
}

package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"crewline/internal/domain"
	"crewline/internal/events"
)

// CreateTaskOptions are parameters for cutting a task out of a request.
type CreateTaskOptions struct {
	RequestID  string
	Title      string
	Details    string
	EngineerID string
	Deadline   string
}

// CreateTask creates a pending task on a request. Only the request's manager
// may do this, and a request holds at most one engineer: naming a different
// one is rejected, naming one on a request without an engineer binds it.
// Workload does not move here — it moves when the engineer accepts.
func (e Engine) CreateTask(ctx context.Context, opts CreateTaskOptions, actorID string) (domain.Task, error) {
	if opts.Title == "" {
		return domain.Task{}, invalidStatef("task title is required")
	}
	req, err := e.Repo.GetRequest(ctx, opts.RequestID)
	if err != nil {
		return domain.Task{}, err
	}
	if req.ManagerID == nil || *req.ManagerID != actorID {
		return domain.Task{}, forbidden(actorID, "create a task on request "+opts.RequestID)
	}
	if req.Status == domain.RequestComplete {
		return domain.Task{}, invalidStatef("request %s is complete", opts.RequestID)
	}
	engineerID := opts.EngineerID
	if engineerID == "" {
		if req.EngineerID == nil {
			return domain.Task{}, invalidStatef("request %s has no engineer", opts.RequestID)
		}
		engineerID = *req.EngineerID
	}
	if req.EngineerID != nil && *req.EngineerID != engineerID {
		return domain.Task{}, invalidStatef("request %s already has engineer %s", opts.RequestID, *req.EngineerID)
	}
	engineer, err := e.Repo.GetOperator(ctx, engineerID)
	if err != nil {
		return domain.Task{}, err
	}
	if engineer.Role != domain.RoleEngineer {
		return domain.Task{}, invalidStatef("operator %s is not an engineer", engineerID)
	}
	deadline, err := normalizeDeadline(opts.Deadline)
	if err != nil {
		return domain.Task{}, err
	}
	now := e.nowStr()
	task := domain.Task{
		ID:         uuid.New().String(),
		RequestID:  req.ID,
		Title:      opts.Title,
		Details:    opts.Details,
		ManagerID:  actorID,
		EngineerID: engineer.ID,
		Status:     domain.TaskPending,
		Deadline:   deadline,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return task, err
	}
	defer tx.Rollback()
	if req.EngineerID == nil {
		req.EngineerID = &engineer.ID
		req.UpdatedAt = now
		if err := e.Repo.UpdateRequest(ctx, tx, req); err != nil {
			return task, err
		}
		if err := e.Events.Append(ctx, tx, events.TypeEngineerAssigned, req.ID, "request", req.ID, actorID, events.EventPayload{"engineer_id": engineer.ID}); err != nil {
			return task, err
		}
	}
	if err := e.Repo.InsertTask(ctx, tx, task); err != nil {
		return task, err
	}
	if req.RoomID != nil {
		notice := fmt.Sprintf("Task %q created for %s", task.Title, engineer.Name)
		if err := e.Rooms.PostNotice(ctx, tx, *req.RoomID, notice); err != nil {
			return task, err
		}
	}
	if err := e.Events.Append(ctx, tx, events.TypeTaskCreated, req.ID, "task", task.ID, actorID, events.EventPayload{"title": task.Title, "engineer_id": engineer.ID}); err != nil {
		return task, err
	}
	if err := tx.Commit(); err != nil {
		return task, err
	}
	e.notifyOperator(ctx, domain.Notification{
		OperatorID: engineer.ID,
		Type:       events.TypeEngineerAssigned,
		Title:      "New task",
		Body:       task.Title,
		RequestID:  &req.ID,
		TaskID:     &task.ID,
	})
	e.Sink.Publish(events.TypeTaskCreated, map[string]any{"request_id": req.ID, "task_id": task.ID})
	return task, nil
}

// AcceptTask starts work on a task. Only the task's engineer may accept.
// Accepting is idempotent: a task already in progress returns as-is without
// touching workload again. The engineer joins the request room and the
// parent request moves from pending to in progress. A task whose request
// has already been closed can no longer be accepted.
func (e Engine) AcceptTask(ctx context.Context, taskID, actorID string) (domain.Task, error) {
	task, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return task, err
	}
	if task.EngineerID != actorID {
		return task, forbidden(actorID, "accept task "+taskID)
	}
	if task.Status == domain.TaskInProgress {
		return task, nil
	}
	if task.Status == domain.TaskComplete {
		return task, invalidStatef("task %s is complete", taskID)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return task, err
	}
	defer tx.Rollback()
	req, err := e.Repo.GetRequestTx(ctx, tx, task.RequestID)
	if err != nil {
		return task, err
	}
	if req.Status == domain.RequestComplete {
		return task, invalidStatef("request %s is complete", req.ID)
	}
	now := e.nowStr()
	task.Status = domain.TaskInProgress
	task.UpdatedAt = now
	if err := e.Repo.UpdateTask(ctx, tx, task); err != nil {
		return task, err
	}
	if req.RoomID != nil {
		if err := e.Rooms.AddMember(ctx, tx, *req.RoomID, task.EngineerID); err != nil {
			return task, err
		}
	}
	if err := e.Repo.AdjustWorkload(ctx, tx, task.EngineerID, +1, true, now); err != nil {
		return task, err
	}
	if req.Status == domain.RequestPending {
		req.Status = domain.RequestInProgress
		req.UpdatedAt = now
		if err := e.Repo.UpdateRequest(ctx, tx, req); err != nil {
			return task, err
		}
	}
	if err := e.Events.Append(ctx, tx, events.TypeEngineerAccepted, req.ID, "task", task.ID, actorID, nil); err != nil {
		return task, err
	}
	if err := tx.Commit(); err != nil {
		return task, err
	}
	e.notifyOperator(ctx, domain.Notification{
		OperatorID: task.ManagerID,
		Type:       events.TypeEngineerAccepted,
		Title:      "Task accepted",
		Body:       task.Title,
		RequestID:  &req.ID,
		TaskID:     &task.ID,
	})
	e.Sink.Publish(events.TypeEngineerAccepted, map[string]any{"request_id": req.ID, "task_id": task.ID})
	return task, nil
}

// CompleteTask finishes a task and puts the parent request up for review.
func (e Engine) CompleteTask(ctx context.Context, taskID, actorID string) (domain.Task, error) {
	task, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return task, err
	}
	if task.EngineerID != actorID {
		return task, forbidden(actorID, "complete task "+taskID)
	}
	if task.Status != domain.TaskInProgress {
		return task, invalidStatef("task %s is not in progress", taskID)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return task, err
	}
	defer tx.Rollback()
	req, err := e.Repo.GetRequestTx(ctx, tx, task.RequestID)
	if err != nil {
		return task, err
	}
	if req.Status == domain.RequestComplete {
		return task, invalidStatef("request %s is complete", req.ID)
	}
	now := e.nowStr()
	task.Status = domain.TaskComplete
	task.UpdatedAt = now
	task.CompletedAt = &now
	if err := e.Repo.UpdateTask(ctx, tx, task); err != nil {
		return task, err
	}
	if req.Status != domain.RequestReview {
		req.Status = domain.RequestReview
		req.UpdatedAt = now
		if err := e.Repo.UpdateRequest(ctx, tx, req); err != nil {
			return task, err
		}
		if req.RoomID != nil {
			if err := e.Rooms.PostNotice(ctx, tx, *req.RoomID, "Work is done and ready to rate"); err != nil {
				return task, err
			}
		}
		if err := e.Events.Append(ctx, tx, events.TypeStatusReview, req.ID, "request", req.ID, actorID, nil); err != nil {
			return task, err
		}
	}
	if err := tx.Commit(); err != nil {
		return task, err
	}
	e.notifyOperator(ctx, domain.Notification{
		OperatorID: task.ManagerID,
		Type:       events.TypeStatusReview,
		Title:      "Task completed",
		Body:       task.Title,
		RequestID:  &req.ID,
		TaskID:     &task.ID,
	})
	e.Sink.Publish(events.TypeStatusReview, map[string]any{"request_id": req.ID, "task_id": task.ID})
	return task, nil
}

// normalizeDeadline accepts an empty string, a bare date or RFC3339. A bare
// date means end of that day, UTC.
func normalizeDeadline(raw string) (*string, error) {
	if raw == "" {
		return nil, nil
	}
	if day, err := time.Parse("2006-01-02", raw); err == nil {
		d := day.Add(23*time.Hour + 59*time.Minute + 59*time.Second).UTC().Format(time.RFC3339)
		return &d, nil
	}
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, invalidStatef("invalid deadline %q", raw)
	}
	d := ts.UTC().Format(time.RFC3339)
	return &d, nil
}

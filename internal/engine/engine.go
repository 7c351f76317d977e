package engine

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"crewline/internal/config"
	"crewline/internal/domain"
	"crewline/internal/events"
	"crewline/internal/notify"
	"crewline/internal/repo"
	"crewline/internal/rooms"
)

// Engine owns the request and task lifecycles. All foreground transitions
// commit their state change, workload adjustment and event append in one
// transaction; notification and sink emits happen after commit and are
// best-effort.
type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Rooms  rooms.Store
	Notify notify.Store
	Sink   Sink
	Config *config.Config
	Logger *log.Logger
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Rooms:  rooms.Store{DB: db},
		Notify: notify.Store{DB: db},
		Sink:   NopSink{},
		Config: cfg,
		Now:    time.Now,
	}
}

// SetClock pins the engine and its collaborators to one clock, so event,
// room and notification timestamps agree with the lifecycle timestamps.
func (e *Engine) SetClock(now func() time.Time) {
	e.Now = now
	e.Events.Now = now
	e.Rooms.Now = now
	e.Notify.Now = now
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowStr() string {
	return e.now().UTC().Format(time.RFC3339)
}

// freshSince returns the oldest heartbeat timestamp a claim will accept.
func (e Engine) freshSince() string {
	return e.now().Add(-e.Config.StaleAfter()).UTC().Format(time.RFC3339)
}

func (e Engine) logf(format string, args ...any) {
	if e.Logger != nil {
		e.Logger.Printf(format, args...)
		return
	}
	log.Printf(format, args...)
}

// AddOperator registers an operator in the assignment pool.
func (e Engine) AddOperator(ctx context.Context, id, name, role string) (domain.Operator, error) {
	if role != domain.RolePM && role != domain.RoleEngineer {
		return domain.Operator{}, invalidStatef("unknown role %q", role)
	}
	if name == "" {
		return domain.Operator{}, errors.New("name is required")
	}
	if id == "" {
		id = uuid.New().String()
	}
	o := domain.Operator{
		ID:        id,
		Name:      name,
		Role:      role,
		CreatedAt: e.nowStr(),
	}
	if err := e.Repo.InsertOperator(ctx, o); err != nil {
		return domain.Operator{}, err
	}
	return o, nil
}

// CreateRequestOptions are parameters for intake of a client request.
type CreateRequestOptions struct {
	ID          string
	Title       string
	Description string
	ClientID    string
}

// CreateRequest creates a pending request and tries to claim a manager for
// it. When no manager is eligible the request stays pending without a
// manager and the standby sweeper picks it up later.
func (e Engine) CreateRequest(ctx context.Context, opts CreateRequestOptions) (domain.Request, error) {
	if opts.Title == "" {
		return domain.Request{}, errors.New("title is required")
	}
	if opts.ClientID == "" {
		return domain.Request{}, errors.New("client is required")
	}
	id := opts.ID
	if id == "" {
		id = uuid.New().String()
	}
	now := e.nowStr()
	req := domain.Request{
		ID:          id,
		Title:       opts.Title,
		Description: opts.Description,
		ClientID:    opts.ClientID,
		Status:      domain.RequestPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Request{}, err
	}
	defer tx.Rollback()

	manager, err := e.claimManagerTx(ctx, tx, &req)
	if err != nil {
		return domain.Request{}, err
	}
	if err := e.Repo.InsertRequest(ctx, tx, req); err != nil {
		return domain.Request{}, err
	}
	if err := e.Events.Append(ctx, tx, events.TypeRequestCreated, req.ID, "request", req.ID, opts.ClientID, events.EventPayload{"title": req.Title}); err != nil {
		return domain.Request{}, err
	}
	if manager != nil {
		if err := e.Events.Append(ctx, tx, events.TypePMAssigned, req.ID, "request", req.ID, opts.ClientID, events.EventPayload{"manager_id": manager.ID}); err != nil {
			return domain.Request{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.Request{}, err
	}
	if manager != nil {
		e.emitAssigned(ctx, req, *manager)
	}
	return req, nil
}

// claimManagerTx prunes stale presence, atomically reserves a manager
// (free-and-online first, busy-and-online as fallback) and wires the claim
// into the request: manager set, room opened with the manager and the client
// as members. Returns nil without error when no manager is eligible.
func (e Engine) claimManagerTx(ctx context.Context, tx *sql.Tx, req *domain.Request) (*domain.Operator, error) {
	now := e.nowStr()
	fresh := e.freshSince()
	if _, err := e.Repo.ReapStale(ctx, tx, fresh); err != nil {
		return nil, err
	}
	manager, err := e.Repo.ClaimOperator(ctx, tx, domain.RolePM, fresh, now, false)
	if errors.Is(err, repo.ErrNotFound) {
		manager, err = e.Repo.ClaimOperator(ctx, tx, domain.RolePM, fresh, now, true)
	}
	if errors.Is(err, repo.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := e.attachManagerTx(ctx, tx, req, manager); err != nil {
		return nil, err
	}
	return &manager, nil
}

func (e Engine) attachManagerTx(ctx context.Context, tx *sql.Tx, req *domain.Request, manager domain.Operator) error {
	members := []string{manager.ID}
	if req.ClientID != "" {
		members = append(members, req.ClientID)
	}
	room, err := e.Rooms.Open(ctx, tx, req.ID, members)
	if err != nil {
		return err
	}
	req.ManagerID = &manager.ID
	req.RoomID = &room.ID
	req.UpdatedAt = e.nowStr()
	return nil
}

// emitAssigned sends the post-commit side effects of a manager claim.
func (e Engine) emitAssigned(ctx context.Context, req domain.Request, manager domain.Operator) {
	e.notifyOperator(ctx, domain.Notification{
		OperatorID: manager.ID,
		Type:       events.TypePMAssigned,
		Title:      "New project request",
		Body:       req.Title,
		RequestID:  &req.ID,
	})
	e.Sink.Publish(events.TypePMAssigned, map[string]any{"request_id": req.ID, "manager_id": manager.ID})
}

// notifyOperator emits a persisted notification; failures are logged, never
// surfaced, so they cannot undo a committed transition.
func (e Engine) notifyOperator(ctx context.Context, n domain.Notification) {
	if err := e.Notify.Emit(ctx, n); err != nil {
		e.logf("notify: emit %s to %s failed: %v", n.Type, n.OperatorID, err)
	}
}

// AssignEngineer sets the engineer on a request. Manager-only; a second,
// different engineer is rejected.
func (e Engine) AssignEngineer(ctx context.Context, requestID, engineerID, actorID string) (domain.Request, error) {
	req, err := e.Repo.GetRequest(ctx, requestID)
	if err != nil {
		return req, err
	}
	if req.ManagerID == nil || *req.ManagerID != actorID {
		return req, forbidden(actorID, "assign an engineer to request "+requestID)
	}
	if req.Status == domain.RequestComplete {
		return req, invalidStatef("request %s is complete", requestID)
	}
	engineer, err := e.Repo.GetOperator(ctx, engineerID)
	if err != nil {
		return req, err
	}
	if engineer.Role != domain.RoleEngineer {
		return req, invalidStatef("operator %s is not an engineer", engineerID)
	}
	if req.EngineerID != nil && *req.EngineerID != engineerID {
		return req, invalidStatef("request %s already has engineer %s", requestID, *req.EngineerID)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return req, err
	}
	defer tx.Rollback()
	req.EngineerID = &engineer.ID
	req.UpdatedAt = e.nowStr()
	if err := e.Repo.UpdateRequest(ctx, tx, req); err != nil {
		return req, err
	}
	if err := e.Events.Append(ctx, tx, events.TypeEngineerAssigned, req.ID, "request", req.ID, actorID, events.EventPayload{"engineer_id": engineer.ID}); err != nil {
		return req, err
	}
	if err := tx.Commit(); err != nil {
		return req, err
	}
	e.notifyOperator(ctx, domain.Notification{
		OperatorID: engineer.ID,
		Type:       events.TypeEngineerAssigned,
		Title:      "Assigned to project",
		Body:       req.Title,
		RequestID:  &req.ID,
	})
	e.Sink.Publish(events.TypeEngineerAssigned, map[string]any{"request_id": req.ID, "engineer_id": engineer.ID})
	return req, nil
}

// AcceptRequest records the engineer's acceptance of the request itself. The
// accepted flag is sticky: a second call is a no-op, and this transition
// never changes workload — capacity is reserved when the concrete task is
// accepted.
func (e Engine) AcceptRequest(ctx context.Context, requestID, actorID string) (domain.Request, error) {
	req, err := e.Repo.GetRequest(ctx, requestID)
	if err != nil {
		return req, err
	}
	if req.EngineerID == nil || *req.EngineerID != actorID {
		return req, forbidden(actorID, "accept request "+requestID)
	}
	if req.AcceptedOnce {
		return req, nil
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return req, err
	}
	defer tx.Rollback()
	req.AcceptedOnce = true
	req.UpdatedAt = e.nowStr()
	if err := e.Repo.UpdateRequest(ctx, tx, req); err != nil {
		return req, err
	}
	if err := e.Events.Append(ctx, tx, events.TypeEngineerAccepted, req.ID, "request", req.ID, actorID, nil); err != nil {
		return req, err
	}
	if err := tx.Commit(); err != nil {
		return req, err
	}
	if req.ManagerID != nil {
		e.notifyOperator(ctx, domain.Notification{
			OperatorID: *req.ManagerID,
			Type:       events.TypeEngineerAccepted,
			Title:      "Engineer accepted the project",
			Body:       req.Title,
			RequestID:  &req.ID,
		})
	}
	e.Sink.Publish(events.TypeEngineerAccepted, map[string]any{"request_id": req.ID, "engineer_id": actorID})
	return req, nil
}

// MarkReview moves a request into review. Only the assigned engineer may do
// this.
func (e Engine) MarkReview(ctx context.Context, requestID, actorID string) (domain.Request, error) {
	req, err := e.Repo.GetRequest(ctx, requestID)
	if err != nil {
		return req, err
	}
	if req.EngineerID == nil || *req.EngineerID != actorID {
		return req, forbidden(actorID, "mark request "+requestID+" for review")
	}
	if req.Status != domain.RequestPending && req.Status != domain.RequestInProgress {
		return req, invalidStatef("request %s cannot move to review from %s", requestID, req.Status)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return req, err
	}
	defer tx.Rollback()
	req.Status = domain.RequestReview
	req.UpdatedAt = e.nowStr()
	if err := e.Repo.UpdateRequest(ctx, tx, req); err != nil {
		return req, err
	}
	if err := e.Events.Append(ctx, tx, events.TypeStatusReview, req.ID, "request", req.ID, actorID, nil); err != nil {
		return req, err
	}
	if err := tx.Commit(); err != nil {
		return req, err
	}
	if req.ManagerID != nil {
		e.notifyOperator(ctx, domain.Notification{
			OperatorID: *req.ManagerID,
			Type:       events.TypeStatusReview,
			Title:      "Project ready for review",
			Body:       req.Title,
			RequestID:  &req.ID,
		})
	}
	e.Sink.Publish(events.TypeStatusReview, map[string]any{"request_id": req.ID})
	return req, nil
}

// Rate attaches one of the three independent rating slots. The request must
// be in review; the status does not change.
func (e Engine) Rate(ctx context.Context, requestID, target string, score int, comment, actorID string) (domain.Rating, error) {
	switch target {
	case domain.RatingManager, domain.RatingEngineer, domain.RatingCoordination:
	default:
		return domain.Rating{}, invalidStatef("unknown rating target %q", target)
	}
	if score < 1 || score > 5 {
		return domain.Rating{}, invalidStatef("score must be between 1 and 5")
	}
	req, err := e.Repo.GetRequest(ctx, requestID)
	if err != nil {
		return domain.Rating{}, err
	}
	if actorID != req.ClientID {
		return domain.Rating{}, forbidden(actorID, "rate request "+requestID)
	}
	if req.Status != domain.RequestReview {
		return domain.Rating{}, invalidStatef("request %s is not in review", requestID)
	}
	rating := domain.Rating{
		RequestID: requestID,
		Target:    target,
		Score:     score,
		Comment:   comment,
		CreatedAt: e.nowStr(),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return rating, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpsertRating(ctx, tx, rating); err != nil {
		return rating, err
	}
	if err := e.Events.Append(ctx, tx, events.TypeClientRated, req.ID, "rating", target, actorID, events.EventPayload{"target": target, "score": score}); err != nil {
		return rating, err
	}
	if err := tx.Commit(); err != nil {
		return rating, err
	}
	e.Sink.Publish(events.TypeClientRated, map[string]any{"request_id": req.ID, "target": target, "score": score})
	return rating, nil
}

// Close completes a request. Manager-only; requires manager and engineer
// ratings. The room is closed, any outstanding reopen request is cleared and
// the workload of both assigned operators is released.
func (e Engine) Close(ctx context.Context, requestID, actorID string) (domain.Request, error) {
	req, err := e.Repo.GetRequest(ctx, requestID)
	if err != nil {
		return req, err
	}
	if req.ManagerID == nil || *req.ManagerID != actorID {
		return req, forbidden(actorID, "close request "+requestID)
	}
	if req.Status == domain.RequestComplete {
		return req, invalidStatef("request %s is already complete", requestID)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return req, err
	}
	defer tx.Rollback()
	rated, err := e.Repo.RatedTargetsTx(ctx, tx, requestID)
	if err != nil {
		return req, err
	}
	if !rated[domain.RatingManager] || !rated[domain.RatingEngineer] {
		return req, invalidStatef("request %s needs manager and engineer ratings before close", requestID)
	}
	now := e.nowStr()
	if req.RoomID != nil {
		if err := e.Rooms.Close(ctx, tx, *req.RoomID); err != nil {
			return req, err
		}
	}
	if err := e.Repo.AdjustWorkload(ctx, tx, *req.ManagerID, -1, false, now); err != nil {
		return req, err
	}
	if req.EngineerID != nil {
		if err := e.Repo.AdjustWorkload(ctx, tx, *req.EngineerID, -1, false, now); err != nil {
			return req, err
		}
	}
	req.Status = domain.RequestComplete
	req.ReopenRequested = false
	req.UpdatedAt = now
	req.CompletedAt = &now
	if err := e.Repo.UpdateRequest(ctx, tx, req); err != nil {
		return req, err
	}
	if err := e.Events.Append(ctx, tx, events.TypeProjectClosed, req.ID, "request", req.ID, actorID, nil); err != nil {
		return req, err
	}
	if err := tx.Commit(); err != nil {
		return req, err
	}
	if req.EngineerID != nil {
		e.notifyOperator(ctx, domain.Notification{
			OperatorID: *req.EngineerID,
			Type:       events.TypeProjectClosed,
			Title:      "Project closed",
			Body:       req.Title,
			RequestID:  &req.ID,
		})
	}
	e.Sink.Publish(events.TypeProjectClosed, map[string]any{"request_id": req.ID})
	return req, nil
}

// RequestReopen records a client-side reopen request on a closed project.
// Idempotent, and never changes the request status; the manager decides.
func (e Engine) RequestReopen(ctx context.Context, requestID, callerID string) (domain.Request, error) {
	req, err := e.Repo.GetRequest(ctx, requestID)
	if err != nil {
		return req, err
	}
	if req.RoomID == nil {
		return req, invalidStatef("request %s has no room", requestID)
	}
	closed, err := e.Rooms.IsClosed(ctx, *req.RoomID)
	if err != nil {
		return req, err
	}
	if !closed {
		return req, invalidStatef("request %s is still open", requestID)
	}
	if callerID != req.ClientID {
		member, err := e.Rooms.IsMember(ctx, *req.RoomID, callerID)
		if err != nil {
			return req, err
		}
		if !member {
			return req, forbidden(callerID, "request reopen of "+requestID)
		}
	}
	if req.ReopenRequested {
		return req, nil
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return req, err
	}
	defer tx.Rollback()
	req.ReopenRequested = true
	req.UpdatedAt = e.nowStr()
	if err := e.Repo.UpdateRequest(ctx, tx, req); err != nil {
		return req, err
	}
	if err := e.Events.Append(ctx, tx, events.TypeClientReopenRequest, req.ID, "request", req.ID, callerID, nil); err != nil {
		return req, err
	}
	if err := tx.Commit(); err != nil {
		return req, err
	}
	if req.ManagerID != nil {
		e.notifyOperator(ctx, domain.Notification{
			OperatorID: *req.ManagerID,
			Type:       events.TypeClientReopenRequest,
			Title:      "Client asked to reopen the project",
			Body:       req.Title,
			RequestID:  &req.ID,
		})
	}
	e.Sink.Publish(events.TypeClientReopenRequest, map[string]any{"request_id": req.ID})
	return req, nil
}

// Reopen puts a closed request back in progress. Manager-only; a no-op when
// the room is already open. Workload of both assigned operators is
// re-reserved with a fresh assignment timestamp.
func (e Engine) Reopen(ctx context.Context, requestID, actorID string) (domain.Request, error) {
	req, err := e.Repo.GetRequest(ctx, requestID)
	if err != nil {
		return req, err
	}
	if req.ManagerID == nil || *req.ManagerID != actorID {
		return req, forbidden(actorID, "reopen request "+requestID)
	}
	if req.RoomID == nil {
		return req, invalidStatef("request %s has no room", requestID)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return req, err
	}
	defer tx.Rollback()
	room, err := e.Rooms.GetTx(ctx, tx, *req.RoomID)
	if err != nil {
		return req, err
	}
	if !room.IsClosed {
		return req, nil
	}
	now := e.nowStr()
	if err := e.Rooms.Reopen(ctx, tx, room.ID); err != nil {
		return req, err
	}
	if err := e.Repo.AdjustWorkload(ctx, tx, *req.ManagerID, +1, true, now); err != nil {
		return req, err
	}
	if req.EngineerID != nil {
		if err := e.Repo.AdjustWorkload(ctx, tx, *req.EngineerID, +1, true, now); err != nil {
			return req, err
		}
	}
	req.Status = domain.RequestInProgress
	req.ReopenRequested = false
	req.CompletedAt = nil
	req.UpdatedAt = now
	if err := e.Repo.UpdateRequest(ctx, tx, req); err != nil {
		return req, err
	}
	if err := e.Events.Append(ctx, tx, events.TypeProjectReopened, req.ID, "request", req.ID, actorID, nil); err != nil {
		return req, err
	}
	if err := tx.Commit(); err != nil {
		return req, err
	}
	if req.EngineerID != nil {
		e.notifyOperator(ctx, domain.Notification{
			OperatorID: *req.EngineerID,
			Type:       events.TypeProjectReopened,
			Title:      "Project reopened",
			Body:       req.Title,
			RequestID:  &req.ID,
		})
	}
	e.Sink.Publish(events.TypeProjectReopened, map[string]any{"request_id": req.ID})
	return req, nil
}

package server

import (
	"encoding/json"

	"crewline/internal/domain"
)

// Request payloads

type CreateOperatorRequest struct {
	ID   *string `json:"id,omitempty"`
	Name string  `json:"name"`
	Role string  `json:"role" enum:"pm,engineer"`
}

type CreateRequestRequest struct {
	ID          *string `json:"id,omitempty"`
	Title       string  `json:"title"`
	Description *string `json:"description,omitempty"`
	ClientID    *string `json:"client_id,omitempty"`
}

type AssignEngineerRequest struct {
	EngineerID string `json:"engineer_id"`
}

type RateRequest struct {
	Target  string  `json:"target" enum:"manager,engineer,coordination"`
	Score   int     `json:"score" minimum:"1" maximum:"5"`
	Comment *string `json:"comment,omitempty"`
}

type CreateTaskRequest struct {
	Title      string  `json:"title"`
	Details    *string `json:"details,omitempty"`
	EngineerID *string `json:"engineer_id,omitempty"`
	Deadline   *string `json:"deadline,omitempty"`
}

// Response payloads

type OperatorResponse struct {
	ID             string  `json:"id"`
	Name           string  `json:"name"`
	Role           string  `json:"role" enum:"pm,engineer"`
	IsBusy         bool    `json:"is_busy"`
	ActiveCount    int     `json:"active_count"`
	Online         bool    `json:"online"`
	LastActiveAt   *string `json:"last_active_at,omitempty" format:"date-time"`
	LastAssignedAt *string `json:"last_assigned_at,omitempty" format:"date-time"`
	CreatedAt      string  `json:"created_at" format:"date-time"`
}

type RequestResponse struct {
	ID              string  `json:"id"`
	Title           string  `json:"title"`
	Description     string  `json:"description,omitempty"`
	ClientID        string  `json:"client_id"`
	Status          string  `json:"status" enum:"pending,in_progress,review,complete"`
	ManagerID       *string `json:"manager_id,omitempty"`
	EngineerID      *string `json:"engineer_id,omitempty"`
	RoomID          *string `json:"room_id,omitempty"`
	Accepted        bool    `json:"accepted"`
	ReopenRequested bool    `json:"reopen_requested"`
	CreatedAt       string  `json:"created_at" format:"date-time"`
	UpdatedAt       string  `json:"updated_at" format:"date-time"`
	CompletedAt     *string `json:"completed_at,omitempty" format:"date-time"`
}

type TaskResponse struct {
	ID          string  `json:"id"`
	RequestID   string  `json:"request_id"`
	ManagerID   string  `json:"manager_id"`
	EngineerID  string  `json:"engineer_id"`
	Title       string  `json:"title"`
	Details     string  `json:"details,omitempty"`
	Status      string  `json:"status" enum:"pending,in_progress,complete"`
	Deadline    *string `json:"deadline,omitempty" format:"date-time"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
	UpdatedAt   string  `json:"updated_at" format:"date-time"`
	CompletedAt *string `json:"completed_at,omitempty" format:"date-time"`
}

type RatingResponse struct {
	RequestID string `json:"request_id"`
	Target    string `json:"target" enum:"manager,engineer,coordination"`
	Score     int    `json:"score"`
	Comment   string `json:"comment,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type RoomMessageResponse struct {
	ID       int64  `json:"id"`
	RoomID   string `json:"room_id"`
	SenderID string `json:"sender_id"`
	Body     string `json:"body"`
	TS       string `json:"ts" format:"date-time"`
}

type NotificationResponse struct {
	ID        string  `json:"id"`
	Type      string  `json:"type"`
	Title     string  `json:"title"`
	Body      string  `json:"body,omitempty"`
	RequestID *string `json:"request_id,omitempty"`
	TaskID    *string `json:"task_id,omitempty"`
	Read      bool    `json:"read"`
	CreatedAt string  `json:"created_at" format:"date-time"`
}

type EventResponse struct {
	ID         int64           `json:"id"`
	TS         string          `json:"ts" format:"date-time"`
	Type       string          `json:"type"`
	RequestID  string          `json:"request_id,omitempty"`
	EntityKind string          `json:"entity_kind"`
	EntityID   string          `json:"entity_id,omitempty"`
	ActorID    string          `json:"actor_id"`
	Payload    json.RawMessage `json:"payload"`
}

func operatorResponse(o domain.Operator) OperatorResponse {
	return OperatorResponse{
		ID:             o.ID,
		Name:           o.Name,
		Role:           o.Role,
		IsBusy:         o.IsBusy,
		ActiveCount:    o.ActiveCount,
		Online:         o.Online,
		LastActiveAt:   o.LastActiveAt,
		LastAssignedAt: o.LastAssignedAt,
		CreatedAt:      o.CreatedAt,
	}
}

func mapOperators(items []domain.Operator) []OperatorResponse {
	out := make([]OperatorResponse, 0, len(items))
	for _, o := range items {
		out = append(out, operatorResponse(o))
	}
	return out
}

func requestResponse(r domain.Request) RequestResponse {
	return RequestResponse{
		ID:              r.ID,
		Title:           r.Title,
		Description:     r.Description,
		ClientID:        r.ClientID,
		Status:          r.Status,
		ManagerID:       r.ManagerID,
		EngineerID:      r.EngineerID,
		RoomID:          r.RoomID,
		Accepted:        r.AcceptedOnce,
		ReopenRequested: r.ReopenRequested,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
		CompletedAt:     r.CompletedAt,
	}
}

func mapRequests(items []domain.Request) []RequestResponse {
	out := make([]RequestResponse, 0, len(items))
	for _, r := range items {
		out = append(out, requestResponse(r))
	}
	return out
}

func taskResponse(t domain.Task) TaskResponse {
	return TaskResponse{
		ID:          t.ID,
		RequestID:   t.RequestID,
		ManagerID:   t.ManagerID,
		EngineerID:  t.EngineerID,
		Title:       t.Title,
		Details:     t.Details,
		Status:      t.Status,
		Deadline:    t.Deadline,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
		CompletedAt: t.CompletedAt,
	}
}

func mapTasks(items []domain.Task) []TaskResponse {
	out := make([]TaskResponse, 0, len(items))
	for _, t := range items {
		out = append(out, taskResponse(t))
	}
	return out
}

func ratingResponse(r domain.Rating) RatingResponse {
	return RatingResponse{
		RequestID: r.RequestID,
		Target:    r.Target,
		Score:     r.Score,
		Comment:   r.Comment,
		CreatedAt: r.CreatedAt,
	}
}

func mapRatings(items []domain.Rating) []RatingResponse {
	out := make([]RatingResponse, 0, len(items))
	for _, r := range items {
		out = append(out, ratingResponse(r))
	}
	return out
}

func mapRoomMessages(items []domain.RoomMessage) []RoomMessageResponse {
	out := make([]RoomMessageResponse, 0, len(items))
	for _, m := range items {
		out = append(out, RoomMessageResponse{
			ID:       m.ID,
			RoomID:   m.RoomID,
			SenderID: m.SenderID,
			Body:     m.Body,
			TS:       m.TS,
		})
	}
	return out
}

func mapNotifications(items []domain.Notification) []NotificationResponse {
	out := make([]NotificationResponse, 0, len(items))
	for _, n := range items {
		out = append(out, NotificationResponse{
			ID:        n.ID,
			Type:      n.Type,
			Title:     n.Title,
			Body:      n.Body,
			RequestID: n.RequestID,
			TaskID:    n.TaskID,
			Read:      n.Read,
			CreatedAt: n.CreatedAt,
		})
	}
	return out
}

func eventResponse(e domain.Event) EventResponse {
	payload := json.RawMessage([]byte("{}"))
	if e.Payload != "" && json.Valid([]byte(e.Payload)) {
		payload = json.RawMessage([]byte(e.Payload))
	}
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		RequestID:  e.RequestID,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    payload,
	}
}

func mapEvents(items []domain.Event) []EventResponse {
	out := make([]EventResponse, 0, len(items))
	for _, e := range items {
		out = append(out, eventResponse(e))
	}
	return out
}

func strOrEmpty(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

package domain

// Operator roles.
const (
	RolePM       = "pm"
	RoleEngineer = "engineer"
)

// Request statuses.
const (
	RequestPending    = "pending"
	RequestInProgress = "in_progress"
	RequestReview     = "review"
	RequestComplete   = "complete"
)

// Task statuses.
const (
	TaskPending    = "pending"
	TaskInProgress = "in_progress"
	TaskComplete   = "complete"
)

// Rating targets.
const (
	RatingManager      = "manager"
	RatingEngineer     = "engineer"
	RatingCoordination = "coordination"
)

type Operator struct {
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

type Request struct {
	ID              string  `json:"id"`
	Title           string  `json:"title"`
	Description     string  `json:"description,omitempty"`
	ClientID        string  `json:"client_id"`
	Status          string  `json:"status" enum:"pending,in_progress,review,complete"`
	ManagerID       *string `json:"manager_id,omitempty"`
	EngineerID      *string `json:"engineer_id,omitempty"`
	RoomID          *string `json:"room_id,omitempty"`
	AcceptedOnce    bool    `json:"accepted_once"`
	ReopenRequested bool    `json:"reopen_requested"`
	CreatedAt       string  `json:"created_at" format:"date-time"`
	UpdatedAt       string  `json:"updated_at" format:"date-time"`
	CompletedAt     *string `json:"completed_at,omitempty" format:"date-time"`
}

type Task struct {
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

type Rating struct {
	RequestID string `json:"request_id"`
	Target    string `json:"target" enum:"manager,engineer,coordination"`
	Score     int    `json:"score" minimum:"1" maximum:"5"`
	Comment   string `json:"comment,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Room struct {
	ID        string  `json:"id"`
	RequestID string  `json:"request_id"`
	IsClosed  bool    `json:"is_closed"`
	CreatedAt string  `json:"created_at" format:"date-time"`
	ClosedAt  *string `json:"closed_at,omitempty" format:"date-time"`
}

type RoomMessage struct {
	ID       int64  `json:"id"`
	RoomID   string `json:"room_id"`
	SenderID string `json:"sender_id"`
	Body     string `json:"body"`
	TS       string `json:"ts" format:"date-time"`
}

type Notification struct {
	ID         string  `json:"id"`
	OperatorID string  `json:"operator_id"`
	Type       string  `json:"type"`
	Title      string  `json:"title"`
	Body       string  `json:"body,omitempty"`
	RequestID  *string `json:"request_id,omitempty"`
	TaskID     *string `json:"task_id,omitempty"`
	Read       bool    `json:"read"`
	CreatedAt  string  `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	RequestID  string `json:"request_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID         string `json:"id"`
	OperatorID string `json:"operator_id"`
	Name       string `json:"name,omitempty"`
	KeyHash    string `json:"key_hash"`
	CreatedAt  string `json:"created_at" format:"date-time"`
}

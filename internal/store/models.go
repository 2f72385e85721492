package store

// All timestamps are Unix milliseconds assigned by the store.

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

type UserRole string

const (
	UserRoleUser  UserRole = "user"
	UserRoleAdmin UserRole = "admin"
)

type ConversationStatus string

const (
	StatusActive    ConversationStatus = "active"
	StatusCompleted ConversationStatus = "completed"
)

func (s ConversationStatus) Valid() bool {
	return s == StatusActive || s == StatusCompleted
}

type User struct {
	ID         string   `json:"id"`
	ExternalID string   `json:"externalId"`
	Email      string   `json:"email"`
	Name       *string  `json:"name,omitempty"`
	Role       UserRole `json:"role"`
	CreatedAt  int64    `json:"createdAt"`
}

func (u *User) IsAdmin() bool {
	return u != nil && u.Role == UserRoleAdmin
}

type Question struct {
	ID          string   `json:"id"`
	Seq         int64    `json:"-"` // insertion order, used wherever selection must be reproducible
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Category    string   `json:"category"`
	Tags        []string `json:"tags"`
	Difficulty  string   `json:"difficulty"`
	IsActive    bool     `json:"isActive"`
	IsDaily     bool     `json:"isDaily"`
	DailyDate   *string  `json:"dailyDate,omitempty"` // YYYY-MM-DD
	CreatedAt   int64    `json:"createdAt"`
}

type Conversation struct {
	ID           string             `json:"id"`
	UserID       string             `json:"userId"`
	QuestionID   string             `json:"questionId"`
	Status       ConversationStatus `json:"status"`
	MessageCount int                `json:"messageCount"`
	StartedAt    int64              `json:"startedAt"`
	CompletedAt  *int64             `json:"completedAt,omitempty"`
}

// ConversationWithQuestion is a conversation joined with its question.
// Question is nil when the question was deleted after the conversation began.
type ConversationWithQuestion struct {
	Conversation
	Question *Question `json:"question"`
}

type Message struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversationId"`
	Role           Role   `json:"role"`
	Content        string `json:"content"`
	Timestamp      int64  `json:"timestamp"`
}

type AnsweredQuestion struct {
	ID             string `json:"id"`
	UserID         string `json:"userId"`
	QuestionID     string `json:"questionId"`
	ConversationID string `json:"conversationId"`
	AnsweredAt     int64  `json:"answeredAt"`
}

// Thread binds a sequence of generation calls to one conversation.
type Thread struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	Title          string `json:"title"`
	CreatedAt      int64  `json:"createdAt"`
}

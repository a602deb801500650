package store

import "time"

const (
	ConversationTypeVoice   = "voice"
	ConversationTypeMessage = "message"

	ConversationStatusActive    = "active"
	ConversationStatusCompleted = "completed"

	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"

	MessageTypeConversation = "conversation"
	MessageTypeSystem       = "system"

	ToolCallStatusStarted = "started"
	ToolCallStatusSuccess = "success"
	ToolCallStatusFailed  = "failed"
)

type Agent struct {
	ID           string    `gorm:"column:id;primaryKey"`
	Name         string    `gorm:"column:name"`
	PhoneNumber  *string   `gorm:"column:phone_number"`
	Greeting     string    `gorm:"column:greeting"`
	VoiceModel   string    `gorm:"column:voice_model"`
	SystemPrompt string    `gorm:"column:system_prompt"`
	Language     string    `gorm:"column:language"`
	Tools        []string  `gorm:"column:tools;serializer:json"`
	Active       bool      `gorm:"column:active"`
	CreatedAt    time.Time `gorm:"column:created_at"`
	UpdatedAt    time.Time `gorm:"column:updated_at"`
}

func (Agent) TableName() string { return "agents" }

// Phone returns the assigned number or "" when none is set.
func (a Agent) Phone() string {
	if a.PhoneNumber == nil {
		return ""
	}
	return *a.PhoneNumber
}

type Conversation struct {
	ID               string     `gorm:"column:id;primaryKey"`
	AgentID          string     `gorm:"column:agent_id"`
	SessionName      string     `gorm:"column:session_name"`
	ConversationType string     `gorm:"column:conversation_type"`
	CallerPhone      string     `gorm:"column:caller_phone"`
	TwilioSID        string     `gorm:"column:twilio_sid"`
	Status           string     `gorm:"column:status"`
	StartedAt        time.Time  `gorm:"column:started_at"`
	EndedAt          *time.Time `gorm:"column:ended_at"`
	DurationSeconds  string     `gorm:"column:duration_seconds"`
	Summary          string     `gorm:"column:summary"`
	Active           bool       `gorm:"column:active"`
	CreatedAt        time.Time  `gorm:"column:created_at"`
	UpdatedAt        time.Time  `gorm:"column:updated_at"`
}

func (Conversation) TableName() string { return "conversations" }

type Message struct {
	ID             string    `gorm:"column:id;primaryKey"`
	ConversationID string    `gorm:"column:conversation_id"`
	Role           string    `gorm:"column:role"`
	Content        string    `gorm:"column:content"`
	AudioFilePath  string    `gorm:"column:audio_file_path"`
	SequenceNumber int64     `gorm:"column:sequence_number"`
	MessageType    string    `gorm:"column:message_type"`
	CreatedAt      time.Time `gorm:"column:created_at"`
	UpdatedAt      time.Time `gorm:"column:updated_at"`
}

func (Message) TableName() string { return "messages" }

type ToolCall struct {
	ID             string         `gorm:"column:id;primaryKey"`
	ConversationID string         `gorm:"column:conversation_id"`
	ToolName       string         `gorm:"column:tool_name"`
	Parameters     map[string]any `gorm:"column:parameters;serializer:json"`
	Result         map[string]any `gorm:"column:result;serializer:json"`
	Status         string         `gorm:"column:status"`
	ExecutionTime  float64        `gorm:"column:execution_time"`
	ExecutedAt     time.Time      `gorm:"column:executed_at"`
	CompletedAt    *time.Time     `gorm:"column:completed_at"`
	CreatedAt      time.Time      `gorm:"column:created_at"`
	UpdatedAt      time.Time      `gorm:"column:updated_at"`
}

func (ToolCall) TableName() string { return "tool_calls" }

type MenuItem struct {
	ID          string    `gorm:"column:id;primaryKey"`
	AgentID     string    `gorm:"column:agent_id"`
	Number      string    `gorm:"column:number"`
	Name        string    `gorm:"column:name"`
	Description string    `gorm:"column:description"`
	Category    string    `gorm:"column:category"`
	Price       float64   `gorm:"column:price"`
	Available   bool      `gorm:"column:available"`
	IsPopular   bool      `gorm:"column:is_popular"`
	IsSpecial   bool      `gorm:"column:is_special"`
	IsHidden    bool      `gorm:"column:is_hidden"`
	Active      bool      `gorm:"column:active"`
	CreatedAt   time.Time `gorm:"column:created_at"`
	UpdatedAt   time.Time `gorm:"column:updated_at"`
}

func (MenuItem) TableName() string { return "menu_items" }

type Order struct {
	ID              string    `gorm:"column:id;primaryKey"`
	AgentID         string    `gorm:"column:agent_id"`
	ConversationID  string    `gorm:"column:conversation_id"`
	CustomerPhone   string    `gorm:"column:customer_phone"`
	CustomerName    string    `gorm:"column:customer_name"`
	Status          string    `gorm:"column:status"`
	TotalPrice      float64   `gorm:"column:total_price"`
	SpecialRequests string    `gorm:"column:special_requests"`
	Active          bool      `gorm:"column:active"`
	CreatedAt       time.Time `gorm:"column:created_at"`
	UpdatedAt       time.Time `gorm:"column:updated_at"`
}

func (Order) TableName() string { return "orders" }

type OrderItem struct {
	ID        string    `gorm:"column:id;primaryKey"`
	OrderID   string    `gorm:"column:order_id"`
	Name      string    `gorm:"column:name"`
	Quantity  int       `gorm:"column:quantity"`
	Price     float64   `gorm:"column:price"`
	Note      string    `gorm:"column:note"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

func (OrderItem) TableName() string { return "order_items" }

type KnowledgeChunk struct {
	ID             string    `gorm:"column:id;primaryKey"`
	AgentID        string    `gorm:"column:agent_id"`
	CollectionName string    `gorm:"column:collection_name"`
	Content        string    `gorm:"column:content"`
	SourceSection  string    `gorm:"column:source_section"`
	ContentType    string    `gorm:"column:content_type"`
	ChunkIndex     int       `gorm:"column:chunk_index"`
	CreatedAt      time.Time `gorm:"column:created_at"`
}

func (KnowledgeChunk) TableName() string { return "knowledge_chunks" }

package models

import "time"

// Direction tags a logged message relative to the end user.
type Direction string

const (
	Inbound  Direction = "inbound"
	Outbound Direction = "outbound"
)

// Thread correlates one phone number with its assistant session.
// AssistantSessionID is empty until the first assistant call and never
// changes once set.
type Thread struct {
	ID                 string    `gorm:"type:varchar(36);primaryKey" firestore:"id" json:"id" yaml:"id"`
	PhoneNumber        string    `gorm:"type:varchar(32);uniqueIndex;not null" firestore:"phone_number" json:"phone_number" yaml:"phone_number"`
	AssistantSessionID string    `gorm:"type:varchar(64);not null;default:''" firestore:"assistant_session_id" json:"assistant_session_id" yaml:"assistant_session_id"`
	CreatedAt          time.Time `gorm:"not null" firestore:"created_at" json:"created_at" yaml:"created_at"`
}

// Message is one logged turn. Messages are append-only.
type Message struct {
	ID          string    `gorm:"type:varchar(36);primaryKey" firestore:"id" json:"id" yaml:"id"`
	ThreadID    string    `gorm:"type:varchar(36);index;not null" firestore:"thread_id" json:"thread_id" yaml:"thread_id"`
	PhoneNumber string    `gorm:"type:varchar(32);not null" firestore:"phone_number" json:"phone_number" yaml:"phone_number"`
	Body        string    `gorm:"column:message_body;type:text;not null" firestore:"message_body" json:"message_body" yaml:"message_body"`
	Direction   Direction `gorm:"column:message_type;type:varchar(10);not null" firestore:"message_type" json:"message_type" yaml:"message_type"`
	CreatedAt   time.Time `gorm:"index;not null" firestore:"created_at" json:"created_at" yaml:"created_at"`
}

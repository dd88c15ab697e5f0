package db

import "time"

type AuditEventModel struct {
	ID            string    `gorm:"type:uuid;primaryKey"`
	Seq           int64     `gorm:"uniqueIndex;not null"`
	EventType     string    `gorm:"index;not null"`
	PayloadJSON   []byte    `gorm:"type:jsonb;not null"`
	PayloadHash   string    `gorm:"not null"`
	ActorType     string    `gorm:"not null"`
	ActorIDHash   *string
	TargetType    string    `gorm:"not null"`
	TargetID      *string   `gorm:"index"`
	Result        string    `gorm:"not null"`
	ErrorCode     *string
	PrevEventHash string    `gorm:"not null"`
	EventHash     string    `gorm:"uniqueIndex;not null"`
	CreatedAt     time.Time `gorm:"not null"`
}

func (AuditEventModel) TableName() string {
	return "audit_events"
}

// AuditSeqModel is a single-row counter that serialises appends to the chain.
type AuditSeqModel struct {
	Chain string `gorm:"primaryKey"`
	Seq   int64  `gorm:"not null"`
}

func (AuditSeqModel) TableName() string {
	return "audit_seq"
}

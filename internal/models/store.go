package models

import (
	"time"

	"github.com/google/uuid"
)

// Store is a registered remote Shopify store.
type Store struct {
	ID     uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	Domain string    `gorm:"type:varchar(255);not null;uniqueIndex:idx_stores_domain" json:"domain"`
	Name   string    `gorm:"type:varchar(255);not null" json:"name"`

	// Exactly one of these holds the credential: a Secret Manager reference
	// or an encrypted token.
	SecretReference string `gorm:"type:varchar(500)" json:"-"`
	EncryptedToken  string `gorm:"type:text" json:"-"`

	// Set by the connectivity check only.
	Connected bool       `gorm:"default:false;index:idx_stores_connected" json:"connected"`
	LastError string     `gorm:"type:text" json:"lastError,omitempty"`
	LastCheck *time.Time `json:"lastCheck,omitempty"`
	LastSync  *time.Time `json:"lastSync,omitempty"`

	CreatedAt time.Time `gorm:"default:CURRENT_TIMESTAMP" json:"createdAt"`
	UpdatedAt time.Time `gorm:"default:CURRENT_TIMESTAMP" json:"updatedAt"`
}

// TableName specifies the table name for Store
func (Store) TableName() string {
	return "stores"
}

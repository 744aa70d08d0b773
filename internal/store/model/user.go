package model

import "time"

// User mirrors a principal known to the identity provider. Jobs reference it by Username.
type User struct {
	Username     string    `gorm:"primaryKey;column:username;type:VARCHAR(256)"`
	FirstName    string    `gorm:"column:first_name;type:VARCHAR(255)"`
	LastName     string    `gorm:"column:last_name;type:VARCHAR(255)"`
	Organization string    `gorm:"column:organization;type:VARCHAR(255)"`
	CreatedAt    time.Time `gorm:"not null;autoCreateTime"`
}

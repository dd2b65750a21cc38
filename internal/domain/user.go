package domain

import (
	"time"

	"github.com/google/uuid"
)

type UserStatus string

const (
	UserStatusPending UserStatus = "pending"
	UserStatusActive  UserStatus = "active"
	UserStatusFrozen  UserStatus = "frozen"
	UserStatusClosed  UserStatus = "closed"
)

type UserRole string

const (
	RoleCustomer UserRole = "customer"
	RoleOffice   UserRole = "office"
	RoleAdmin    UserRole = "admin"
)

type User struct {
	ID           uuid.UUID
	Email        string
	Name         string
	PasswordHash string
	Role         UserRole
	Status       UserStatus
	City         *string
	Country      *string
	ReferredBy   *uuid.UUID
	CreatedAt    time.Time
}

func (u *User) IsActive() bool {
	return u.Status == UserStatusActive
}

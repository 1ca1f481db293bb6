package model

import "time"

// UserContainerBinding grants one user one role on one container. Exactly
// one binding may exist per (user, container) pair.
type UserContainerBinding struct {
	UserID      string    `json:"user_id"`
	ContainerID string    `json:"container_id"`
	Role        Role      `json:"role"`
	Username    string    `json:"username"`
	PublicKey   *string   `json:"public_key,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

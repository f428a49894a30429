package model

import (
	"encoding/json"
	"fmt"
)

// User is an account extracted from a follower/following list.
type User struct {
	ID         UserID `json:"pk" validate:"required"`
	Username   string `json:"username"`
	FullName   string `json:"fullName"`
	ProfilePic string `json:"profilePic"`
}

// UserID is the platform primary key. Clients send it either as a JSON
// number or as a string; it is always encoded back as a string.
type UserID string

func (id UserID) String() string { return string(id) }

func (id *UserID) UnmarshalJSON(b []byte) error {
	var n json.Number
	if err := json.Unmarshal(b, &n); err == nil {
		*id = UserID(n.String())
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("pk: expected string or number, got %s", b)
	}
	*id = UserID(s)
	return nil
}

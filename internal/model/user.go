package model

// User is the authenticated account as reported to clients.
type User struct {
	Username string `json:"username"`
	IsDemo   bool   `json:"isDemo"`
}

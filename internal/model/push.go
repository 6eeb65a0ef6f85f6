package model

import "time"

// PushSubscription is a browser endpoint registered for Web Push.
type PushSubscription struct {
	ID         int64     `json:"id"`
	Owner      Owner     `json:"-"`
	Endpoint   string    `json:"endpoint"`
	P256dhKey  string    `json:"p256dh"`
	AuthKey    string    `json:"auth"`
	DeviceName string    `json:"deviceName"`
	CreatedAt  time.Time `json:"createdAt"`
}

package models

import "time"

// Message is a snapshot of one queue row at claim time. The delete token is
// the credential for acknowledging this claim; it is replaced on every
// redelivery, so only the most recent claimant can delete the message.
type Message struct {
	MessageID         string    `yaml:"message_id"`
	Content           string    `yaml:"content"`
	DeleteToken       string    `yaml:"delete_token"`
	VisibilityTimeout time.Time `yaml:"visibility_timeout"`
	DequeueCount      int       `yaml:"dequeue_count"`
}

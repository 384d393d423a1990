// Package storage persists bot users, sent greetings and received messages.
//
// The bot writes; the admin backend reads. Both open the same SQLite file.
package storage

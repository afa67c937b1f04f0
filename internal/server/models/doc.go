// Package models holds the persistence and transfer types shared by the
// gateway repositories, services and HTTP handlers.
package models

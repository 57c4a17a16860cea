// Package models defines core data structures for images, queries, and search results.
package models

import "time"

// Image is a registered image file and its decoded properties.
type Image struct {
	ID        string    `json:"id" db:"id"`
	Path      string    `json:"path" db:"path"`
	Filename  string    `json:"filename" db:"filename"`
	Width     int       `json:"width" db:"width"`
	Height    int       `json:"height" db:"height"`
	Format    string    `json:"format" db:"format"`
	SizeBytes int64     `json:"size_bytes" db:"size_bytes"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// ImageInput is the input for registering an image.
type ImageInput struct {
	ID   string `json:"id,omitempty"`
	Path string `json:"path"`
}

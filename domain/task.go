package domain

// Task is an open task reconstructed from the event log. It is never stored.
type Task struct {
	URI   string `json:"uri"`
	Title string `json:"title"`
}

package domain

const (
	TaskAdded     = "task-added"
	TaskCompleted = "task-completed"
)

// Event is an immutable fact about a task.
type Event struct {
	Name      string `json:"name"`
	TaskURI   string `json:"taskUri,omitempty"`
	TaskTitle string `json:"taskTitle,omitempty"`
}

// Valid reports whether the event carries the full task-event shape.
// task-completed is held to the same shape even though its title is unused.
func (e Event) Valid() bool {
	return e.Name != "" && e.TaskURI != "" && e.TaskTitle != ""
}

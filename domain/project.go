package domain

import "slices"

// Project folds events, in log order, into the set of currently open tasks.
// Events that fail the shape check or carry an unknown name leave the state
// untouched. Only membership by URI and field values are meaningful in the
// result; its order is not.
func Project(events []Event) []Task {
	tasks := make([]Task, 0)
	for _, ev := range events {
		if !ev.Valid() {
			continue
		}
		switch ev.Name {
		case TaskAdded:
			tasks = removeTask(tasks, ev.TaskURI)
			tasks = append(tasks, Task{URI: ev.TaskURI, Title: ev.TaskTitle})
		case TaskCompleted:
			tasks = removeTask(tasks, ev.TaskURI)
		}
	}
	return tasks
}

func removeTask(tasks []Task, uri string) []Task {
	return slices.DeleteFunc(tasks, func(t Task) bool { return t.URI == uri })
}

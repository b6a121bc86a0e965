package domain

import "time"

// Reminder asks a question's author to supply a missing resolution. The
// (Question, Author) pair identifies it.
type Reminder struct {
	Question Ref[Question] `json:"question"`
	Author   Ref[User]     `json:"author"`
	Title    string        `json:"title"`
	DueAt    time.Time     `json:"due_at"`
}

package domain

// InferenceTask is a unit of model work the backend queued for the client
type InferenceTask struct {
	TaskID       string   `json:"task_id"`
	TaskType     TaskType `json:"task_type"`
	Prompt       string   `json:"prompt"`
	SystemPrompt string   `json:"system_prompt,omitempty"`
}

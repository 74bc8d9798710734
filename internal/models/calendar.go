package models

// Calendar is a named event container owned by a user.
type Calendar struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Color      string `json:"color"`
	ShowAlarms bool   `json:"showalarms"`
	ReadOnly   bool   `json:"readonly"`
	Active     bool   `json:"active"` // subscribed / visible
}

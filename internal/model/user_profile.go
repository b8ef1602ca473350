package model

// UserProfile personalizes the summary and extraction prompts. Profiles are
// owned by the account service; the pipeline only reads them.
type UserProfile struct {
	UserID       string   `json:"userId"`
	Name         string   `json:"name"`
	Profession   string   `json:"profession"`
	Specialities []string `json:"specialities"`
}

package model

// Resource is the protected resource a credential grants access to. In this
// deployment it is an event proposal owned by the portal database.
type Resource struct {
	ID          string  `json:"id" yaml:"id" db:"id"`
	JobNumber   string  `json:"job_number,omitempty" yaml:"job_number" db:"job_number"`
	DisplayName string  `json:"display_name" yaml:"display_name" db:"client_name"`
	Venue       string  `json:"venue,omitempty" yaml:"venue" db:"venue"`
	TotalValue  float64 `json:"total_value" yaml:"total_value" db:"total_cost"`
}

// Label returns the human-facing identifier for the resource: the job number
// when the proposal has one, otherwise its ID.
func (r *Resource) Label() string {
	if r.JobNumber != "" {
		return r.JobNumber
	}
	return r.ID
}

// Contact is an entry in the approved-recipient directory.
type Contact struct {
	Email        string `json:"email" yaml:"email" db:"email"`
	FullName     string `json:"full_name" yaml:"full_name" db:"full_name"`
	Organization string `json:"organization" yaml:"organization" db:"company"`
	IsActive     bool   `json:"is_active" yaml:"is_active" db:"is_active"`
}

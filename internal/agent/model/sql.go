package model

// ValidationStatus tracks an SQL candidate through plan validation.
type ValidationStatus int

const (
	Unvalidated ValidationStatus = iota
	Valid
	Invalid
)

func (s ValidationStatus) String() string {
	switch s {
	case Valid:
		return "valid"
	case Invalid:
		return "invalid"
	default:
		return "unvalidated"
	}
}

func (s ValidationStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// SQLCandidate is one synthesized query and its validation verdict.
type SQLCandidate struct {
	Query   string           `json:"sql_code"`
	Request string           `json:"request"`
	Status  ValidationStatus `json:"status"`
	// Reason is the last engine diagnostic when Status is Invalid.
	Reason   string `json:"error,omitempty"`
	Attempts int    `json:"attempts"`
	// FileName names the saved artifact once the candidate validated.
	FileName string  `json:"sql_code_file_name,omitempty"`
	CostUSD  float64 `json:"-"`
}

// IsValid reports whether the candidate passed plan validation.
func (c *SQLCandidate) IsValid() bool {
	return c != nil && c.Status == Valid
}

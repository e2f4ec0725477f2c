package model

// EntityIdentity is a known or provisional employee identity. ID is set when
// the employee already exists in the system of record and empty when the
// identity was discovered during the current run. Never mutated after index
// insertion within a run.
type EntityIdentity struct {
	ID             string         `json:"id,omitempty"`
	EmployeeNumber string         `json:"employee_number,omitempty"`
	Email          string         `json:"email,omitempty"`
	NationalID     string         `json:"national_id,omitempty"`
	Phone          string         `json:"phone,omitempty"`
	FullName       string         `json:"full_name,omitempty"`
	Fields         map[string]any `json:"fields,omitempty"`
}

// MatchMethod names the key that resolved a match.
type MatchMethod string

// Match methods, strongest first.
const (
	MatchEmployeeNumber MatchMethod = "employee_number"
	MatchEmail          MatchMethod = "email"
	MatchNationalID     MatchMethod = "national_id"
	MatchPhone          MatchMethod = "phone"
	MatchName           MatchMethod = "name"
)

// MatchCascade is the strict priority order for identity matching.
var MatchCascade = []MatchMethod{
	MatchEmployeeNumber,
	MatchEmail,
	MatchNationalID,
	MatchPhone,
	MatchName,
}

// Confidence returns the fixed 0-100 confidence assigned to a match method.
func (m MatchMethod) Confidence() int {
	switch m {
	case MatchEmployeeNumber:
		return 100
	case MatchEmail:
		return 95
	case MatchNationalID:
		return 90
	case MatchPhone:
		return 85
	case MatchName:
		return 75
	default:
		return 0
	}
}

// Field aliases recognized when extracting matchable attributes. Sheet headers
// are slugged before records are built, so aliases are lower_snake_case.
var (
	employeeNumberAliases = []string{"employee_number", "employee_id", "emp_no", "matricule", "staff_number", "employee"}
	emailAliases          = []string{"email", "work_email", "email_address"}
	nationalIDAliases     = []string{"national_id", "cni", "id_number", "national_id_number"}
	phoneAliases          = []string{"phone", "phone_number", "mobile", "contact_number", "telephone"}
	fullNameAliases       = []string{"full_name", "name", "employee_name"}
	firstNameAliases      = []string{"first_name", "firstname", "prenom"}
	lastNameAliases       = []string{"last_name", "lastname", "nom", "surname"}
)

// Candidate holds the matchable attributes extracted from a field map.
type Candidate struct {
	EmployeeNumber string
	Email          string
	NationalID     string
	Phone          string
	FullName       string
}

// CandidateFromFields extracts matchable attributes from a record or merged
// entity field map, resolving common header aliases.
func CandidateFromFields(fields map[string]any) Candidate {
	c := Candidate{
		EmployeeNumber: FirstField(fields, employeeNumberAliases...),
		Email:          FirstField(fields, emailAliases...),
		NationalID:     FirstField(fields, nationalIDAliases...),
		Phone:          FirstField(fields, phoneAliases...),
		FullName:       FirstField(fields, fullNameAliases...),
	}
	if c.FullName == "" {
		first := FirstField(fields, firstNameAliases...)
		last := FirstField(fields, lastNameAliases...)
		if first != "" || last != "" {
			c.FullName = joinName(first, last)
		}
	}
	// An "employee" column frequently carries a name rather than a number.
	// A value with spaces cannot be an employee number; treat it as a name.
	if c.EmployeeNumber != "" && containsSpace(c.EmployeeNumber) {
		if c.FullName == "" {
			c.FullName = c.EmployeeNumber
		}
		c.EmployeeNumber = ""
	}
	return c
}

// Candidate returns the identity's own attributes as a match candidate.
func (e EntityIdentity) Candidate() Candidate {
	return Candidate{
		EmployeeNumber: e.EmployeeNumber,
		Email:          e.Email,
		NationalID:     e.NationalID,
		Phone:          e.Phone,
		FullName:       e.FullName,
	}
}

// IdentityFromFields builds a provisional identity from merged fields.
func IdentityFromFields(fields map[string]any) EntityIdentity {
	c := CandidateFromFields(fields)
	return EntityIdentity{
		EmployeeNumber: c.EmployeeNumber,
		Email:          c.Email,
		NationalID:     c.NationalID,
		Phone:          c.Phone,
		FullName:       c.FullName,
		Fields:         fields,
	}
}

func joinName(first, last string) string {
	switch {
	case first == "":
		return last
	case last == "":
		return first
	default:
		return first + " " + last
	}
}

func containsSpace(s string) bool {
	for _, r := range s {
		if r == ' ' || r == '\t' {
			return true
		}
	}
	return false
}

package emr

// RawAppointment is an appointment as returned by the EHR proxy. Field names
// vary between proxy versions, so it stays a loose key-value document.
type RawAppointment = map[string]any

// RawProvider is a provider record as returned by the EHR proxy.
type RawProvider = map[string]any

// RawPatient is a patient record as returned by the EHR proxy.
type RawPatient = map[string]any

// UnknownProvider is used whenever an appointment's provider cannot be resolved.
const UnknownProvider = "Unknown Provider"

// NormalizedPatient is one row of a day's patient list.
// ID is never empty and Provider is either a formatted name or UnknownProvider.
type NormalizedPatient struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	DOB             string `json:"dob"`
	AppointmentTime string `json:"appointmentTime"`
	AppointmentType string `json:"appointmentType"`
	Provider        string `json:"provider"`
	Status          Status `json:"status"`
	Phone           string `json:"phone"`
	Email           string `json:"email"`
}

// Demographics holds the patient fields an appointment may lack.
type Demographics struct {
	FirstName   string `mapstructure:"FirstName"`
	LastName    string `mapstructure:"LastName"`
	DateOfBirth string `mapstructure:"DateOfBirth"`
	Email       string `mapstructure:"EmailAddress"`
	MobilePhone string `mapstructure:"MobilePhone"`
	HomePhone   string `mapstructure:"HomePhone"`
}

// Phone returns the preferred contact number.
func (d Demographics) Phone() string {
	if d.MobilePhone != "" {
		return d.MobilePhone
	}
	return d.HomePhone
}

package appointmentsync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/ralflukner/workflow-bolt-sub011/internal/emr"
	"github.com/ralflukner/workflow-bolt-sub011/internal/envelope"
	"github.com/ralflukner/workflow-bolt-sub011/pkg/logging"
)

// Key names seen across proxy versions, most specific first.
var (
	patientIDPaths   = []string{"PatientID", "PatientId", "patientId", "patient_id", "Patient.ID", "Patient.PatientID"}
	providerRefPaths = []string{"ProviderID", "ProviderId", "providerId", "ResourceID", "Provider.ID"}
	providerIDPaths  = []string{"ID", "ProviderID", "ProviderId", "Id", "id"}
	statusPaths      = []string{"ConfirmationStatus", "Status", "AppointmentStatus"}

	fullNamePaths  = []string{"PatientFullName", "PatientName", "Patient.FullName", "patientName"}
	firstNamePaths = []string{"PatientFirstName", "Patient.FirstName", "FirstName"}
	lastNamePaths  = []string{"PatientLastName", "Patient.LastName", "LastName"}
	dobPaths       = []string{"PatientDateOfBirth", "PatientDOB", "Patient.DateOfBirth", "DateOfBirth", "DOB", "dob"}
	timePaths      = []string{"StartTime", "StartDate", "AppointmentTime", "appointmentTime", "startTime"}
	typePaths      = []string{"AppointmentType", "AppointmentReason1", "AppointmentReason", "Reason", "appointmentType", "Type"}
	phonePaths     = []string{"PatientPhone", "Patient.MobilePhone", "Patient.HomePhone", "MobilePhone", "HomePhone", "Phone", "phone"}
	emailPaths     = []string{"PatientEmail", "Patient.EmailAddress", "EmailAddress", "Email", "email"}
)

var errMissingPatientID = errors.New("appointment missing patient identifier")

// providerTable maps provider ids to display names.
type providerTable map[string]string

func buildProviderTable(raw []any) providerTable {
	table := make(providerTable, len(raw))
	for _, item := range raw {
		p, ok := envelope.Object(item)
		if !ok {
			continue
		}
		id := envelope.FirstText(p, providerIDPaths...)
		name := formatProvider(p)
		if id == "" || name == "" {
			continue
		}
		table[id] = name
	}
	return table
}

// formatProvider renders "Title First Last", skipping blank parts.
func formatProvider(p emr.RawProvider) string {
	first := envelope.FirstText(p, "FirstName", "firstName")
	last := envelope.FirstText(p, "LastName", "lastName")
	if first == "" && last == "" {
		return joinFields(envelope.FirstText(p, "FullName", "ProviderFullName", "Name"))
	}
	return joinFields(envelope.FirstText(p, "Title", "Prefix"), first, last)
}

func (t providerTable) resolve(appt map[string]any) string {
	for _, path := range providerRefPaths {
		ref := envelope.FirstText(appt, path)
		if ref == "" {
			continue
		}
		if name, ok := t[ref]; ok {
			return name
		}
	}
	return emr.UnknownProvider
}

func joinFields(parts ...string) string {
	return strings.Join(strings.Fields(strings.Join(parts, " ")), " ")
}

// patientID returns the first non-empty patient id. A value that is present
// but not a scalar is a transform error, not a missing id.
func patientID(appt map[string]any) (string, error) {
	for _, path := range patientIDPaths {
		v, ok := envelope.Lookup(appt, path)
		if !ok {
			continue
		}
		id, err := envelope.Text(v)
		if err != nil {
			return "", fmt.Errorf("patient identifier at %s: %w", path, err)
		}
		if id != "" {
			return id, nil
		}
	}
	return "", errMissingPatientID
}

type transformer struct {
	client    Client
	providers providerTable
	statuses  emr.StatusMapper
	enrich    bool
	logger    *logging.Logger
}

// transform builds one patient row. It returns errMissingPatientID for
// appointments without a patient reference.
func (t *transformer) transform(ctx context.Context, raw any) (emr.NormalizedPatient, error) {
	appt, ok := envelope.Object(raw)
	if !ok {
		return emr.NormalizedPatient{}, fmt.Errorf("appointment is %T, not an object", raw)
	}
	id, err := patientID(appt)
	if err != nil {
		return emr.NormalizedPatient{}, err
	}

	name := joinFields(envelope.FirstText(appt, fullNamePaths...))
	if name == "" {
		name = joinFields(envelope.FirstText(appt, firstNamePaths...), envelope.FirstText(appt, lastNamePaths...))
	}

	p := emr.NormalizedPatient{
		ID:              id,
		Name:            name,
		DOB:             envelope.FirstText(appt, dobPaths...),
		AppointmentTime: envelope.FirstText(appt, timePaths...),
		AppointmentType: envelope.FirstText(appt, typePaths...),
		Provider:        t.providers.resolve(appt),
		Status:          t.statuses.Map(envelope.FirstText(appt, statusPaths...)),
		Phone:           envelope.FirstText(appt, phonePaths...),
		Email:           envelope.FirstText(appt, emailPaths...),
	}

	if t.enrich && (p.Name == "" || p.DOB == "" || p.Phone == "" || p.Email == "") {
		t.fillDemographics(ctx, &p)
	}
	return p, nil
}

// fillDemographics fills blank fields from the patient record. Failures only
// warn; the appointment data stands on its own.
func (t *transformer) fillDemographics(ctx context.Context, p *emr.NormalizedPatient) {
	raw, err := t.client.GetPatientByID(ctx, p.ID)
	if err != nil {
		t.logger.Warn("patient enrichment failed", "patient_id", p.ID, "error", err)
		return
	}
	if raw == nil {
		return
	}
	var d emr.Demographics
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &d,
		WeaklyTypedInput: true,
	})
	if err != nil {
		t.logger.Warn("patient enrichment failed", "patient_id", p.ID, "error", err)
		return
	}
	if err := decoder.Decode(map[string]any(raw)); err != nil {
		t.logger.Warn("patient record could not be decoded", "patient_id", p.ID, "error", err)
		return
	}
	if p.Name == "" {
		p.Name = joinFields(d.FirstName, d.LastName)
	}
	if p.DOB == "" {
		p.DOB = strings.TrimSpace(d.DateOfBirth)
	}
	if p.Phone == "" {
		p.Phone = strings.TrimSpace(d.Phone())
	}
	if p.Email == "" {
		p.Email = strings.TrimSpace(d.Email)
	}
}

// Layouts Tebra and the proxy have used for appointment start times.
var appointmentTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"1/2/2006 3:04:05 PM",
	"1/2/2006 3:04 PM",
	"01/02/2006 15:04:05",
}

// appointmentDay returns the date key of an appointment time. Zoned times are
// converted to loc; naive times keep their calendar day.
func appointmentDay(value string, loc *time.Location) (string, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", false
	}
	for _, layout := range appointmentTimeLayouts {
		t, err := time.ParseInLocation(layout, value, loc)
		if err != nil {
			continue
		}
		return t.In(loc).Format(DateLayout), true
	}
	return "", false
}

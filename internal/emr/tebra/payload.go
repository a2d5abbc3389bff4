package tebra

import (
	"strings"

	"github.com/ralflukner/workflow-bolt-sub011/internal/envelope"
)

// Lookup paths for each action, tried under zero to three body/data/result
// layers. Inner list keys come before the bare container so a container
// object is never mistaken for a single record.
var (
	appointmentPaths = envelope.Candidates(nil,
		"Appointments.Appointment",
		"Appointments.AppointmentData",
		"GetAppointmentsResult.Appointments.Appointment",
		"GetAppointmentsResult.Appointments.AppointmentData",
		"Appointments",
		"appointments",
	)
	providerPaths = envelope.Candidates(nil,
		"Providers.Provider",
		"Providers.ProviderData",
		"GetProvidersResult.Providers.Provider",
		"GetProvidersResult.Providers.ProviderData",
		"Providers",
		"providers",
	)
	appointmentItemKeys = []string{"Appointment", "AppointmentData"}
	providerItemKeys    = []string{"Provider", "ProviderData"}

	patientPaths = envelope.Candidates(nil,
		"Patient",
		"GetPatientResult.Patient",
		"Patients.Patient",
		"Patients.PatientData",
		"patient",
	)

	// every layer a bare array may sit at
	barePaths = envelope.Candidates(nil, "")

	successPaths = envelope.Candidates(nil, "success")
	errorPaths   = envelope.Candidates(nil, "error", "message", "ErrorResponse.ErrorMessage")
	soapErrPaths = envelope.Candidates(nil,
		"ErrorResponse.IsError",
		"GetAppointmentsResult.ErrorResponse.IsError",
		"GetProvidersResult.ErrorResponse.IsError",
		"GetPatientResult.ErrorResponse.IsError",
	)
	soapMsgPaths = envelope.Candidates(nil,
		"ErrorResponse.ErrorMessage",
		"GetAppointmentsResult.ErrorResponse.ErrorMessage",
		"GetProvidersResult.ErrorResponse.ErrorMessage",
		"GetPatientResult.ErrorResponse.ErrorMessage",
	)
)

// listAt returns the first list found at paths. It falls back to a bare
// array at any wrapper layer and never returns nil. A container that carries
// one of itemKeys is read through that key only, so a null or empty item
// field yields no records instead of the container itself.
func listAt(doc any, paths []string, itemKeys ...string) []any {
	if doc == nil {
		return []any{}
	}
	if v, ok := envelope.Lookup(doc, paths...); ok {
		if m, isObj := envelope.Object(v); isObj {
			for _, key := range itemKeys {
				if inner, has := envelope.Field(m, key); has {
					if items := envelope.List(inner); items != nil {
						return items
					}
					return []any{}
				}
			}
		}
		if items := envelope.List(v); items != nil {
			return items
		}
	}
	for _, path := range barePaths {
		v, ok := envelope.Lookup(doc, path)
		if !ok {
			continue
		}
		if arr, isArr := v.([]any); isArr {
			return arr
		}
	}
	return []any{}
}

// upstreamFailure reports an explicit failure flag in the proxy envelope or
// in Tebra's SOAP ErrorResponse.
func upstreamFailure(doc any) (string, bool) {
	if v, ok := envelope.Lookup(doc, successPaths...); ok {
		if s, err := envelope.Text(v); err == nil && strings.EqualFold(s, "false") {
			msg := envelope.FirstText(doc, errorPaths...)
			if msg == "" {
				msg = "request was not successful"
			}
			return msg, true
		}
	}
	if v, ok := envelope.Lookup(doc, soapErrPaths...); ok {
		if s, err := envelope.Text(v); err == nil && strings.EqualFold(s, "true") {
			msg := envelope.FirstText(doc, soapMsgPaths...)
			if msg == "" {
				msg = "Tebra returned an error response"
			}
			return msg, true
		}
	}
	return "", false
}

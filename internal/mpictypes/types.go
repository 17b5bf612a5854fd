// Package mpictypes defines the request and response shapes exchanged between
// a certificate authority's issuance pipeline and the MPIC coordinator, and
// between the coordinator and individual remote perspectives.
package mpictypes

// CheckType discriminates the sum types below. It is the wire-level "check_type"
// field on both CheckRequest and MpicRequest.
type CheckType string

const (
	CheckTypeCAA        CheckType = "caa"
	CheckTypeDCV        CheckType = "dcv"
	CheckTypeDCVWithCAA CheckType = "dcv_with_caa"
)

// CertificateType controls whether wildcard CAA tags participate in the
// issuance decision.
type CertificateType string

const (
	CertTypeTLSServer         CertificateType = "tls-server"
	CertTypeTLSServerWildcard CertificateType = "tls-server-wildcard"
)

// CaaCheckParameters carries the CAA-specific knobs of a single-perspective check.
type CaaCheckParameters struct {
	CertificateType CertificateType `json:"certificate_type,omitempty"`
	CaaDomains      []string        `json:"caa_domains,omitempty"`
}

// DcvValidationMethod names a domain-control-validation method. The coordinator
// does not interpret the method itself; it only threads it through to the
// remote DCV checker, whose algorithm is out of scope for this repository.
type DcvValidationMethod string

const (
	DcvMethodDNSChange       DcvValidationMethod = "dns-change"
	DcvMethodWebsiteChangeV2 DcvValidationMethod = "website-change-v2"
	DcvMethodDNSGeneric      DcvValidationMethod = "dns-generic"
)

// DcvValidationDetails is a tagged union over supported validation methods.
// Only the fields relevant to ValidationMethod are populated; the rest are
// left zero. The coordinator treats this as an opaque payload it forwards.
type DcvValidationDetails struct {
	ValidationMethod DcvValidationMethod `json:"validation_method"`
	DNSNamePrefix    string              `json:"dns_name_prefix,omitempty"`
	DNSRecordType    string              `json:"dns_record_type,omitempty"`
	ChallengeValue   string              `json:"challenge_value,omitempty"`
	HTTPPath         string              `json:"http_path,omitempty"`
}

// DcvCheckParameters carries the DCV-specific knobs of a single-perspective check.
type DcvCheckParameters struct {
	ValidationDetails DcvValidationDetails `json:"validation_details"`
}

// CheckRequest is the payload sent to a single remote perspective. Exactly one
// of CaaParams / DcvParams is populated, selected by CheckType.
type CheckRequest struct {
	CheckType         CheckType           `json:"check_type"`
	DomainOrIPTarget  string              `json:"domain_or_ip_target"`
	CaaParams         *CaaCheckParameters `json:"caa_check_parameters,omitempty"`
	DcvParams         *DcvCheckParameters `json:"dcv_check_parameters,omitempty"`
}

// ErrorMessage is a structured error entry carried on a CheckResponse.
type ErrorMessage struct {
	ErrorType    string `json:"error_type"`
	ErrorMessage string `json:"error_message,omitempty"`
}

const (
	// ErrCoordinatorCommunicationError marks a response synthesized by the
	// dispatcher because the remote call itself failed (timeout, transport
	// error, non-2xx status) rather than because the perspective evaluated
	// the check and rejected issuance.
	ErrCoordinatorCommunicationError = "coordinator_communication_error"
)

// CaaCheckResponseDetails carries the CAA-specific verdict detail.
type CaaCheckResponseDetails struct {
	CaaRecordPresent bool   `json:"caa_record_present"`
	FoundAt          string `json:"found_at,omitempty"`
	ResponseText     string `json:"response,omitempty"`
}

// DcvCheckResponseDetails carries the DCV-specific verdict detail. The
// coordinator never inspects its fields; it is opaque pass-through.
type DcvCheckResponseDetails struct {
	ValidationMethod DcvValidationMethod    `json:"validation_method,omitempty"`
	ResponsePage     string                 `json:"response_page,omitempty"`
	ResponseURL      string                 `json:"response_url,omitempty"`
	Extra            map[string]interface{} `json:"extra,omitempty"`
}

// CheckResponse is what a single perspective (or a synthesized failure) returns.
type CheckResponse struct {
	PerspectiveCode string                   `json:"perspective_code"`
	CheckPassed     bool                     `json:"check_passed"`
	Errors          []ErrorMessage           `json:"errors,omitempty"`
	TimestampNS     int64                    `json:"timestamp_ns"`
	CaaDetails      *CaaCheckResponseDetails `json:"caa_check_details,omitempty"`
	DcvDetails      *DcvCheckResponseDetails `json:"dcv_check_details,omitempty"`
}

// RequestOrchestrationParameters is the client-supplied, all-optional
// orchestration override block.
type RequestOrchestrationParameters struct {
	PerspectiveCount *int     `json:"perspective_count,omitempty"`
	QuorumCount      *int     `json:"quorum_count,omitempty"`
	MaxAttempts      *int     `json:"max_attempts,omitempty"`
	Perspectives     []string `json:"perspectives,omitempty"`
}

// EffectiveOrchestrationParameters is always fully populated on a response.
type EffectiveOrchestrationParameters struct {
	PerspectiveCount int `json:"perspective_count"`
	QuorumCount      int `json:"quorum_count"`
	AttemptCount     int `json:"attempt_count"`
}

// MpicRequest is the inbound request to the coordinator. CheckType selects
// which of CaaParams / DcvParams are read; for CheckTypeDCVWithCAA both are
// read.
type MpicRequest struct {
	CheckType               CheckType                       `json:"check_type"`
	DomainOrIPTarget        string                          `json:"domain_or_ip_target"`
	OrchestrationParameters *RequestOrchestrationParameters `json:"orchestration_parameters,omitempty"`
	CaaParams                *CaaCheckParameters             `json:"caa_check_parameters,omitempty"`
	DcvParams                *DcvCheckParameters             `json:"dcv_check_parameters,omitempty"`
}

// MpicResponse is the outbound coordinator result. The fields populated
// depend on the request's CheckType: caa and dcv fill Perspectives, while
// dcv_with_caa fills IsValidCAA, IsValidDCV, PerspectivesCAA and
// PerspectivesDCV.
type MpicResponse struct {
	CheckType                CheckType                         `json:"check_type"`
	DomainOrIPTarget          string                            `json:"domain_or_ip_target"`
	IsValid                   bool                              `json:"is_valid"`
	IsValidCAA                *bool                             `json:"is_valid_caa,omitempty"`
	IsValidDCV                *bool                             `json:"is_valid_dcv,omitempty"`
	PerspectivesCAA           []CheckResponse                   `json:"perspectives_caa,omitempty"`
	PerspectivesDCV           []CheckResponse                   `json:"perspectives_dcv,omitempty"`
	Perspectives              []CheckResponse                   `json:"perspectives,omitempty"`
	ActualOrchestrationParams EffectiveOrchestrationParameters  `json:"actual_orchestration_parameters"`
}

// ValidationError describes one reason a request was rejected before any
// cohort was built or any remote call was made.
type ValidationError struct {
	IssueKey string
	Detail   string
}

func (e ValidationError) Error() string {
	if e.Detail == "" {
		return e.IssueKey
	}
	return e.IssueKey + ": " + e.Detail
}

// ValidationErrors is a batch of ValidationError, returned together so a
// client sees every problem with its request in one round trip.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "request_validation_failed"
	}
	msg := e[0].Error()
	for _, extra := range e[1:] {
		msg += "; " + extra.Error()
	}
	return msg
}

// IssueKeys extracts the issue key of every validation error, in order, for
// serialization into the validation_issues response field.
func (e ValidationErrors) IssueKeys() []string {
	keys := make([]string, len(e))
	for i, v := range e {
		keys[i] = v.IssueKey
	}
	return keys
}

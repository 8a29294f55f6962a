package model

import (
	"strings"

	"github.com/rotisserie/eris"
)

// Category is the document type assigned by the classifier.
type Category string

const (
	CategoryMedicalLicense      Category = "medical_license"
	CategoryMedicalDegree       Category = "medical_degree"
	CategoryTrainingCertificate Category = "training_certificate"
	CategoryBoardCertificate    Category = "board_certificate"
	CategoryNotValid            Category = "not_a_valid_credential"
)

// Categories lists every label the classifier may return, in prompt order.
var Categories = []Category{
	CategoryMedicalLicense,
	CategoryMedicalDegree,
	CategoryTrainingCertificate,
	CategoryBoardCertificate,
	CategoryNotValid,
}

// ParseCategory matches s against the five category literals. Only
// surrounding whitespace is tolerated.
func ParseCategory(s string) (Category, error) {
	label := strings.TrimSpace(s)
	for _, c := range Categories {
		if string(c) == label {
			return c, nil
		}
	}
	return "", eris.Errorf("model: unknown category %q", label)
}

// Valid reports whether c is the label of an accepted credential type.
func (c Category) Valid() bool {
	switch c {
	case CategoryMedicalLicense, CategoryMedicalDegree, CategoryTrainingCertificate, CategoryBoardCertificate:
		return true
	default:
		return false
	}
}

// FilePaths locates the two documents under evaluation.
type FilePaths struct {
	CredentialPath string `json:"credential_path"`
	ResumePath     string `json:"resume_path"`
}

// Classification is the classifier's output.
type Classification struct {
	DocumentType     Category `json:"document_type"`
	SourceText       string   `json:"source_text"`
	RetrievedContext string   `json:"retrieved_context"`
}

// Extraction holds the credential fields pulled from the document. A nil
// field means the model reported it as absent.
type Extraction struct {
	Name           *string `json:"name"`
	LicenseNumber  *string `json:"license_number"`
	IssueDate      *string `json:"issue_date"`
	ExpiryDate     *string `json:"expiry_date"`
	Institution    *string `json:"institution"`
	CertifyingBody *string `json:"certifying_body"`
}

// ExtractionKeys are the JSON keys an extraction response must carry.
var ExtractionKeys = []string{
	"name",
	"license_number",
	"issue_date",
	"expiry_date",
	"institution",
	"certifying_body",
}

// VerificationStatus is the verifier's verdict.
type VerificationStatus string

const (
	VerificationValid   VerificationStatus = "valid"
	VerificationInvalid VerificationStatus = "invalid"
)

// Verification is the verifier's output.
type Verification struct {
	Status           VerificationStatus `json:"status"`
	RetrievedContext string             `json:"retrieved_context"`
}

// Consistency report keys.
const (
	CheckName           = "name_match"
	CheckLicenseNumber  = "license_number_match"
	CheckInstitution    = "institution_match"
	CheckCertifyingBody = "certifying_body_match"
	CheckIssueDate      = "issue_date_match"
	CheckExpiryDate     = "expiry_date_match"
)

// ConsistencyChecks lists the six keys of a complete consistency report.
var ConsistencyChecks = []string{
	CheckName,
	CheckLicenseNumber,
	CheckInstitution,
	CheckCertifyingBody,
	CheckIssueDate,
	CheckExpiryDate,
}

// Crosscheck compares the credential against the resume. An empty
// ConsistencyReport marks a check that could not be performed.
type Crosscheck struct {
	ConsistencyReport map[string]bool `json:"consistency_report"`
	Discrepancies     []string        `json:"discrepancies"`
}

// Flag is the risk indicator attached to a credibility score.
type Flag string

const (
	FlagRed    Flag = "red"
	FlagYellow Flag = "yellow"
	FlagGreen  Flag = "green"
)

// ParseFlag accepts only the three flag literals.
func ParseFlag(s string) (Flag, error) {
	switch f := Flag(s); f {
	case FlagRed, FlagYellow, FlagGreen:
		return f, nil
	default:
		return "", eris.Errorf("model: unknown flag %q", s)
	}
}

// Credibility is the scorer's output.
type Credibility struct {
	Score         int      `json:"credibility_score"`
	Summary       string   `json:"summary"`
	Flag          Flag     `json:"flag"`
	Discrepancies []string `json:"discrepancies"`
}

// Result is the caller-facing evaluation outcome. The credebility_result key
// is misspelled on the wire and must stay that way for existing clients.
type Result struct {
	ClassifierResult  Category    `json:"classifier_result"`
	CredibilityResult Credibility `json:"credebility_result"`
}

// ReferenceMatch is one hit returned by the reference index.
type ReferenceMatch struct {
	ID    string  `json:"id"`
	Text  string  `json:"text"`
	Score float64 `json:"score"`
}

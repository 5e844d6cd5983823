package export

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

const (
	ManifestVersion = "1.0"
	HashAlgorithm   = "SHA-256"
)

// Manifest describes a package. Field order is fixed by the struct layout and
// no maps are used, so equal inputs always encode to equal bytes. The
// generation time is deliberately absent.
type Manifest struct {
	Version      string                `json:"version"`
	Company      ManifestCompany       `json:"company"`
	Period       ManifestPeriod        `json:"period"`
	Reference    *ManifestReference    `json:"itss_reference"`
	Components   ManifestComponents    `json:"components"`
	Deliverables []ManifestDeliverable `json:"deliverables"`
	DailyRoots   []ManifestRoot        `json:"daily_roots"`
	Evidence     []ManifestEvidence    `json:"qtsp_evidences"`
	PreChecks    []PreCheck            `json:"pre_checks"`
	Integrity    ManifestIntegrity     `json:"integrity"`
}

type ManifestCompany struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	TaxID string `json:"cif"`
}

type ManifestPeriod struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type ManifestReference struct {
	ExpedientNumber string `json:"expedient_id"`
	RequestDate     string `json:"request_date"`
	ContactPerson   string `json:"contact_person"`
}

type ManifestComponents struct {
	DailyRecord     bool `json:"daily_record"`
	LaborCalendar   bool `json:"labor_calendar"`
	Policies        bool `json:"policies"`
	EmployeeSummary bool `json:"employee_summary"`
}

type ManifestDeliverable struct {
	Name   string `json:"name"`
	Type   string `json:"type"`
	SHA256 string `json:"sha256"`
	Rows   int    `json:"rows"`
}

type ManifestRoot struct {
	Date       string `json:"date"`
	RootHash   string `json:"root_hash"`
	EventCount int    `json:"event_count"`
}

type ManifestEvidence struct {
	Type         string `json:"type"`
	Subject      string `json:"subject"`
	Hash         string `json:"hash"`
	TSPToken     string `json:"tsp_token"`
	TSPTimestamp string `json:"tsp_timestamp"`
}

type ManifestIntegrity struct {
	Algorithm string `json:"algorithm"`
	// DeliverablesHash is the digest of the deliverable digests concatenated
	// in manifest order.
	DeliverablesHash string `json:"deliverables_hash"`
}

// PreCheck is a finding about the period that an inspector should know of.
// Items lists at most maxPreCheckItems examples; Count is the full total.
type PreCheck struct {
	Kind     string   `json:"kind"`
	Severity string   `json:"severity"`
	Message  string   `json:"message"`
	Count    int      `json:"count"`
	Items    []string `json:"items"`
}

// EncodeManifest returns the canonical bytes of m.
func EncodeManifest(m *Manifest) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(m); err != nil {
		return nil, fmt.Errorf("export.EncodeManifest: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeManifest parses manifest bytes written by EncodeManifest.
func DecodeManifest(raw []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("export.DecodeManifest: %w", err)
	}
	return &m, nil
}

// DeliverablesHash digests the deliverable hashes in order.
func DeliverablesHash(ds []ManifestDeliverable) string {
	h := sha256.New()
	for _, d := range ds {
		h.Write([]byte(d.SHA256))
	}
	return hex.EncodeToString(h.Sum(nil))
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

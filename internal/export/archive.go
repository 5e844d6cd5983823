package export

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/zip"

	"github.com/gosuda/timeproof/internal/domain"
)

const (
	ManifestFile = "manifest.json"
	PackageFile  = "package.json"

	maxArchiveEntry = 256 << 20
)

// PackageInfo is written next to the manifest in an archive. It carries what
// is deliberately left out of the hashed manifest.
type PackageInfo struct {
	PackageID      string    `json:"package_id"`
	CompanyID      string    `json:"company_id"`
	PeriodStart    string    `json:"period_start"`
	PeriodEnd      string    `json:"period_end"`
	ManifestSHA256 string    `json:"manifest_sha256"`
	GeneratedAt    time.Time `json:"generated_at"`
}

type archiveEntry struct {
	name string
	data []byte
}

// WriteArchive writes pkg as a zip: manifest.json, package.json and every
// deliverable under its own name.
func WriteArchive(w io.Writer, pkg *domain.Package) error {
	zw := zip.NewWriter(w)

	info, err := encodeJSON(PackageInfo{
		PackageID:      pkg.ID.String(),
		CompanyID:      pkg.CompanyID.String(),
		PeriodStart:    pkg.PeriodStart,
		PeriodEnd:      pkg.PeriodEnd,
		ManifestSHA256: pkg.ManifestHash,
		GeneratedAt:    pkg.GeneratedAt.UTC(),
	})
	if err != nil {
		return fmt.Errorf("export.WriteArchive: %w", err)
	}

	entries := []archiveEntry{
		{ManifestFile, pkg.Manifest},
		{PackageFile, info},
	}
	for _, d := range pkg.Deliverables {
		entries = append(entries, archiveEntry{d.Name, d.Content})
	}

	for _, e := range entries {
		f, err := zw.CreateHeader(&zip.FileHeader{
			Name:     e.name,
			Method:   zip.Deflate,
			Modified: pkg.GeneratedAt.UTC(),
		})
		if err != nil {
			return fmt.Errorf("export.WriteArchive: %s: %w", e.name, err)
		}
		if _, err := f.Write(e.data); err != nil {
			return fmt.Errorf("export.WriteArchive: %s: %w", e.name, err)
		}
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("export.WriteArchive: %w", err)
	}
	return nil
}

// ArchiveName is the download file name of pkg's archive.
func ArchiveName(pkg *domain.Package) string {
	return fmt.Sprintf("itss_%s_%s_%s.zip", pkg.PeriodStart, pkg.PeriodEnd, pkg.ID.String()[:8])
}

// ArchiveReport summarizes a verified archive.
type ArchiveReport struct {
	PackageID    string
	ManifestHash string
	Period       ManifestPeriod
	Deliverables int
}

// VerifyArchive checks an archive offline: every deliverable listed in the
// manifest must be present with the recorded digest, the deliverables hash
// must match, and the manifest must hash to the value in package.json.
// Mismatches are returned as *domain.IntegrityError.
func VerifyArchive(r io.ReaderAt, size int64) (*ArchiveReport, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("export.VerifyArchive: %w", err)
	}

	files := make(map[string][]byte, len(zr.File))
	for _, f := range zr.File {
		data, err := readEntry(f)
		if err != nil {
			return nil, fmt.Errorf("export.VerifyArchive: %s: %w", f.Name, err)
		}
		files[f.Name] = data
	}

	raw, ok := files[ManifestFile]
	if !ok {
		return nil, &domain.IntegrityError{Item: ManifestFile, Expected: "present", Actual: "missing"}
	}
	m, err := DecodeManifest(raw)
	if err != nil {
		return nil, &domain.IntegrityError{Item: ManifestFile, Expected: "valid json", Actual: err.Error()}
	}

	manifestHash := sha256Hex(raw)
	report := &ArchiveReport{ManifestHash: manifestHash, Period: m.Period, Deliverables: len(m.Deliverables)}

	if infoRaw, ok := files[PackageFile]; ok {
		var info PackageInfo
		if err := json.Unmarshal(infoRaw, &info); err != nil {
			return nil, &domain.IntegrityError{Item: PackageFile, Expected: "valid json", Actual: err.Error()}
		}
		if info.ManifestSHA256 != manifestHash {
			return nil, &domain.IntegrityError{Item: "manifest", Expected: info.ManifestSHA256, Actual: manifestHash}
		}
		report.PackageID = info.PackageID
	}

	listed := make(map[string]bool, len(m.Deliverables))
	for _, d := range m.Deliverables {
		listed[d.Name] = true
		content, ok := files[d.Name]
		if !ok {
			return nil, &domain.IntegrityError{Item: "deliverable:" + d.Name, Expected: d.SHA256, Actual: "missing"}
		}
		if got := sha256Hex(content); got != d.SHA256 {
			return nil, &domain.IntegrityError{Item: "deliverable:" + d.Name, Expected: d.SHA256, Actual: got}
		}
	}
	for _, f := range zr.File {
		if f.Name != ManifestFile && f.Name != PackageFile && !listed[f.Name] {
			return nil, &domain.IntegrityError{Item: "file:" + f.Name, Expected: "absent", Actual: "present"}
		}
	}

	if got := DeliverablesHash(m.Deliverables); got != m.Integrity.DeliverablesHash {
		return nil, &domain.IntegrityError{Item: "integrity", Expected: m.Integrity.DeliverablesHash, Actual: got}
	}

	return report, nil
}

func readEntry(f *zip.File) ([]byte, error) {
	if f.UncompressedSize64 > maxArchiveEntry {
		return nil, fmt.Errorf("entry exceeds %d bytes", maxArchiveEntry)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(io.LimitReader(rc, maxArchiveEntry+1))
}

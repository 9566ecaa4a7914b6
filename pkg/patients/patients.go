package patients

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/healai/heal/internal/types"
)

// Store keeps one append-only free-text record per patient id, as a .txt
// file on disk. The rest of the system treats the record as opaque text; it
// is never chunked or indexed.
type Store struct {
	dir string
}

func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create patient directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Save writes a fresh record for the patient, replacing any existing one.
func (s *Store) Save(patientID, text string) error {
	path, err := s.path(patientID)
	if err != nil {
		return err
	}
	return os.WriteFile(path, []byte(text), 0644)
}

// SaveFromPDF extracts the text of an uploaded PDF and stores it as the
// patient's record.
func (s *Store) SaveFromPDF(patientID string, pdfData []byte) error {
	reader, err := pdf.NewReader(bytes.NewReader(pdfData), int64(len(pdfData)))
	if err != nil {
		return fmt.Errorf("failed to read PDF: %w", err)
	}

	plain, err := reader.GetPlainText()
	if err != nil {
		return fmt.Errorf("failed to extract PDF text: %w", err)
	}

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(plain); err != nil {
		return fmt.Errorf("failed to extract PDF text: %w", err)
	}

	return s.Save(patientID, buf.String())
}

// Get returns the patient's full record, or ErrPatientNotFound.
func (s *Store) Get(patientID string) (string, error) {
	path, err := s.path(patientID)
	if err != nil {
		return "", err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", types.ErrPatientNotFound, patientID)
		}
		return "", fmt.Errorf("failed to read patient record: %w", err)
	}
	return string(data), nil
}

// Append adds a note to an existing record. Appending to an unknown patient
// is ErrPatientNotFound; records are never created implicitly.
func (s *Store) Append(patientID, text string) error {
	path, err := s.path(patientID)
	if err != nil {
		return err
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", types.ErrPatientNotFound, patientID)
		}
		return fmt.Errorf("failed to stat patient record: %w", err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open patient record: %w", err)
	}
	defer f.Close()

	if _, err := fmt.Fprintf(f, "\n\n--- Appended Note ---\n%s", text); err != nil {
		return fmt.Errorf("failed to append note: %w", err)
	}
	return nil
}

func (s *Store) path(patientID string) (string, error) {
	if patientID == "" || strings.ContainsAny(patientID, `/\`) || strings.Contains(patientID, "..") {
		return "", fmt.Errorf("invalid patient id: %q", patientID)
	}
	return filepath.Join(s.dir, patientID+".txt"), nil
}

package emailotp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// FileRepository implements Repository using JSON file storage. It doubles
// as the in-memory repository for tests.
type FileRepository struct {
	dataDir string
	otps    map[uuid.UUID]EmailOTP
	mutex   sync.RWMutex
}

// NewFileRepository creates a file-based OTP repository.
func NewFileRepository(dataDir string) (*FileRepository, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	repo := &FileRepository{
		dataDir: dataDir,
		otps:    make(map[uuid.UUID]EmailOTP),
	}

	if err := repo.load(); err != nil {
		return nil, fmt.Errorf("failed to load data: %w", err)
	}

	return repo, nil
}

func (r *FileRepository) Create(ctx context.Context, params CreateParams) (EmailOTP, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	otp := EmailOTP{
		ID:        uuid.New(),
		UserID:    params.UserID,
		Code:      params.Code,
		CreatedAt: time.Now().UTC(),
		ExpiresAt: params.ExpiresAt,
	}

	r.otps[otp.ID] = otp

	if err := r.save(); err != nil {
		delete(r.otps, otp.ID)
		return EmailOTP{}, fmt.Errorf("failed to save: %w", err)
	}

	return otp, nil
}

func (r *FileRepository) GetLatestValid(ctx context.Context, userID uuid.UUID, now time.Time) (EmailOTP, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	var latest EmailOTP
	found := false
	for _, otp := range r.otps {
		if otp.UserID != userID || !otp.IsValid(now) {
			continue
		}
		if !found || otp.CreatedAt.After(latest.CreatedAt) {
			latest = otp
			found = true
		}
	}

	if !found {
		return EmailOTP{}, ErrNotFound
	}
	return latest, nil
}

func (r *FileRepository) MarkUsed(ctx context.Context, id uuid.UUID) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	otp, exists := r.otps[id]
	if !exists || otp.IsUsed {
		return ErrNotFound
	}

	otp.IsUsed = true
	r.otps[id] = otp

	if err := r.save(); err != nil {
		return fmt.Errorf("failed to save: %w", err)
	}
	return nil
}

func (r *FileRepository) load() error {
	filePath := filepath.Join(r.dataDir, "email_otps.json")

	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		return nil
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}
	if len(data) == 0 {
		return nil
	}

	var otps []EmailOTP
	if err := json.Unmarshal(data, &otps); err != nil {
		return fmt.Errorf("failed to unmarshal data: %w", err)
	}

	r.otps = make(map[uuid.UUID]EmailOTP)
	for _, otp := range otps {
		r.otps[otp.ID] = otp
	}
	return nil
}

func (r *FileRepository) save() error {
	otps := make([]EmailOTP, 0, len(r.otps))
	for _, otp := range r.otps {
		otps = append(otps, otp)
	}

	data, err := json.MarshalIndent(otps, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}

	tempFile := filepath.Join(r.dataDir, "email_otps.json.tmp")
	if err := os.WriteFile(tempFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	finalFile := filepath.Join(r.dataDir, "email_otps.json")
	if err := os.Rename(tempFile, finalFile); err != nil {
		return fmt.Errorf("failed to rename file: %w", err)
	}
	return nil
}

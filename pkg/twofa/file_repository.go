package twofa

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
// as the in-memory repository for tests; the package mutex provides the
// per-record write serialization that postgres gets from row locks.
type FileRepository struct {
	dataDir  string
	accounts map[uuid.UUID]Account // keyed by UserID
	mutex    sync.RWMutex
}

// NewFileRepository creates a file-based account repository.
func NewFileRepository(dataDir string) (*FileRepository, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	repo := &FileRepository{
		dataDir:  dataDir,
		accounts: make(map[uuid.UUID]Account),
	}

	if err := repo.load(); err != nil {
		return nil, fmt.Errorf("failed to load data: %w", err)
	}

	return repo, nil
}

func (r *FileRepository) GetByUserID(ctx context.Context, userID uuid.UUID) (Account, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	account, exists := r.accounts[userID]
	if !exists {
		return Account{}, ErrNotFound
	}
	return account, nil
}

func (r *FileRepository) GetOrCreate(ctx context.Context, userID uuid.UUID) (Account, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if account, exists := r.accounts[userID]; exists {
		return account, nil
	}

	now := time.Now().UTC()
	account := Account{
		ID:        uuid.New(),
		UserID:    userID,
		Method:    "totp",
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.accounts[userID] = account

	if err := r.save(); err != nil {
		delete(r.accounts, userID)
		return Account{}, fmt.Errorf("failed to save: %w", err)
	}

	return account, nil
}

func (r *FileRepository) Mutate(ctx context.Context, userID uuid.UUID, fn func(*Account) error) (Account, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	account, exists := r.accounts[userID]
	if !exists {
		return Account{}, ErrNotFound
	}

	if err := fn(&account); err != nil {
		return Account{}, err
	}

	account.UpdatedAt = time.Now().UTC()
	previous := r.accounts[userID]
	r.accounts[userID] = account

	if err := r.save(); err != nil {
		r.accounts[userID] = previous
		return Account{}, fmt.Errorf("failed to save: %w", err)
	}

	return account, nil
}

func (r *FileRepository) Delete(ctx context.Context, userID uuid.UUID) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.accounts[userID]; !exists {
		return ErrNotFound
	}

	delete(r.accounts, userID)

	if err := r.save(); err != nil {
		return fmt.Errorf("failed to save: %w", err)
	}
	return nil
}

func (r *FileRepository) load() error {
	filePath := filepath.Join(r.dataDir, "twofa_accounts.json")

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

	var accounts []Account
	if err := json.Unmarshal(data, &accounts); err != nil {
		return fmt.Errorf("failed to unmarshal data: %w", err)
	}

	r.accounts = make(map[uuid.UUID]Account)
	for _, account := range accounts {
		r.accounts[account.UserID] = account
	}
	return nil
}

func (r *FileRepository) save() error {
	accounts := make([]Account, 0, len(r.accounts))
	for _, account := range r.accounts {
		accounts = append(accounts, account)
	}

	data, err := json.MarshalIndent(accounts, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}

	tempFile := filepath.Join(r.dataDir, "twofa_accounts.json.tmp")
	if err := os.WriteFile(tempFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	finalFile := filepath.Join(r.dataDir, "twofa_accounts.json")
	if err := os.Rename(tempFile, finalFile); err != nil {
		return fmt.Errorf("failed to rename file: %w", err)
	}
	return nil
}

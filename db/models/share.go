package models

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	myErrors "github.com/andygello555/try-playwright/errors"
	"github.com/andygello555/try-playwright/workertypes"
	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"math/rand"
	"time"
)

const (
	// ShareIDLength is the length of the generated Share.ID.
	ShareIDLength = 7
	// shareIDAlphabet is the set of characters a Share.ID is made of.
	shareIDAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	// shareIDTries is the number of IDs that will be generated before CreateShare gives up.
	shareIDTries = 4
)

// ErrShareNotFound is returned by GetShare when there is no Share with the given ID.
var ErrShareNotFound = errors.New("no share found")

// Share is a snippet of code that has been saved so that it can be linked to.
type Share struct {
	ID        string `gorm:"primaryKey;size:16"`
	CreatedAt time.Time
	Code      string
	Language  workertypes.Language `gorm:"index:idx_share_language_hash"`
	// CodeHash is the hex encoded SHA-256 of Code. Indexing the hash instead of Code keeps large snippets below the
	// index row size limit. The index is not unique as imported Shares keep their IDs even when their code has already
	// been shared.
	CodeHash string `gorm:"index:idx_share_language_hash;size:64"`
}

// BeforeCreate sets the CodeHash from the Code.
func (s *Share) BeforeCreate(tx *gorm.DB) (err error) {
	s.CodeHash = HashCode(s.Code)
	return
}

// HashCode returns the hex encoded SHA-256 hash of the given code.
func HashCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}

// GenerateShareID returns a random ID of ShareIDLength characters from shareIDAlphabet.
func GenerateShareID() string {
	b := make([]byte, ShareIDLength)
	for i := range b {
		b[i] = shareIDAlphabet[rand.Intn(len(shareIDAlphabet))]
	}
	return string(b)
}

// GormStore stores Share and Execution models in a gorm.DB.
type GormStore struct {
	DB *gorm.DB
	// GenerateID generates the IDs for new Shares. GenerateShareID is used if this is nil.
	GenerateID func() string
}

// findShare returns the ID of the oldest Share of the code in the language. An empty ID is returned if there is none.
func (gs *GormStore) findShare(tx *gorm.DB, code string, language workertypes.Language) (string, error) {
	var existing Share
	err := tx.Where("language = ? AND code_hash = ?", language, HashCode(code)).Order("created_at").Take(&existing).Error
	switch {
	case err == nil:
		return existing.ID, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return "", nil
	default:
		return "", errors.Wrap(err, "could not look for an existing share")
	}
}

// CreateShare saves the given code and returns the ID of the Share. If the same code has already been shared in the
// same language the existing ID is returned. New IDs are generated until one doesn't collide with an existing Share,
// up to shareIDTries times. Existing Shares are looked for again before each try, so a concurrent share of the same
// code is found instead of being treated as a collision.
func (gs *GormStore) CreateShare(ctx context.Context, code string, language workertypes.Language) (id string, err error) {
	tx := gs.DB.WithContext(ctx)
	generate := gs.GenerateID
	if generate == nil {
		generate = GenerateShareID
	}

	var lookupErr error
	err = myErrors.Retry(shareIDTries, 0, func(currentTry int) error {
		if id, lookupErr = gs.findShare(tx, code, language); lookupErr != nil {
			return myErrors.Break
		} else if id != "" {
			return nil
		}

		share := Share{ID: generate(), Code: code, Language: language}
		result := tx.Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).Create(&share)
		if result.Error != nil {
			return errors.Wrap(result.Error, "could not insert share")
		}
		if result.RowsAffected == 0 {
			return errors.Errorf("share ID %q is already taken", share.ID)
		}
		id = share.ID
		return nil
	})
	if lookupErr != nil {
		return "", lookupErr
	}
	if err != nil {
		return "", errors.Wrap(err, "could not generate a key")
	}
	return id, nil
}

// GetShare returns the Share with the given ID. ErrShareNotFound is returned if there is no such Share.
func (gs *GormStore) GetShare(ctx context.Context, id string) (*Share, error) {
	var share Share
	if err := gs.DB.WithContext(ctx).Where("id = ?", id).Take(&share).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.Wrapf(ErrShareNotFound, "share %q", id)
		}
		return nil, errors.Wrapf(err, "could not fetch share %q", id)
	}
	return &share, nil
}

// ImportShare inserts a Share with a known ID, skipping it if the ID already exists. Shares whose code has already been
// shared under another ID are still inserted. The returned bool is true if the Share was inserted.
func (gs *GormStore) ImportShare(ctx context.Context, share *Share) (bool, error) {
	result := gs.DB.WithContext(ctx).Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).Create(share)
	if result.Error != nil {
		return false, errors.Wrapf(result.Error, "could not import share %q", share.ID)
	}
	return result.RowsAffected > 0, nil
}

// RecordExecution inserts the given Execution.
func (gs *GormStore) RecordExecution(ctx context.Context, execution *Execution) error {
	return execution.Create(gs.DB.WithContext(ctx))
}

// Ping checks whether the underlying database is reachable.
func (gs *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := gs.DB.DB()
	if err != nil {
		return errors.Wrap(err, "could not get underlying sql.DB")
	}
	return sqlDB.PingContext(ctx)
}

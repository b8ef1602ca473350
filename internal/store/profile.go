package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"clausewise.app/analyzer/internal/model"
)

type profileStore struct {
	db DBTX
}

func newProfileStore(db DBTX) ProfileStore {
	return &profileStore{db: db}
}

func (s *profileStore) GetByUserID(ctx context.Context, userID string) (*model.UserProfile, error) {
	var (
		p            model.UserProfile
		specialities []byte
	)
	err := s.db.QueryRowContext(ctx, `
SELECT user_id, name, profession, specialities
FROM user_profiles
WHERE user_id = $1
`, userID).Scan(&p.UserID, &p.Name, &p.Profession, &specialities)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan user profile: %w", err)
	}
	if len(specialities) > 0 {
		if err := json.Unmarshal(specialities, &p.Specialities); err != nil {
			return nil, fmt.Errorf("unmarshal specialities: %w", err)
		}
	}
	return &p, nil
}

package session

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"aina/internal/domain"
)

var errEmptySender = fmt.Errorf("sender id is required: %w", domain.ErrValidation)

func validateUpsert(senderID, name, specialty, orientation string) error {
	if senderID == "" {
		return errEmptySender
	}
	var missing []string
	if strings.TrimSpace(name) == "" {
		missing = append(missing, "name")
	}
	if strings.TrimSpace(specialty) == "" {
		missing = append(missing, "specialty")
	}
	if strings.TrimSpace(orientation) == "" {
		missing = append(missing, "orientation")
	}
	if len(missing) > 0 {
		return fmt.Errorf("profile for %s missing %s: %w", senderID, strings.Join(missing, ", "), domain.ErrValidation)
	}
	return nil
}

// applyUpsert overwrites all three fields and marks the profile onboarded.
// CreatedAt survives from prev when there is one.
func applyUpsert(prev *domain.SenderProfile, senderID, name, specialty, orientation string, now time.Time) domain.SenderProfile {
	created := now
	if prev != nil && !prev.CreatedAt.IsZero() {
		created = prev.CreatedAt
	}
	return domain.SenderProfile{
		SenderID:    senderID,
		DisplayName: strings.TrimSpace(name),
		Specialty:   strings.TrimSpace(specialty),
		Orientation: strings.TrimSpace(orientation),
		Onboarded:   true,
		CreatedAt:   created,
		UpdatedAt:   now,
	}
}

func newContact(senderID string, now time.Time) domain.SenderProfile {
	return domain.SenderProfile{SenderID: senderID, CreatedAt: now, UpdatedAt: now}
}

func persistErr(op, senderID string, err error) error {
	if errors.Is(err, domain.ErrValidation) {
		return err
	}
	return fmt.Errorf("%s %s: %w: %w", op, senderID, domain.ErrPersistence, err)
}

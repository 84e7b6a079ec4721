package models

import "time"

// Account represents the owner of one or more cards. Contact fields are set
// at provisioning; LinkID ties the account to a student in the upstream
// academic-registration system and is nil for accounts without one.
type Account struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone"`
	Email     string    `json:"email"`
	LinkID    *string   `json:"link_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ValidateLinkID checks a registration link id: absent is fine, otherwise it
// must be exactly three digits.
func ValidateLinkID(linkID string) error {
	if linkID == "" {
		return nil
	}
	if len(linkID) != 3 {
		return ErrInvalidLinkID
	}
	for i := 0; i < len(linkID); i++ {
		if linkID[i] < '0' || linkID[i] > '9' {
			return ErrInvalidLinkID
		}
	}
	return nil
}

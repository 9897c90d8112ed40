package models

import "fmt"

type PaymentStatus string

const (
	StatusPending  PaymentStatus = "pending"
	StatusVerified PaymentStatus = "verified"
	StatusRejected PaymentStatus = "rejected"
)

type PaymentKind string

const (
	KindSolo        PaymentKind = "solo"
	KindTeamCreated PaymentKind = "team_created"
	KindTeamMember  PaymentKind = "team_member"
)

// NoticeRef points at a bot-authored status message so it can be edited
// in place instead of re-posted.
type NoticeRef struct {
	ChatID    int64 `json:"chat_id"`
	MessageID int   `json:"message_id"`
}

type SoloRegistration struct {
	UserID       int64      `json:"user_id"`
	RealName     string     `json:"real_name"`
	IGN          string     `json:"ign"`
	CurrentRank  string     `json:"current_rank"`
	PeakRank     string     `json:"peak_rank"`
	Paid         bool       `json:"paid"`
	PaymentProof string     `json:"payment_proof"`
	PaymentTxn   string     `json:"payment_txn,omitempty"`
	Notice       *NoticeRef `json:"payment_msg,omitempty"`
	CreatedAt    string     `json:"created_at,omitempty"`
}

// TeamMember is one slot on a team roster. The captain is appended at
// creation with an empty IGN and no proof; everyone else fills both via
// the join dialogue.
type TeamMember struct {
	UserID       int64      `json:"user_id"`
	IGN          string     `json:"ign,omitempty"`
	Paid         bool       `json:"paid"`
	PaymentProof string     `json:"payment_proof,omitempty"`
	PaymentTxn   string     `json:"payment_txn,omitempty"`
	Notice       *NoticeRef `json:"payment_msg,omitempty"`
}

const TeamSize = 5

type Team struct {
	JoinCode  string        `json:"join_code"`
	TeamName  string        `json:"team_name"`
	CaptainID int64         `json:"captain_id"`
	Members   []*TeamMember `json:"members"`
	Confirmed bool          `json:"confirmed"`
	Notice    *NoticeRef    `json:"admin_msg,omitempty"`
	CreatedAt string        `json:"created_at,omitempty"`
}

// Member returns the roster entry for userID, or nil.
func (t *Team) Member(userID int64) *TeamMember {
	for _, m := range t.Members {
		if m.UserID == userID {
			return m
		}
	}
	return nil
}

func (t *Team) Full() bool { return len(t.Members) >= TeamSize }

// AllPaid reports whether every roster slot has a verified payment.
func (t *Team) AllPaid() bool {
	for _, m := range t.Members {
		if !m.Paid {
			return false
		}
	}
	return true
}

// PaymentRecord is the secondary index over the payment facts stored on
// the owning entity. Both are mutated inside the same store update so
// they can never disagree.
type PaymentRecord struct {
	Kind     PaymentKind   `json:"type"`
	UserID   int64         `json:"user_id,omitempty"`
	TeamCode string        `json:"team_code,omitempty"`
	Notice   NoticeRef     `json:"notice"`
	Status   PaymentStatus `json:"status"`
}

// Snapshot is the whole durable document: three top-level collections,
// persisted as one indented JSON file.
type Snapshot struct {
	Solos    map[string]*SoloRegistration `json:"solos"`
	Teams    map[string]*Team             `json:"teams"`
	Payments map[string]*PaymentRecord    `json:"payments"`
}

func NewSnapshot() *Snapshot {
	return &Snapshot{
		Solos:    map[string]*SoloRegistration{},
		Teams:    map[string]*Team{},
		Payments: map[string]*PaymentRecord{},
	}
}

// FindTeamMember scans all teams for userID and returns the first match.
func (s *Snapshot) FindTeamMember(userID int64) (code string, team *Team, member *TeamMember) {
	for c, t := range s.Teams {
		if m := t.Member(userID); m != nil {
			return c, t, m
		}
	}
	return "", nil, nil
}

// UserKey is the solos map key for an identity.
func UserKey(userID int64) string {
	return fmt.Sprintf("%d", userID)
}

// Synthetic payment-index keys.

func SoloPaymentKey(userID int64) string {
	return fmt.Sprintf("solo-%d", userID)
}

func TeamCreatedKey(code string) string {
	return fmt.Sprintf("team-%s-created", code)
}

func TeamMemberKey(code string, userID int64) string {
	return fmt.Sprintf("team-%s-member-%d", code, userID)
}

package verification

import (
	"fmt"
	"log"
	"sort"
	"strings"

	"fragnation-bot/internal/models"
	"fragnation-bot/internal/notices"
	"fragnation-bot/internal/storage"
)

// Credentials granted through the platform boundary.
const (
	CredParticipant = "Registered Player"
	CredCaptain     = "Team Captain"
)

// SentinelTxn records a verification issued without an explicit
// transaction reference.
const SentinelTxn = "verified-by-admin"

// Granter confers a platform credential. Granting an already-held
// credential is a no-op; failures are logged by the adapter, never
// propagated — grants are non-critical side effects.
type Granter interface {
	Grant(userID int64, credential string)
}

// Messenger sends plain direct messages.
type Messenger interface {
	SendText(chatID int64, text string) error
}

// Service is the verification state machine: pending → verified
// (idempotent-guarded) and pending → rejected (non-terminal). Every
// mutation updates the primary record and the payment index inside one
// store transaction, then re-renders the unit's notice.
type Service struct {
	store   *storage.Store
	pub     *notices.Publisher
	m       Messenger
	grants  Granter
	regChat int64
}

func New(store *storage.Store, pub *notices.Publisher, m Messenger, grants Granter, registrationChat int64) *Service {
	return &Service{store: store, pub: pub, m: m, grants: grants, regChat: registrationChat}
}

// noticeEdit is a side effect captured during a store transaction and
// executed after it commits, keeping remote calls off the store lock.
type noticeEdit struct {
	ref    *models.NoticeRef
	title  string
	fields []notices.Field
}

// Verify marks userID's payment as verified. Solo registrations are
// checked before teams; when the identity appears in both it resolves as
// solo and the ambiguity is logged. Re-verifying keeps paid=true, records
// the latest txnRef, and still re-edits the notice and re-grants.
// The returned text is the admin-facing outcome.
func (s *Service) Verify(userID int64, txnRef, adminName string) string {
	if strings.TrimSpace(txnRef) == "" {
		txnRef = SentinelTxn
	}
	verifiedStatus := fmt.Sprintf("✅ Verified by %s\nTxn: %s", adminName, txnRef)

	// values only, never live snapshot pointers, so nothing escapes the
	// store transaction
	type confirmation struct {
		name      string
		code      string
		captainID int64
		memberIDs []int64
	}
	var (
		result    string
		edits     []noticeEdit
		userMsg   string
		confirmed *confirmation
	)

	err := s.store.Update(func(sn *models.Snapshot) error {
		if solo := sn.Solos[models.UserKey(userID)]; solo != nil {
			if _, _, m := sn.FindTeamMember(userID); m != nil {
				log.Printf("user %d registered both solo and in a team; verify resolves solo-first", userID)
			}
			solo.Paid = true
			solo.PaymentTxn = txnRef
			if rec := sn.Payments[models.SoloPaymentKey(userID)]; rec != nil {
				rec.Status = models.StatusVerified
			}
			edits = append(edits, noticeEdit{
				ref:    solo.Notice,
				title:  "✅ Solo Payment Verified",
				fields: soloFields(solo, verifiedStatus),
			})
			userMsg = fmt.Sprintf("✅ Your payment for %s has been verified by %s.", eventLabel, adminName)
			result = fmt.Sprintf("✅ Marked %d (solo) as verified.", userID)
			return nil
		}

		code, team, member := sn.FindTeamMember(userID)
		if member == nil {
			result = "Could not find this user in solo or team records. Make sure they registered before verifying."
			return nil
		}
		member.Paid = true
		member.PaymentTxn = txnRef
		if rec := sn.Payments[models.TeamMemberKey(code, userID)]; rec != nil {
			rec.Status = models.StatusVerified
		}
		edits = append(edits, noticeEdit{
			ref:    member.Notice,
			title:  "✅ Team Member Payment Verified",
			fields: memberFields(team, code, member, verifiedStatus),
		})
		userMsg = fmt.Sprintf("✅ Your payment for %s (team %s) has been verified by %s.", eventLabel, team.TeamName, adminName)
		result = fmt.Sprintf("✅ Marked %d as verified for team %s.", userID, team.TeamName)

		// Auto-confirmation: exactly once, on the verification that makes
		// the fifth member paid.
		if !team.Confirmed && len(team.Members) == models.TeamSize && team.AllPaid() {
			team.Confirmed = true
			if rec := sn.Payments[models.TeamCreatedKey(code)]; rec != nil {
				rec.Status = models.StatusVerified
			}
			c := &confirmation{name: team.TeamName, code: code, captainID: team.CaptainID}
			for _, m := range team.Members {
				c.memberIDs = append(c.memberIDs, m.UserID)
			}
			confirmed = c
		}
		return nil
	})
	if err != nil {
		log.Printf("verify %d: %v", userID, err)
		return "⚠️ Verification was not saved, try again."
	}

	for _, e := range edits {
		s.pub.Update(e.ref, e.title, e.fields)
	}
	if userMsg != "" {
		s.grants.Grant(userID, CredParticipant)
		if err := s.m.SendText(userID, userMsg); err != nil {
			log.Printf("verify notification to %d: %v", userID, err)
		}
	}
	if confirmed != nil {
		s.announceConfirmed(confirmed.name, confirmed.code, confirmed.memberIDs)
		s.grants.Grant(confirmed.captainID, CredCaptain)
	}
	return result
}

// Reject flips the payment-index status to rejected and tells the user
// why. The paid flag is untouched (it was already false); a later Verify
// can still succeed once proof is resubmitted.
func (s *Service) Reject(userID int64, reason, adminName string) string {
	if strings.TrimSpace(reason) == "" {
		reason = "No reason provided"
	}
	rejectedStatus := fmt.Sprintf("❌ Rejected by %s\nReason: %s", adminName, reason)

	var (
		result  string
		edits   []noticeEdit
		userMsg string
	)

	err := s.store.Update(func(sn *models.Snapshot) error {
		if solo := sn.Solos[models.UserKey(userID)]; solo != nil {
			if rec := sn.Payments[models.SoloPaymentKey(userID)]; rec != nil {
				rec.Status = models.StatusRejected
			}
			edits = append(edits, noticeEdit{
				ref:    solo.Notice,
				title:  "❌ Solo Payment Rejected",
				fields: soloFields(solo, rejectedStatus),
			})
			userMsg = fmt.Sprintf("🚫 Your payment submission for %s was rejected by %s.\nReason: %s\nPlease re-submit your payment proof or contact the admins.", eventLabel, adminName, reason)
			result = fmt.Sprintf("🚫 Rejected solo payment for %d.", userID)
			return nil
		}

		code, team, member := sn.FindTeamMember(userID)
		if member == nil {
			result = "Could not find this user in registration records."
			return nil
		}
		if rec := sn.Payments[models.TeamMemberKey(code, userID)]; rec != nil {
			rec.Status = models.StatusRejected
		}
		edits = append(edits, noticeEdit{
			ref:    member.Notice,
			title:  "❌ Team Member Payment Rejected",
			fields: memberFields(team, code, member, rejectedStatus),
		})
		userMsg = fmt.Sprintf("🚫 Your payment for team %s was rejected by %s.\nReason: %s\nPlease re-submit your payment proof.", team.TeamName, adminName, reason)
		result = fmt.Sprintf("🚫 Rejected payment for %d in team %s.", userID, team.TeamName)
		return nil
	})
	if err != nil {
		log.Printf("reject %d: %v", userID, err)
		return "⚠️ Rejection was not saved, try again."
	}

	for _, e := range edits {
		s.pub.Update(e.ref, e.title, e.fields)
	}
	if userMsg != "" {
		if err := s.m.SendText(userID, userMsg); err != nil {
			log.Printf("reject notification to %d: %v", userID, err)
		}
	}
	return result
}

// Pending lists every payment-index entry still awaiting verification,
// one human-readable line each.
func (s *Service) Pending() []string {
	var lines []string
	s.store.View(func(sn *models.Snapshot) {
		for key, solo := range sn.Solos {
			rec := sn.Payments[models.SoloPaymentKey(solo.UserID)]
			if rec != nil && rec.Status == models.StatusPending {
				lines = append(lines, fmt.Sprintf("Solo - %s (IGN: %s)", key, solo.IGN))
			}
		}
		for code, team := range sn.Teams {
			for _, m := range team.Members {
				rec := sn.Payments[models.TeamMemberKey(code, m.UserID)]
				if rec != nil && rec.Status == models.StatusPending {
					lines = append(lines, fmt.Sprintf("Team %s (%s) - %d (IGN: %s)", team.TeamName, code, m.UserID, m.IGN))
				}
			}
		}
	})
	sort.Strings(lines)
	return lines
}

// Summary counts payment-index entries by status.
func (s *Service) Summary() (verified, pending, rejected int) {
	s.store.View(func(sn *models.Snapshot) {
		for _, rec := range sn.Payments {
			switch rec.Status {
			case models.StatusVerified:
				verified++
			case models.StatusPending:
				pending++
			case models.StatusRejected:
				rejected++
			}
		}
	})
	return verified, pending, rejected
}

func (s *Service) announceConfirmed(name, code string, memberIDs []int64) {
	ids := make([]string, 0, len(memberIDs))
	for _, id := range memberIDs {
		ids = append(ids, fmt.Sprintf("%d", id))
	}
	text := fmt.Sprintf("✅ Team %s (code %s) is fully registered and confirmed!\nMembers: %s",
		name, code, strings.Join(ids, ", "))
	if err := s.m.SendText(s.regChat, text); err != nil {
		log.Printf("team confirmation announcement: %v", err)
	}
}

const eventLabel = "FragNation Genesis 2025"

// Notice edits always carry the full field set so nothing stale from the
// pending rendering survives.

func soloFields(solo *models.SoloRegistration, status string) []notices.Field {
	return []notices.Field{
		{Name: "Type", Value: "Solo Registration"},
		{Name: "Player", Value: fmt.Sprintf("id %d", solo.UserID)},
		{Name: "Real Name", Value: solo.RealName},
		{Name: "IGN", Value: solo.IGN},
		{Name: "Current Rank", Value: solo.CurrentRank},
		{Name: "Peak Rank", Value: solo.PeakRank},
		{Name: "Payment Proof", Value: solo.PaymentProof},
		{Name: "Status", Value: status},
	}
}

func memberFields(team *models.Team, code string, m *models.TeamMember, status string) []notices.Field {
	return []notices.Field{
		{Name: "Type", Value: "Team Join - " + team.TeamName},
		{Name: "Team Code", Value: code},
		{Name: "Player", Value: fmt.Sprintf("id %d", m.UserID)},
		{Name: "IGN", Value: m.IGN},
		{Name: "Payment Proof", Value: m.PaymentProof},
		{Name: "Status", Value: status},
	}
}

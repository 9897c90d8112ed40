package registration

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"fragnation-bot/internal/joincode"
	"fragnation-bot/internal/models"
	"fragnation-bot/internal/notices"
	"fragnation-bot/internal/session"
	"fragnation-bot/internal/storage"
	"fragnation-bot/internal/util"
)

// EventName shows up in greetings and notice footers.
const EventName = "FragNation Genesis 2025"

// EntryFee is the flat per-player fee, displayed in payment prompts.
const EntryFee = "₹50"

// ErrDelivery means the initial direct message could not be sent (DMs
// closed); the triggering command reports it where it was issued.
var ErrDelivery = errors.New("registration: could not deliver direct message")

// Validation failures for /jointeam. They short-circuit before any
// question is asked and never create partial records.
var (
	errInvalidCode   = errors.New("invalid join code")
	errAlreadyMember = errors.New("already a member")
	errTeamFull      = errors.New("team is full")
)

// Messenger sends plain direct messages to a chat.
type Messenger interface {
	SendText(chatID int64, text string) error
}

// Surfaces are the public chats registrations report to.
type Surfaces struct {
	Payments     int64
	Registration int64
}

// Service runs the registration dialogues: kind selection, the five solo
// questions, team creation, and team joins. Each invocation owns one
// session goroutine; all persistent state lives in the store.
type Service struct {
	store *storage.Store
	eng   *session.Engine
	pub   *notices.Publisher
	m     Messenger
	surf  Surfaces
	upiID string

	// kind selection is quick; data steps allow for bank-transfer latency.
	kindTimeout time.Duration
	stepTimeout time.Duration
}

func New(store *storage.Store, eng *session.Engine, pub *notices.Publisher, m Messenger, surf Surfaces, upiID string) *Service {
	return &Service{
		store:       store,
		eng:         eng,
		pub:         pub,
		m:           m,
		surf:        surf,
		upiID:       upiID,
		kindTimeout: 5 * time.Minute,
		stepTimeout: 10 * time.Minute,
	}
}

// Register runs the kind-selection dialogue and whichever flow the user
// picks. It blocks until the session ends; run it in its own goroutine.
// Only a failure to deliver the opening message is returned — everything
// later is reported to the user directly.
func (s *Service) Register(ctx context.Context, userID, dmChat int64, displayName string) error {
	key := session.Key{UserID: userID, ChatID: dmChat}

	greet := fmt.Sprintf(
		"Hello %s! Welcome to %s registration.\nDo you want to register as solo or team? Reply with solo or team.",
		displayName, EventName,
	)
	if err := s.m.SendText(dmChat, greet); err != nil {
		return ErrDelivery
	}

	reply, err := s.eng.Await(ctx, key, s.kindTimeout)
	if err != nil {
		s.sendAbort(dmChat, err, "/register")
		return nil
	}

	switch util.Normalize(reply) {
	case "solo":
		s.runSolo(ctx, key, displayName)
	case "team":
		s.runTeamCreate(ctx, key, displayName)
	default:
		s.send(dmChat, "Unrecognized option. Run /register again and reply with solo or team.")
	}
	return nil
}

func (s *Service) runSolo(ctx context.Context, key session.Key, displayName string) {
	s.send(key.ChatID, "You chose Solo registration. I'll ask a few private questions.\n(Reply cancel at any time to abort.)")

	questions := []string{
		"What is your REAL NAME? (exact full name)",
		"Enter your VALORANT IGN (in-game name):",
		"Current rank (e.g. Gold II):",
		"Peak rank (e.g. Immortal I):",
		fmt.Sprintf("Please pay %s to UPI ID %s and reply here with the transaction ID or a screenshot link:", EntryFee, s.upiID),
	}
	answers := make([]string, 0, len(questions))
	for _, q := range questions {
		a, err := s.ask(ctx, key, q)
		if err != nil {
			s.sendAbort(key.ChatID, err, "/register")
			return
		}
		answers = append(answers, a)
	}

	userID := key.UserID
	err := s.store.Update(func(sn *models.Snapshot) error {
		fields := soloFields(displayName, userID, answers[0], answers[1], answers[2], answers[3], answers[4], statusPending)
		ref, err := s.pub.Publish(s.surf.Payments, "🧾 New Solo Registration", fields)
		if err != nil {
			return err
		}
		sn.Solos[models.UserKey(userID)] = &models.SoloRegistration{
			UserID:       userID,
			RealName:     answers[0],
			IGN:          answers[1],
			CurrentRank:  answers[2],
			PeakRank:     answers[3],
			PaymentProof: answers[4],
			Notice:       ref,
			CreatedAt:    util.NowISO(),
		}
		sn.Payments[models.SoloPaymentKey(userID)] = &models.PaymentRecord{
			Kind:   models.KindSolo,
			UserID: userID,
			Notice: *ref,
			Status: models.StatusPending,
		}
		return nil
	})
	if err != nil {
		log.Printf("solo registration for %d not saved: %v", userID, err)
		s.send(key.ChatID, "Something went wrong submitting your registration. Please run /register again.")
		return
	}

	s.send(key.ChatID, "Thanks — your solo registration is submitted and sent to admins for verification. You will be notified once verified.")

	// low-noise pointer on the public registration surface, best-effort
	if err := s.m.SendText(s.surf.Registration,
		fmt.Sprintf("🔔 New solo registration received from %s (check the payments channel).", displayName)); err != nil {
		log.Printf("registration pointer not sent: %v", err)
	}
}

func (s *Service) runTeamCreate(ctx context.Context, key session.Key, displayName string) {
	s.send(key.ChatID, "You chose Team registration. I'll ask for the team name and create a join code your teammates can use.\n(Reply cancel at any time to abort.)")

	name, err := s.ask(ctx, key, "Enter your team name (keep it short):")
	for err == nil && name == "" {
		name, err = s.ask(ctx, key, "Team name cannot be empty. Enter your team name:")
	}
	if err != nil {
		s.sendAbort(key.ChatID, err, "/register")
		return
	}

	userID := key.UserID
	var code string
	err = s.store.Update(func(sn *models.Snapshot) error {
		code = joincode.Allocate(func(c string) bool {
			_, taken := sn.Teams[c]
			return taken
		})
		fields := []notices.Field{
			{Name: "Type", Value: "Team Created (awaiting members/payments)"},
			{Name: "Team Name", Value: name},
			{Name: "Join Code", Value: code},
			{Name: "Captain", Value: identity(displayName, userID)},
			{Name: "Members (so far)", Value: identity(displayName, userID)},
		}
		ref, err := s.pub.Publish(s.surf.Payments, "🧾 New Team Created", fields)
		if err != nil {
			return err
		}
		// The captain is counted from inception but never goes through a
		// join dialogue: IGN and proof stay empty until an admin verifies
		// them directly.
		sn.Teams[code] = &models.Team{
			JoinCode:  code,
			TeamName:  name,
			CaptainID: userID,
			Members:   []*models.TeamMember{{UserID: userID}},
			Notice:    ref,
			CreatedAt: util.NowISO(),
		}
		sn.Payments[models.TeamCreatedKey(code)] = &models.PaymentRecord{
			Kind:     models.KindTeamCreated,
			TeamCode: code,
			Notice:   *ref,
			Status:   models.StatusPending,
		}
		return nil
	})
	if err != nil {
		log.Printf("team %q for %d not saved: %v", name, userID, err)
		s.send(key.ChatID, "Something went wrong creating your team. Please run /register again.")
		return
	}

	s.send(key.ChatID, fmt.Sprintf(
		"Team %s created. Share this join code with your teammates:\n\n%s\n\n"+
			"Each teammate should message me the command /jointeam %s. "+
			"I'll ask for their IGN and payment proof (%s to UPI %s). "+
			"Once 5 members have joined and payments are verified by admins, your team is confirmed automatically.",
		name, code, code, EntryFee, s.upiID,
	))
}

// JoinTeam validates the code and, when valid, runs the IGN + payment
// dialogue. Validation runs twice: before the first question so bad input
// short-circuits, and again inside the final transaction because the team
// may have changed while this member was typing.
func (s *Service) JoinTeam(ctx context.Context, userID, dmChat int64, displayName, code string) error {
	key := session.Key{UserID: userID, ChatID: dmChat}
	code = strings.ToUpper(strings.TrimSpace(code))

	if code == "" {
		return s.m.SendText(dmChat, "Usage: /jointeam <CODE> (the join code is provided by your team captain).")
	}

	var teamName string
	var vErr error
	s.store.View(func(sn *models.Snapshot) {
		teamName, vErr = validateJoin(sn, code, userID)
	})
	if vErr != nil {
		return s.m.SendText(dmChat, joinErrorText(vErr))
	}

	if err := s.m.SendText(dmChat, fmt.Sprintf("Joining team %s. Please reply with your VALORANT IGN:", teamName)); err != nil {
		return ErrDelivery
	}
	ign, err := s.eng.Await(ctx, key, s.stepTimeout)
	if err != nil {
		s.sendAbort(dmChat, err, "/jointeam "+code)
		return nil
	}
	proof, err := s.ask(ctx, key, fmt.Sprintf("Please pay %s to UPI ID %s and reply here with the transaction ID or a screenshot link:", EntryFee, s.upiID))
	if err != nil {
		s.sendAbort(dmChat, err, "/jointeam "+code)
		return nil
	}

	err = s.store.Update(func(sn *models.Snapshot) error {
		if _, vErr := validateJoin(sn, code, userID); vErr != nil {
			return vErr
		}
		team := sn.Teams[code]
		fields := memberFields(team.TeamName, code, displayName, userID, ign, proof, statusPending)
		ref, err := s.pub.Publish(s.surf.Payments, "🧾 Team Member Payment (Pending)", fields)
		if err != nil {
			return err
		}
		team.Members = append(team.Members, &models.TeamMember{
			UserID:       userID,
			IGN:          ign,
			PaymentProof: proof,
			Notice:       ref,
		})
		sn.Payments[models.TeamMemberKey(code, userID)] = &models.PaymentRecord{
			Kind:     models.KindTeamMember,
			TeamCode: code,
			UserID:   userID,
			Notice:   *ref,
			Status:   models.StatusPending,
		}
		return nil
	})
	switch {
	case err == errInvalidCode || err == errAlreadyMember || err == errTeamFull:
		s.send(dmChat, joinErrorText(err))
		return nil
	case err != nil:
		log.Printf("join %s by %d not saved: %v", code, userID, err)
		s.send(dmChat, "Something went wrong submitting your join request. Please run /jointeam again.")
		return nil
	}

	s.send(dmChat, "Thanks — your join request and payment proof have been submitted for admin verification.")
	s.refreshTeamNotice(code)
	return nil
}

// MyRegistration sends the caller a read-only view of their own record.
func (s *Service) MyRegistration(userID, dmChat int64) error {
	var text string
	s.store.View(func(sn *models.Snapshot) {
		if solo := sn.Solos[models.UserKey(userID)]; solo != nil {
			text = fmt.Sprintf(
				"Your solo registration:\nIGN: %s\nReal name: %s\nCurrent rank: %s\nPeak rank: %s\nPaid: %t",
				solo.IGN, solo.RealName, solo.CurrentRank, solo.PeakRank, solo.Paid,
			)
			return
		}
		if code, team, member := sn.FindTeamMember(userID); member != nil {
			text = fmt.Sprintf(
				"Team: %s (code %s)\nCaptain: %d\nYour IGN: %s\nPaid: %t\nConfirmed: %t",
				team.TeamName, code, team.CaptainID, member.IGN, member.Paid, team.Confirmed,
			)
		}
	})
	if text == "" {
		text = "You don't have a saved registration yet. Run /register to start."
	}
	return s.m.SendText(dmChat, text)
}

// ---------- helpers ----------

func (s *Service) ask(ctx context.Context, key session.Key, q string) (string, error) {
	if err := s.m.SendText(key.ChatID, q); err != nil {
		return "", ErrDelivery
	}
	return s.eng.Await(ctx, key, s.stepTimeout)
}

func (s *Service) send(chatID int64, text string) {
	if err := s.m.SendText(chatID, text); err != nil {
		log.Printf("send to %d: %v", chatID, err)
	}
}

// sendAbort reports why a session ended without completing. Superseded
// sessions stay silent: a newer session owns the chat now.
func (s *Service) sendAbort(chatID int64, err error, retryCmd string) {
	switch {
	case errors.Is(err, session.ErrTimeout):
		s.send(chatID, fmt.Sprintf("Timed out. Run %s again when ready.", retryCmd))
	case errors.Is(err, session.ErrCancelled):
		s.send(chatID, "Cancelled. Nothing was saved.")
	case errors.Is(err, ErrDelivery):
		log.Printf("session prompt undeliverable on chat %d", chatID)
	}
}

func validateJoin(sn *models.Snapshot, code string, userID int64) (teamName string, err error) {
	team := sn.Teams[code]
	if team == nil {
		return "", errInvalidCode
	}
	if team.Member(userID) != nil {
		return team.TeamName, errAlreadyMember
	}
	if team.Full() {
		return team.TeamName, errTeamFull
	}
	return team.TeamName, nil
}

func joinErrorText(err error) string {
	switch err {
	case errInvalidCode:
		return "Invalid join code. Please check with your team captain."
	case errAlreadyMember:
		return "You are already a member of this team."
	case errTeamFull:
		return "This team already has 5 members."
	}
	return "Could not join this team."
}

// refreshTeamNotice re-renders the team-created notice with the current
// member list. Fire-and-forget; the store stays authoritative.
func (s *Service) refreshTeamNotice(code string) {
	var ref *models.NoticeRef
	var fields []notices.Field
	s.store.View(func(sn *models.Snapshot) {
		team := sn.Teams[code]
		if team == nil || team.Notice == nil {
			return
		}
		ref = team.Notice
		fields = teamFields(team, code)
	})
	if ref != nil {
		s.pub.Update(ref, "🧾 New Team Created", fields)
	}
}

const statusPending = "❌ Pending Verification"

func identity(displayName string, userID int64) string {
	if displayName == "" {
		return fmt.Sprintf("id %d", userID)
	}
	return fmt.Sprintf("%s (ID: %d)", displayName, userID)
}

func soloFields(displayName string, userID int64, realName, ign, currentRank, peakRank, proof, status string) []notices.Field {
	return []notices.Field{
		{Name: "Type", Value: "Solo Registration"},
		{Name: "Player", Value: identity(displayName, userID)},
		{Name: "Real Name", Value: realName},
		{Name: "IGN", Value: ign},
		{Name: "Current Rank", Value: currentRank},
		{Name: "Peak Rank", Value: peakRank},
		{Name: "Payment Proof", Value: proof},
		{Name: "Status", Value: status},
	}
}

func memberFields(teamName, code, displayName string, userID int64, ign, proof, status string) []notices.Field {
	return []notices.Field{
		{Name: "Type", Value: "Team Join - " + teamName},
		{Name: "Team Code", Value: code},
		{Name: "Player", Value: identity(displayName, userID)},
		{Name: "IGN", Value: ign},
		{Name: "Payment Proof", Value: proof},
		{Name: "Status", Value: status},
	}
}

func teamFields(team *models.Team, code string) []notices.Field {
	names := make([]string, 0, len(team.Members))
	for _, m := range team.Members {
		label := fmt.Sprintf("id %d", m.UserID)
		if m.IGN != "" {
			label = fmt.Sprintf("%s (id %d)", m.IGN, m.UserID)
		}
		if m.UserID == team.CaptainID {
			label += " [captain]"
		}
		names = append(names, label)
	}
	return []notices.Field{
		{Name: "Type", Value: "Team Created (awaiting members/payments)"},
		{Name: "Team Name", Value: team.TeamName},
		{Name: "Join Code", Value: code},
		{Name: "Captain", Value: fmt.Sprintf("id %d", team.CaptainID)},
		{Name: "Members (so far)", Value: strings.Join(names, ", ")},
	}
}

package registration

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"fragnation-bot/internal/models"
	"fragnation-bot/internal/notices"
	"fragnation-bot/internal/session"
	"fragnation-bot/internal/storage"
)

const (
	payChat = int64(900)
	regChat = int64(901)
)

type fakeMessenger struct {
	mu   sync.Mutex
	sent map[int64][]string
	fail map[int64]bool
}

func newFakeMessenger() *fakeMessenger {
	return &fakeMessenger{sent: map[int64][]string{}, fail: map[int64]bool{}}
}

func (f *fakeMessenger) SendText(chatID int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[chatID] {
		return fmt.Errorf("chat %d unreachable", chatID)
	}
	f.sent[chatID] = append(f.sent[chatID], text)
	return nil
}

func (f *fakeMessenger) texts(chatID int64) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent[chatID]...)
}

func (f *fakeMessenger) joined(chatID int64) string {
	return strings.Join(f.texts(chatID), "\n---\n")
}

type fakeBoard struct {
	mu     sync.Mutex
	nextID int
	posts  map[string]string
	fail   bool
}

func newFakeBoard() *fakeBoard { return &fakeBoard{posts: map[string]string{}} }

func boardKey(chatID int64, messageID int) string { return fmt.Sprintf("%d/%d", chatID, messageID) }

func (f *fakeBoard) SendNotice(chatID int64, text string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return 0, fmt.Errorf("board unreachable")
	}
	f.nextID++
	f.posts[boardKey(chatID, f.nextID)] = text
	return f.nextID, nil
}

func (f *fakeBoard) EditNotice(chatID int64, messageID int, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := boardKey(chatID, messageID)
	if _, ok := f.posts[k]; !ok {
		return fmt.Errorf("message not found")
	}
	f.posts[k] = text
	return nil
}

func (f *fakeBoard) text(ref *models.NoticeRef) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.posts[boardKey(ref.ChatID, ref.MessageID)]
}

func (f *fakeBoard) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.posts)
}

type harness struct {
	store *storage.Store
	path  string
	eng   *session.Engine
	board *fakeBoard
	fm    *fakeMessenger
	svc   *Service
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data.json")
	store, err := storage.Open(path)
	require.NoError(t, err)

	eng := session.NewEngine()
	board := newFakeBoard()
	fm := newFakeMessenger()
	svc := New(store, eng, notices.NewPublisher(board, "footer"), fm,
		Surfaces{Payments: payChat, Registration: regChat}, "test@upi")
	svc.kindTimeout = time.Second
	svc.stepTimeout = time.Second
	return &harness{store: store, path: path, eng: eng, board: board, fm: fm, svc: svc}
}

// reply retries until the flow goroutine has registered its waiter.
func (h *harness) reply(t *testing.T, key session.Key, text string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if h.eng.Dispatch(key, text) {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("no session consumed %q", text)
}

func (h *harness) fileBytes(t *testing.T) []byte {
	t.Helper()
	raw, err := os.ReadFile(h.path)
	require.NoError(t, err)
	return raw
}

func (h *harness) seedTeam(t *testing.T, code, name string, captainID int64, memberIDs ...int64) {
	t.Helper()
	id, err := h.board.SendNotice(payChat, "team notice")
	require.NoError(t, err)
	ref := &models.NoticeRef{ChatID: payChat, MessageID: id}

	require.NoError(t, h.store.Update(func(sn *models.Snapshot) error {
		team := &models.Team{
			JoinCode:  code,
			TeamName:  name,
			CaptainID: captainID,
			Members:   []*models.TeamMember{{UserID: captainID}},
			Notice:    ref,
		}
		for _, id := range memberIDs {
			team.Members = append(team.Members, &models.TeamMember{UserID: id, IGN: fmt.Sprintf("ign%d", id)})
		}
		sn.Teams[code] = team
		sn.Payments[models.TeamCreatedKey(code)] = &models.PaymentRecord{
			Kind: models.KindTeamCreated, TeamCode: code, Notice: *ref, Status: models.StatusPending,
		}
		return nil
	}))
}

func TestSoloRegistrationHappyPath(t *testing.T) {
	h := newHarness(t)
	key := session.Key{UserID: 42, ChatID: 42}

	done := make(chan error, 1)
	go func() { done <- h.svc.Register(context.Background(), 42, 42, "Alice") }()

	for _, answer := range []string{"solo", "Alice Smith", "AliceIGN", "Gold II", "Immortal I", "TXN123"} {
		h.reply(t, key, answer)
	}
	require.NoError(t, <-done)

	h.store.View(func(sn *models.Snapshot) {
		solo := sn.Solos["42"]
		require.NotNil(t, solo)
		require.Equal(t, "Alice Smith", solo.RealName)
		require.Equal(t, "AliceIGN", solo.IGN)
		require.Equal(t, "Gold II", solo.CurrentRank)
		require.Equal(t, "Immortal I", solo.PeakRank)
		require.Equal(t, "TXN123", solo.PaymentProof)
		require.False(t, solo.Paid)
		require.NotNil(t, solo.Notice, "entity must never be visible without its notice")

		rec := sn.Payments["solo-42"]
		require.NotNil(t, rec)
		require.Equal(t, models.StatusPending, rec.Status)
		require.Equal(t, *solo.Notice, rec.Notice)
	})

	require.Equal(t, 1, h.board.count(), "exactly one published notice")
	require.Contains(t, h.fm.joined(42), "submitted")
	require.Contains(t, h.fm.joined(regChat), "New solo registration")
}

func TestCancelMidDialogueLeavesStoreUntouched(t *testing.T) {
	h := newHarness(t)
	key := session.Key{UserID: 7, ChatID: 7}
	before := h.fileBytes(t)

	done := make(chan error, 1)
	go func() { done <- h.svc.Register(context.Background(), 7, 7, "Bob") }()
	h.reply(t, key, "solo")
	h.reply(t, key, "Bob Jones")
	h.reply(t, key, "cancel")
	require.NoError(t, <-done)

	require.Equal(t, before, h.fileBytes(t), "cancel must leave the store byte-for-byte unchanged")
	require.Equal(t, 0, h.board.count())
	require.Contains(t, h.fm.joined(7), "Cancelled")
}

func TestKindSelectionTimeout(t *testing.T) {
	h := newHarness(t)
	h.svc.kindTimeout = 30 * time.Millisecond
	before := h.fileBytes(t)

	require.NoError(t, h.svc.Register(context.Background(), 8, 8, "Slow"))

	require.Equal(t, before, h.fileBytes(t))
	require.Contains(t, h.fm.joined(8), "Timed out")
}

func TestUnrecognizedKindSelection(t *testing.T) {
	h := newHarness(t)
	key := session.Key{UserID: 9, ChatID: 9}
	before := h.fileBytes(t)

	done := make(chan error, 1)
	go func() { done <- h.svc.Register(context.Background(), 9, 9, "Eve") }()
	h.reply(t, key, "duo")
	require.NoError(t, <-done)

	require.Equal(t, before, h.fileBytes(t))
	require.Contains(t, h.fm.joined(9), "Unrecognized option")
}

func TestRegisterDMFailure(t *testing.T) {
	h := newHarness(t)
	h.fm.fail[13] = true

	err := h.svc.Register(context.Background(), 13, 13, "NoDM")
	require.ErrorIs(t, err, ErrDelivery)
}

func TestTeamCreateFlow(t *testing.T) {
	h := newHarness(t)
	key := session.Key{UserID: 100, ChatID: 100}

	done := make(chan error, 1)
	go func() { done <- h.svc.Register(context.Background(), 100, 100, "Cap") }()
	h.reply(t, key, "team")
	h.reply(t, key, "Foxes")
	require.NoError(t, <-done)

	var code string
	h.store.View(func(sn *models.Snapshot) {
		require.Len(t, sn.Teams, 1)
		for c, team := range sn.Teams {
			code = c
			require.Len(t, c, 6)
			require.Equal(t, "Foxes", team.TeamName)
			require.Equal(t, int64(100), team.CaptainID)
			require.False(t, team.Confirmed)
			require.NotNil(t, team.Notice)

			// captain counted from inception, with no IGN or proof
			require.Len(t, team.Members, 1)
			require.Equal(t, int64(100), team.Members[0].UserID)
			require.Empty(t, team.Members[0].IGN)
			require.False(t, team.Members[0].Paid)
		}
		rec := sn.Payments[models.TeamCreatedKey(code)]
		require.NotNil(t, rec)
		require.Equal(t, models.StatusPending, rec.Status)
	})

	require.Contains(t, h.fm.joined(100), code, "captain must receive the join code")
}

func TestJoinTeamValidationShortCircuits(t *testing.T) {
	h := newHarness(t)
	h.seedTeam(t, "ABC123", "Foxes", 100)
	before := h.fileBytes(t)

	cases := []struct {
		name   string
		userID int64
		code   string
		want   string
	}{
		{"missing code", 200, "", "Usage"},
		{"invalid code", 200, "ZZZZZZ", "Invalid join code"},
		{"already member", 100, "ABC123", "already a member"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.NoError(t, h.svc.JoinTeam(context.Background(), tc.userID, tc.userID, "User", tc.code))
			require.Contains(t, h.fm.joined(tc.userID), tc.want)
			require.NotContains(t, h.fm.joined(tc.userID), "IGN", "no question may be asked")
		})
	}
	require.Equal(t, before, h.fileBytes(t))
}

func TestJoinTeamFullTeamRejected(t *testing.T) {
	h := newHarness(t)
	h.seedTeam(t, "ABC123", "Foxes", 100, 101, 102, 103, 104)
	before := h.fileBytes(t)

	require.NoError(t, h.svc.JoinTeam(context.Background(), 300, 300, "Late", "ABC123"))
	require.Contains(t, h.fm.joined(300), "already has 5 members")
	require.Equal(t, before, h.fileBytes(t))
}

func TestJoinTeamHappyPath(t *testing.T) {
	h := newHarness(t)
	h.seedTeam(t, "ABC123", "Foxes", 100)
	key := session.Key{UserID: 201, ChatID: 201}

	done := make(chan error, 1)
	go func() { done <- h.svc.JoinTeam(context.Background(), 201, 201, "Mate", "abc123") }()
	h.reply(t, key, "MateIGN")
	h.reply(t, key, "TXN777")
	require.NoError(t, <-done)

	var teamRef *models.NoticeRef
	h.store.View(func(sn *models.Snapshot) {
		team := sn.Teams["ABC123"]
		require.Len(t, team.Members, 2)
		m := team.Member(201)
		require.NotNil(t, m)
		require.Equal(t, "MateIGN", m.IGN)
		require.Equal(t, "TXN777", m.PaymentProof)
		require.False(t, m.Paid)
		require.NotNil(t, m.Notice)

		rec := sn.Payments[models.TeamMemberKey("ABC123", 201)]
		require.NotNil(t, rec)
		require.Equal(t, models.StatusPending, rec.Status)

		teamRef = team.Notice
	})

	// the team-created notice now shows the new member
	require.Contains(t, h.board.text(teamRef), "MateIGN")
	require.Contains(t, h.fm.joined(201), "submitted for admin verification")
}

func TestJoinTeamCancelDiscardsEverything(t *testing.T) {
	h := newHarness(t)
	h.seedTeam(t, "ABC123", "Foxes", 100)
	before := h.fileBytes(t)
	key := session.Key{UserID: 202, ChatID: 202}

	done := make(chan error, 1)
	go func() { done <- h.svc.JoinTeam(context.Background(), 202, 202, "Mate", "ABC123") }()
	h.reply(t, key, "MateIGN")
	h.reply(t, key, "cancel")
	require.NoError(t, <-done)

	require.Equal(t, before, h.fileBytes(t))
}

func TestSoloPublishFailureWritesNothing(t *testing.T) {
	h := newHarness(t)
	h.board.fail = true
	before := h.fileBytes(t)
	key := session.Key{UserID: 50, ChatID: 50}

	done := make(chan error, 1)
	go func() { done <- h.svc.Register(context.Background(), 50, 50, "Unlucky") }()
	for _, answer := range []string{"solo", "A", "B", "C", "D", "E"} {
		h.reply(t, key, answer)
	}
	require.NoError(t, <-done)

	require.Equal(t, before, h.fileBytes(t), "no entity may exist without its notice")
	require.Contains(t, h.fm.joined(50), "Something went wrong")
}

func TestMyRegistration(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.svc.MyRegistration(1, 1))
	require.Contains(t, h.fm.joined(1), "don't have a saved registration")

	require.NoError(t, h.store.Update(func(sn *models.Snapshot) error {
		sn.Solos["2"] = &models.SoloRegistration{UserID: 2, IGN: "TwoIGN", RealName: "Two"}
		return nil
	}))
	require.NoError(t, h.svc.MyRegistration(2, 2))
	require.Contains(t, h.fm.joined(2), "TwoIGN")

	h.seedTeam(t, "ABC123", "Foxes", 3)
	require.NoError(t, h.svc.MyRegistration(3, 3))
	require.Contains(t, h.fm.joined(3), "Foxes")
}

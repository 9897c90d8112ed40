package tgbot

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strconv"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"fragnation-bot/internal/config"
	"fragnation-bot/internal/models"
	"fragnation-bot/internal/notices"
	"fragnation-bot/internal/registration"
	"fragnation-bot/internal/session"
	"fragnation-bot/internal/sheets"
	"fragnation-bot/internal/storage"
	"fragnation-bot/internal/util"
	"fragnation-bot/internal/verification"
)

// App is the Telegram adapter: it routes commands, feeds non-command
// private messages into the session engine, and implements the Messenger
// and Granter boundaries the core services depend on.
type App struct {
	cfg    config.Config
	bot    *tgbotapi.BotAPI
	store  *storage.Store
	eng    *session.Engine
	reg    *registration.Service
	ver    *verification.Service
	sheets *sheets.Client // nil when export is not configured

	// Telegram has no server roles; grants are tracked per process so
	// re-granting stays a no-op, and announced once by DM.
	mu      sync.Mutex
	granted map[string]bool
}

func New(cfg config.Config, store *storage.Store, sh *sheets.Client) (*App, error) {
	b, err := tgbotapi.NewBotAPI(cfg.TelegramToken)
	if err != nil {
		return nil, err
	}
	b.Debug = false

	a := &App{
		cfg:     cfg,
		bot:     b,
		store:   store,
		eng:     session.NewEngine(),
		sheets:  sh,
		granted: map[string]bool{},
	}
	pub := notices.NewPublisher(a, fmt.Sprintf("%s • UPI: %s", registration.EventName, cfg.UPIID))
	surf := registration.Surfaces{Payments: cfg.PaymentsChatID, Registration: cfg.RegistrationChatID}
	a.reg = registration.New(store, a.eng, pub, a, surf, cfg.UPIID)
	a.ver = verification.New(store, pub, a, a, cfg.RegistrationChatID)
	return a, nil
}

func (a *App) Run(ctx context.Context) error {
	a.checkSurfaces()

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := a.bot.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case upd := <-updates:
			if upd.Message != nil {
				a.handleMessage(ctx, upd.Message)
			}
		}
	}
}

// checkSurfaces verifies each configured surface chat is reachable.
// Failures are logged, never fatal: the bot runs degraded instead.
func (a *App) checkSurfaces() {
	surfaces := []struct {
		name string
		id   int64
	}{
		{"payments", a.cfg.PaymentsChatID},
		{"registration", a.cfg.RegistrationChatID},
		{"fixtures", a.cfg.FixturesChatID},
		{"results", a.cfg.ResultsChatID},
	}
	for _, s := range surfaces {
		if s.id == 0 {
			log.Printf("surface %q not configured", s.name)
			continue
		}
		if _, err := a.bot.GetChat(tgbotapi.ChatInfoConfig{ChatConfig: tgbotapi.ChatConfig{ChatID: s.id}}); err != nil {
			log.Printf("surface %q (chat %d) unreachable: %v", s.name, s.id, err)
		}
	}
}

func (a *App) isAdmin(tgID int64) bool {
	return a.cfg.AdminTGIDs[tgID]
}

// ---------- Messenger / Granter adapters ----------

func (a *App) SendText(chatID int64, text string) error {
	_, err := a.bot.Send(tgbotapi.NewMessage(chatID, text))
	return err
}

func (a *App) SendNotice(chatID int64, text string) (int, error) {
	msg, err := a.bot.Send(tgbotapi.NewMessage(chatID, text))
	if err != nil {
		return 0, err
	}
	return msg.MessageID, nil
}

func (a *App) EditNotice(chatID int64, messageID int, text string) error {
	_, err := a.bot.Send(tgbotapi.NewEditMessageText(chatID, messageID, text))
	return err
}

func (a *App) Grant(userID int64, credential string) {
	key := fmt.Sprintf("%d/%s", userID, credential)
	a.mu.Lock()
	held := a.granted[key]
	a.granted[key] = true
	a.mu.Unlock()
	if held {
		return
	}
	log.Printf("granted %q to %d", credential, userID)
	if err := a.SendText(userID, "🎖 You now hold: "+credential); err != nil {
		log.Printf("credential notice to %d: %v", userID, err)
	}
}

// ---------- Message handling ----------

func (a *App) handleMessage(ctx context.Context, m *tgbotapi.Message) {
	if m.From == nil || m.Chat == nil {
		return
	}
	if m.IsCommand() {
		a.handleCommand(ctx, m)
		return
	}
	if !m.Chat.IsPrivate() {
		return
	}
	// non-command private text belongs to whichever session is waiting
	if a.eng.Dispatch(session.Key{UserID: m.From.ID, ChatID: m.Chat.ID}, m.Text) {
		return
	}
	a.send(m.Chat.ID, "Run /register to start, or /myregistration to view your record.")
}

func (a *App) handleCommand(ctx context.Context, m *tgbotapi.Message) {
	userID := m.From.ID
	origin := m.Chat.ID
	name := displayName(m.From)

	switch m.Command() {
	case "start", "help":
		a.send(origin, helpText)

	case "register":
		// the flow owns its own goroutine; only DM failure comes back here
		go func() {
			if err := a.reg.Register(ctx, userID, userID, name); errors.Is(err, registration.ErrDelivery) {
				a.send(origin, fmt.Sprintf("%s, I couldn't message you privately. Open a chat with me (/start) and try again.", name))
			}
		}()

	case "jointeam":
		if !m.Chat.IsPrivate() {
			a.send(origin, "Please use this command in a private chat with me.")
			return
		}
		code := m.CommandArguments()
		go func() {
			if err := a.reg.JoinTeam(ctx, userID, origin, name, code); err != nil {
				log.Printf("jointeam by %d: %v", userID, err)
			}
		}()

	case "myregistration":
		if !m.Chat.IsPrivate() {
			a.send(origin, "Use this command in a private chat with me for privacy.")
			return
		}
		if err := a.reg.MyRegistration(userID, origin); err != nil {
			log.Printf("myregistration for %d: %v", userID, err)
		}

	case "verify":
		if !a.requireAdmin(userID, origin) {
			return
		}
		target, rest, ok := parseTarget(m.CommandArguments())
		if !ok {
			a.send(origin, "Usage: /verify <user_id> [txn_ref]")
			return
		}
		a.send(origin, a.ver.Verify(target, rest, name))

	case "reject":
		if !a.requireAdmin(userID, origin) {
			return
		}
		target, rest, ok := parseTarget(m.CommandArguments())
		if !ok {
			a.send(origin, "Usage: /reject <user_id> [reason]")
			return
		}
		a.send(origin, a.ver.Reject(target, rest, name))

	case "pending":
		if !a.requireAdmin(userID, origin) {
			return
		}
		lines := a.ver.Pending()
		if len(lines) == 0 {
			a.send(origin, "✅ No pending payments.")
			return
		}
		a.send(origin, "🕓 Pending payments:\n"+strings.Join(lines, "\n"))

	case "paymentsummary":
		if !a.requireAdmin(userID, origin) {
			return
		}
		v, p, r := a.ver.Summary()
		a.send(origin, fmt.Sprintf("💸 Payment summary\n✅ Verified: %d\n🕓 Pending: %d\n❌ Rejected: %d", v, p, r))

	case "export":
		if !a.requireAdmin(userID, origin) {
			return
		}
		a.handleExport(origin)
	}
}

func (a *App) requireAdmin(userID, origin int64) bool {
	if !a.isAdmin(userID) {
		a.send(origin, "❌ You do not have permission to use this command.")
		return false
	}
	return true
}

// handleExport hands out the HMAC-tokened CSV link and, when a spreadsheet
// is configured, appends the roster to it.
func (a *App) handleExport(origin int64) {
	token := util.HMACSHA256Hex(a.cfg.ExportSecret, "export:payments")
	url := a.cfg.BasePublicURL + "/export/payments.csv?token=" + token
	if a.cfg.BasePublicURL == "" {
		url = "http://localhost" + a.cfg.HTTPAddr + "/export/payments.csv?token=" + token
	}
	a.send(origin, "📤 Payments CSV: "+url)

	if a.sheets == nil {
		a.send(origin, "Google Sheets export is not configured.")
		return
	}
	sn, err := a.store.Snapshot()
	if err != nil {
		a.send(origin, "⚠️ Export failed: "+err.Error())
		return
	}
	rows, err := a.sheets.ExportRoster(sn)
	if err != nil {
		log.Printf("sheets export: %v", err)
		a.send(origin, "⚠️ Sheets export failed, see logs.")
		return
	}
	a.send(origin, fmt.Sprintf("✅ Exported %d roster rows to the spreadsheet.", rows))
}

// BuildPaymentsCSV renders the payment index for the HTTP export endpoint.
func (a *App) BuildPaymentsCSV() string {
	b := strings.Builder{}
	b.WriteString("key,type,team_code,user_id,status\n")
	a.store.View(func(sn *models.Snapshot) {
		keys := make([]string, 0, len(sn.Payments))
		for k := range sn.Payments {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			rec := sn.Payments[k]
			b.WriteString(fmt.Sprintf("%s,%s,%s,%d,%s\n", k, rec.Kind, rec.TeamCode, rec.UserID, rec.Status))
		}
	})
	return b.String()
}

func (a *App) send(chatID int64, text string) {
	if err := a.SendText(chatID, text); err != nil {
		log.Printf("send to %d: %v", chatID, err)
	}
}

func parseTarget(args string) (userID int64, rest string, ok bool) {
	args = strings.TrimSpace(args)
	if args == "" {
		return 0, "", false
	}
	first := args
	if i := strings.IndexByte(args, ' '); i >= 0 {
		first, rest = args[:i], strings.TrimSpace(args[i+1:])
	}
	id, err := strconv.ParseInt(first, 10, 64)
	if err != nil {
		return 0, "", false
	}
	return id, rest, true
}

func displayName(u *tgbotapi.User) string {
	if u.UserName != "" {
		return "@" + u.UserName
	}
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return fmt.Sprintf("id %d", u.ID)
	}
	return name
}

const helpText = `FragNation Genesis 2025 registration bot.

/register — register solo or create a team (I'll ask questions privately)
/jointeam <CODE> — join a team with the captain's code (private chat only)
/myregistration — view your saved registration (private chat only)

Reply "cancel" at any question to abort.

Admin: /verify <user_id> [txn_ref], /reject <user_id> [reason], /pending, /paymentsummary, /export`

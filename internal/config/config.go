package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	TelegramToken string

	DataFile string
	UPIID    string

	AdminTGIDs map[int64]bool

	// Surface chats. Payments and registration are required; fixtures and
	// results only exist so the startup check can report on them.
	PaymentsChatID     int64
	RegistrationChatID int64
	FixturesChatID     int64
	ResultsChatID      int64

	HTTPAddr      string
	BasePublicURL string
	ExportSecret  string

	// Optional Google Sheets roster export.
	SpreadsheetID            string
	GoogleServiceAccountJSON string
}

func FromEnv() (Config, error) {
	var c Config
	c.TelegramToken = strings.TrimSpace(os.Getenv("TELEGRAM_BOT_TOKEN"))

	c.DataFile = strings.TrimSpace(os.Getenv("DATA_FILE"))
	if c.DataFile == "" {
		c.DataFile = "data.json"
	}
	c.UPIID = strings.TrimSpace(os.Getenv("UPI_ID"))
	if c.UPIID == "" {
		c.UPIID = "fragnation@upi"
	}

	c.HTTPAddr = strings.TrimSpace(os.Getenv("HTTP_ADDR"))
	if c.HTTPAddr == "" {
		c.HTTPAddr = ":8080"
	}
	c.BasePublicURL = strings.TrimRight(strings.TrimSpace(os.Getenv("BASE_PUBLIC_URL")), "/")
	c.ExportSecret = strings.TrimSpace(os.Getenv("EXPORT_TOKEN_SECRET"))
	if c.ExportSecret == "" {
		c.ExportSecret = "change-me"
	}

	c.SpreadsheetID = strings.TrimSpace(os.Getenv("GOOGLE_SHEETS_SPREADSHEET_ID"))
	c.GoogleServiceAccountJSON = strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_JSON"))

	if c.TelegramToken == "" {
		return c, fmt.Errorf("TELEGRAM_BOT_TOKEN is empty")
	}

	var err error
	if c.PaymentsChatID, err = chatID("PAYMENTS_CHAT_ID", true); err != nil {
		return c, err
	}
	if c.RegistrationChatID, err = chatID("REGISTRATION_CHAT_ID", true); err != nil {
		return c, err
	}
	if c.FixturesChatID, err = chatID("FIXTURES_CHAT_ID", false); err != nil {
		return c, err
	}
	if c.ResultsChatID, err = chatID("RESULTS_CHAT_ID", false); err != nil {
		return c, err
	}

	c.AdminTGIDs = parseAdminIDs(os.Getenv("ADMIN_TG_IDS"))

	return c, nil
}

func chatID(env string, required bool) (int64, error) {
	raw := strings.TrimSpace(os.Getenv(env))
	if raw == "" {
		if required {
			return 0, fmt.Errorf("%s is empty", env)
		}
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", env, err)
	}
	return v, nil
}

func parseAdminIDs(raw string) map[int64]bool {
	m := map[int64]bool{}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return m
	}
	parts := strings.Split(raw, ",")
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		v, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			continue
		}
		m[v] = true
	}
	return m
}

package server

import (
	"encoding/json"
	"net/http"

	"fragnation-bot/internal/config"
	"fragnation-bot/internal/tgbot"
	"fragnation-bot/internal/util"
)

// New builds the keep-alive HTTP server: a liveness root for hosting
// platforms that ping the process, plus an HMAC-tokened CSV export of the
// payment index for staff.
func New(cfg config.Config, bot *tgbot.App) *http.Server {
	mux := http.NewServeMux()

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("Bot is alive!"))
	})

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ok": true,
			"ts": util.NowISO(),
		})
	})

	// Admin-only link; the token is handed out by the /export command.
	mux.HandleFunc("/export/payments.csv", func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("token")
		if token == "" {
			http.Error(w, "token required", http.StatusBadRequest)
			return
		}
		expected := util.HMACSHA256Hex(cfg.ExportSecret, "export:payments")
		if token != expected {
			http.Error(w, "invalid token", http.StatusForbidden)
			return
		}
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", `attachment; filename="payments.csv"`)
		_, _ = w.Write([]byte(bot.BuildPaymentsCSV()))
	})

	return &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: mux,
	}
}

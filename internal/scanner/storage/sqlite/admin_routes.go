package sqlite

import (
	"fmt"
	"net/http"

	"github.com/tailscale/tailsql/server/tailsql"
	"tailscale.com/tsweb"

	"github.com/banshee-data/safety.scanner/internal/httputil"
)

// AttachAdminRoutes mounts tailsql and a session listing under /debug/.
func (s *Store) AttachAdminRoutes(mux *http.ServeMux) error {
	debug := tsweb.Debugger(mux)
	// create a tailSQL instance and point it to our DB
	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("failed to create tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://"+s.path, s.DB, &tailsql.DBOptions{
		Label: "Scanner sessions",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.Handle("sessions", "Recent scanner sessions (JSON)", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !httputil.RequireMethod(w, r, http.MethodGet) {
			return
		}
		limit, err := httputil.QueryPositiveInt(r, "limit", 20)
		if err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
		sessions, err := s.Sessions(limit)
		if err != nil {
			httputil.InternalServerError(w, fmt.Sprintf("failed to list sessions: %v", err))
			return
		}

		type row struct {
			ID         string `json:"id"`
			Device     string `json:"device"`
			ScanRange  string `json:"scan_range"`
			StartedAt  string `json:"started_at"`
			EndedAt    string `json:"ended_at,omitempty"`
			FinalPhase string `json:"final_phase,omitempty"`
		}
		out := make([]row, 0, len(sessions))
		for _, sess := range sessions {
			rr := row{
				ID:         sess.ID,
				Device:     sess.Device,
				ScanRange:  sess.ScanRange.String(),
				StartedAt:  sess.StartedAt.UTC().Format(timeLayout),
				FinalPhase: sess.FinalPhase,
			}
			if !sess.EndedAt.IsZero() {
				rr.EndedAt = sess.EndedAt.UTC().Format(timeLayout)
			}
			out = append(out, rr)
		}
		httputil.WriteJSONOK(w, out)
	}))
	return nil
}

const timeLayout = "2006-01-02T15:04:05.000Z07:00"

package profiles

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/tailscale/tailsql/server/tailsql"
	"tailscale.com/tsweb"
)

// AttachAdminRoutes mounts profile debugging on the /debug/ handler of mux:
// a tailsql console over the database and a JSON listing of profiles.
func (s *Store) AttachAdminRoutes(mux *http.ServeMux) error {
	debug := tsweb.Debugger(mux)

	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("failed to create tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://"+s.path, s.db, &tailsql.DBOptions{
		Label: "Profiles DB",
	})
	debug.Handle("tailsql/", "SQL live debugging of saved profiles", tsql.NewMux())

	debug.HandleFunc("profiles", "Saved configuration profiles (JSON); ?name= selects one", s.handleProfiles)
	return nil
}

func (s *Store) handleProfiles(w http.ResponseWriter, r *http.Request) {
	var (
		body any
		err  error
	)
	if name := r.URL.Query().Get("name"); name != "" {
		body, err = s.Get(r.Context(), name)
	} else {
		body, err = s.List(r.Context())
	}
	switch {
	case errors.Is(err, ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(body); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

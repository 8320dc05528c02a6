package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/zalando/go-keyring"
)

// fakeInstagram serves the private API endpoints a scrape touches. The
// target "target" has three followers over two pages.
type fakeInstagram struct {
	server *httptest.Server

	mu     sync.Mutex
	logins int
}

var fakeFollowers = map[string]string{"1": "alice", "2": "bob", "3": "carol"}

func newFakeInstagram(t *testing.T) *fakeInstagram {
	t.Helper()
	f := &fakeInstagram{}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /accounts/login/", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"status": "fail", "message": err.Error()})
			return
		}
		enc := r.PostForm.Get("enc_password")
		if enc[strings.LastIndex(enc, ":")+1:] != "secret" {
			writeJSON(w, http.StatusBadRequest, map[string]interface{}{
				"status":              "fail",
				"message":             "The password you entered is incorrect.",
				"invalid_credentials": true,
			})
			return
		}
		f.mu.Lock()
		f.logins++
		f.mu.Unlock()
		http.SetCookie(w, &http.Cookie{Name: "sessionid", Value: "sess-1", Path: "/"})
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":         "ok",
			"logged_in_user": map[string]interface{}{"pk": 42, "username": r.PostForm.Get("username")},
		})
	})
	mux.HandleFunc("GET /feed/timeline/", authed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}))
	mux.HandleFunc("GET /users/{name}/usernameinfo/", authed(func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("name") != "target" {
			writeJSON(w, http.StatusNotFound, map[string]string{"status": "fail", "message": "User not found"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status": "ok",
			"user":   map[string]interface{}{"pk": 1000, "username": "target", "follower_count": 3},
		})
	}))
	mux.HandleFunc("GET /friendships/1000/followers/", authed(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("max_id") == "" {
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"status":      "ok",
				"users":       []map[string]interface{}{{"pk": 1, "username": "alice"}, {"pk": 2, "username": "bob"}},
				"next_max_id": "2",
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status": "ok",
			"users":  []map[string]interface{}{{"pk": 3, "username": "carol"}},
		})
	}))
	mux.HandleFunc("GET /users/{id}/info/", authed(func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status": "ok",
			"user":   map[string]interface{}{"pk": id, "username": fakeFollowers[id], "follower_count": 5},
		})
	}))

	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeInstagram) loginCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.logins
}

func authed(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ck, err := r.Cookie("sessionid"); err != nil || ck.Value != "sess-1" {
			writeJSON(w, http.StatusForbidden, map[string]string{"status": "fail", "message": "login_required"})
			return
		}
		next(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// isolate points every per-user directory and setting at a temp dir
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	keyring.MockInit()

	t.Setenv("HOME", dir)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "config"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(dir, "data"))
	t.Setenv("IGFOLLOWERS_PASSPHRASE", "test-passphrase")
	t.Setenv("IGFOLLOWERS_USERNAME", "")
	t.Setenv("IGFOLLOWERS_PASSWORD", "")
	t.Setenv("IGFOLLOWERS_DB_DRIVER", "memory")
	t.Setenv("IGFOLLOWERS_LOG_LEVEL", "error")
	return dir
}

// useFakeInstagram configures a fast scrape against f with a login
func useFakeInstagram(t *testing.T, f *fakeInstagram) {
	t.Helper()
	t.Setenv("IGFOLLOWERS_BASE_URL", f.server.URL)
	t.Setenv("IGFOLLOWERS_USERNAME", "mylogin")
	t.Setenv("IGFOLLOWERS_PASSWORD", "secret")
	t.Setenv("IGFOLLOWERS_REQUEST_DELAY", "0s")
	t.Setenv("IGFOLLOWERS_BATCH_DELAY", "0s")
	t.Setenv("IGFOLLOWERS_POLL_INTERVAL", "10ms")
	t.Setenv("IGFOLLOWERS_REQUESTS_PER_MINUTE", "6000")
	t.Setenv("IGFOLLOWERS_BATCH_SIZE", "2")
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--no-color"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

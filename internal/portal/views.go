package portal

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/goodtune/labportal/internal/dashboard"
	"github.com/goodtune/labportal/internal/identity"
	"github.com/goodtune/labportal/internal/metrics"
	"github.com/gorilla/mux"
)

// pageData is passed to every page template.
type pageData struct {
	Title           string
	PageID          string
	User            *identity.Record
	Notices         []Notice
	NoticeTimeoutMS int64
	Redirect        *redirect

	Labs         []Lab
	Categories   []category
	LoginForm    LoginForm
	RegisterForm RegisterForm
	Summary      dashboard.Summary
	Lab          Lab
	Tracking     *trackingView
}

// redirect is a delayed client-side navigation.
type redirect struct {
	URL     string
	Seconds int
}

type category struct {
	Name string
	Labs []Lab
}

type trackingView struct {
	ID                  string
	HeartbeatIntervalMS int64
}

func (s *Server) newPage(r *http.Request, title, pageID string) *pageData {
	data := &pageData{Title: title, PageID: pageID}
	if auth, ok := AuthFromContext(r.Context()); ok && auth.IsValid() {
		if record, ok := auth.Record(); ok {
			data.User = &record
		}
	}
	return data
}

func (s *Server) redirectAfter(url string, delay time.Duration) *redirect {
	secs := int((delay + time.Second - 1) / time.Second)
	return &redirect{URL: url, Seconds: secs}
}

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	data := s.newPage(r, "Virtual Labs", "home")
	data.Labs = s.config.Labs
	data.Categories = groupLabs(s.config.Labs)
	s.render(w, http.StatusOK, "home.html", data)
}

func groupLabs(labs []Lab) []category {
	var out []category
	index := make(map[string]int)
	for _, lab := range labs {
		i, ok := index[lab.Category]
		if !ok {
			i = len(out)
			index[lab.Category] = i
			out = append(out, category{Name: lab.Category})
		}
		out[i].Labs = append(out[i].Labs, lab)
	}
	return out
}

func (s *Server) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	s.render(w, http.StatusOK, "login.html", s.newPage(r, "Login", "login"))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	form := parseLoginForm(r)
	data := s.newPage(r, "Login", "login")
	data.LoginForm = form

	if !form.CanSubmit() {
		s.render(w, http.StatusBadRequest, "login.html", data)
		return
	}

	res, err := s.provider.AuthWithPassword(r.Context(), form.Identity, form.Password)
	if err != nil {
		metrics.AuthAttempts.WithLabelValues("login", "failure").Inc()
		if !errors.Is(err, identity.ErrInvalidCredentials) {
			s.logger.Warn().Err(err).Msg("Login failed")
		}
		data.Notices = []Notice{{Kind: NoticeError, Text: msgInvalidCredentials}}
		s.render(w, http.StatusUnauthorized, "login.html", data)
		return
	}

	if err := s.signIn(w, r, res); err != nil {
		s.logger.Error().Err(err).Msg("Failed to save session")
		data.Notices = []Notice{{Kind: NoticeError, Text: msgInvalidCredentials}}
		s.render(w, http.StatusInternalServerError, "login.html", data)
		return
	}
	metrics.AuthAttempts.WithLabelValues("login", "success").Inc()

	s.logger.Info().
		Str("user_id", res.Record.ID).
		Str("username", res.Record.Username).
		Msg("User logged in")

	data.User = &res.Record
	data.Notices = []Notice{{Kind: NoticeSuccess, Text: msgLoginSuccess}}
	data.Redirect = s.redirectAfter("/", s.config.RedirectDelay)
	s.render(w, http.StatusOK, "login.html", data)
}

func (s *Server) handleRegisterPage(w http.ResponseWriter, r *http.Request) {
	data := s.newPage(r, "Register", "register")
	data.RegisterForm = RegisterForm{minPasswordLength: s.config.MinPasswordLength}
	s.render(w, http.StatusOK, "register.html", data)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	form := parseRegisterForm(r, s.config.MinPasswordLength)
	data := s.newPage(r, "Register", "register")
	data.RegisterForm = form

	if !form.CanSubmit() {
		s.render(w, http.StatusBadRequest, "register.html", data)
		return
	}

	_, err := s.provider.Create(r.Context(), identity.CreateRequest{
		Username:        form.Username,
		Email:           form.Email,
		EmailVisibility: true,
		Password:        form.Password,
		PasswordConfirm: form.PasswordConfirm,
	})
	if err != nil {
		metrics.AuthAttempts.WithLabelValues("register", "failure").Inc()
		s.logger.Warn().Err(err).Str("username", form.Username).Msg("Registration failed")

		status := http.StatusBadRequest
		if errors.Is(err, identity.ErrUnavailable) {
			status = http.StatusServiceUnavailable
		}
		data.Notices = RegistrationNotices(err)
		s.render(w, status, "register.html", data)
		return
	}
	metrics.AuthAttempts.WithLabelValues("register", "success").Inc()

	data.Notices = []Notice{{Kind: NoticeSuccess, Text: msgAccountCreating}}

	if err := sleep(r.Context(), s.config.PostRegisterPause); err != nil {
		return
	}

	res, err := s.provider.AuthWithPassword(r.Context(), form.Email, form.Password)
	if err == nil {
		err = s.signIn(w, r, res)
	}
	if err != nil {
		s.logger.Warn().Err(err).Str("username", form.Username).Msg("Login after registration failed")
		data.Notices = append(data.Notices,
			Notice{Kind: NoticeSuccess, Text: msgAccountCreated},
			Notice{Kind: NoticeInfo, Text: msgPleaseLogin},
		)
		data.Redirect = s.redirectAfter("/login", s.config.LoginFallbackDelay)
		s.render(w, http.StatusCreated, "register.html", data)
		return
	}

	s.logger.Info().
		Str("user_id", res.Record.ID).
		Str("username", res.Record.Username).
		Msg("User registered and logged in")

	data.User = &res.Record
	data.Notices = append(data.Notices, Notice{Kind: NoticeSuccess, Text: msgLoginSuccess})
	data.Redirect = s.redirectAfter("/", s.config.RedirectDelay)
	s.render(w, http.StatusCreated, "register.html", data)
}

// signIn stores the authenticated session and sets the session cookie.
func (s *Server) signIn(w http.ResponseWriter, r *http.Request, res *identity.AuthResult) error {
	auth, ok := AuthFromContext(r.Context())
	if !ok {
		auth = s.sessions.New()
	}
	if err := auth.Save(r.Context(), res.Token, res.Record); err != nil {
		return err
	}
	setSessionCookie(w, auth, s.config.SecureCookies, s.clock.Now())
	metrics.SessionsActive.Set(float64(s.sessions.Active()))
	return nil
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if auth, ok := AuthFromContext(r.Context()); ok {
		if err := auth.Clear(r.Context()); err != nil {
			s.logger.Error().Err(err).Msg("Logout error")
		}
	}
	clearSessionCookie(w, s.config.SecureCookies)
	metrics.SessionsActive.Set(float64(s.sessions.Active()))
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	auth, _ := AuthFromContext(r.Context())
	record, _ := auth.Record()

	records, err := s.stats.Records(r.Context(), record.ID)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", record.ID).Msg("Failed to load usage records")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	data := s.newPage(r, "Dashboard", "dashboard")
	data.Summary = dashboard.Build(record, records)
	data.Categories = groupLabs(s.config.Labs)
	s.render(w, http.StatusOK, "dashboard.html", data)
}

func (s *Server) handleLab(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	lab, ok := s.findLab(vars["category"], vars["lab"])
	if !ok {
		http.NotFound(w, r)
		return
	}

	auth, _ := AuthFromContext(r.Context())
	data := s.newPage(r, lab.Name, "lab")
	data.Lab = lab

	if id, ok := s.tracking.Open(r.Context(), auth, lab.Name, lab.Category); ok {
		data.Tracking = &trackingView{
			ID:                  id,
			HeartbeatIntervalMS: s.config.HeartbeatInterval.Milliseconds(),
		}
	}

	s.render(w, http.StatusOK, "lab.html", data)
}

func (s *Server) findLab(category, name string) (Lab, bool) {
	for _, lab := range s.config.Labs {
		if lab.Category == category && lab.Name == name {
			return lab, true
		}
	}
	return Lab{}, false
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

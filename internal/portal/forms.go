package portal

import (
	"fmt"
	"net/http"
	"unicode/utf8"
)

// LoginForm is the submitted login view.
type LoginForm struct {
	Identity      string
	Password      string
	TermsAccepted bool
}

func parseLoginForm(r *http.Request) LoginForm {
	return LoginForm{
		Identity:      r.PostFormValue("identity"),
		Password:      r.PostFormValue("password"),
		TermsAccepted: r.PostFormValue("terms") != "",
	}
}

// CanSubmit reports whether the submit control is enabled.
func (f LoginForm) CanSubmit() bool {
	return f.Identity != "" && f.Password != "" && f.TermsAccepted
}

// RegisterForm is the submitted registration view.
type RegisterForm struct {
	Username        string
	Email           string
	Password        string
	PasswordConfirm string
	TermsAccepted   bool

	minPasswordLength int
}

func parseRegisterForm(r *http.Request, minPasswordLength int) RegisterForm {
	return RegisterForm{
		Username:          r.PostFormValue("username"),
		Email:             r.PostFormValue("email"),
		Password:          r.PostFormValue("password"),
		PasswordConfirm:   r.PostFormValue("passwordConfirm"),
		TermsAccepted:     r.PostFormValue("terms") != "",
		minPasswordLength: minPasswordLength,
	}
}

// PasswordHint is shown under the password field.
func (f RegisterForm) PasswordHint() string {
	if f.Password != "" && utf8.RuneCountInString(f.Password) < f.minPasswordLength {
		return fmt.Sprintf("Password must be at least %d characters", f.minPasswordLength)
	}
	return ""
}

// ConfirmHint is shown under the confirmation field.
func (f RegisterForm) ConfirmHint() string {
	if f.PasswordConfirm != "" && f.Password != f.PasswordConfirm {
		return "Passwords don't match"
	}
	return ""
}

// CanSubmit reports whether the submit control is enabled: every field is
// filled in, terms are accepted, and the password is long enough and
// confirmed.
func (f RegisterForm) CanSubmit() bool {
	return f.Username != "" &&
		f.Email != "" &&
		f.Password != "" &&
		f.PasswordConfirm != "" &&
		f.TermsAccepted &&
		utf8.RuneCountInString(f.Password) >= f.minPasswordLength &&
		f.Password == f.PasswordConfirm
}

// MinPasswordLength is exposed for the template's minlength attribute.
func (f RegisterForm) MinPasswordLength() int {
	return f.minPasswordLength
}

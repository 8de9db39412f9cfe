package authcore

import (
	"sort"
	"time"
)

// SecurityReport summarizes the security-relevant settings of a configuration.
type SecurityReport struct {
	Profile          string
	Strict           bool
	SigningAlgorithm string
	AccessTTL        time.Duration
	RefreshTTL       time.Duration
	Argon2           PasswordConfigReport

	LockoutActive       bool
	LoginThrottleActive bool
	CookieSecure        bool
	CookieSameSite      string
	CSRFHTTPOnly        bool
	AuditEnabled        bool

	// Sources and CredentialStore are only filled by Engine.SecurityReport.
	Sources         []AuthSource
	CredentialStore bool
}

type PasswordConfigReport struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// SecurityReport describes cfg without building an engine.
func (c Config) SecurityReport() SecurityReport {
	return SecurityReport{
		Profile:          c.Security.Profile,
		Strict:           c.Security.Strict(),
		SigningAlgorithm: c.JWT.SigningMethod,
		AccessTTL:        c.JWT.AccessTTL,
		RefreshTTL:       c.JWT.RefreshTTL,
		Argon2: PasswordConfigReport{
			Memory:      c.Password.Memory,
			Time:        c.Password.Time,
			Parallelism: c.Password.Parallelism,
			SaltLength:  c.Password.SaltLength,
			KeyLength:   c.Password.KeyLength,
		},
		LockoutActive:       c.Lockout.Threshold > 0,
		LoginThrottleActive: c.RateLimit.LoginRate > 0,
		CookieSecure:        c.Cookie.Secure,
		CookieSameSite:      c.Cookie.SameSite,
		CSRFHTTPOnly:        c.Cookie.CSRFHTTPOnly,
		AuditEnabled:        c.Audit.Enabled,
	}
}

// SecurityReport describes the running engine, including its credential sources.
func (e *Engine) SecurityReport() SecurityReport {
	if e == nil {
		return SecurityReport{}
	}
	r := e.config.SecurityReport()
	for src := range e.verifiers {
		r.Sources = append(r.Sources, src)
	}
	sort.Slice(r.Sources, func(i, j int) bool { return r.Sources[i] < r.Sources[j] })
	r.CredentialStore = e.credentials != nil
	return r
}

// Warnings lists settings that are valid but weaken the deployment.
func (r SecurityReport) Warnings() []string {
	var out []string
	if !r.Strict {
		out = append(out, "profile "+r.Profile+" relaxes secret and cookie checks")
	}
	if !r.LockoutActive {
		out = append(out, "account lockout is disabled")
	}
	if !r.LoginThrottleActive {
		out = append(out, "per-IP login throttle is disabled")
	}
	if !r.CookieSecure {
		out = append(out, "cookies are sent without the Secure attribute")
	}
	if r.CookieSameSite == "none" {
		out = append(out, "cookies use SameSite=None")
	}
	if !r.AuditEnabled {
		out = append(out, "audit events are disabled")
	}
	if r.Argon2.Memory < 64*1024 {
		out = append(out, "argon2 memory is below 64 MiB")
	}
	if r.AccessTTL > time.Hour {
		out = append(out, "access tokens live longer than one hour")
	}
	return out
}

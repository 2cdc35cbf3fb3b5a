package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// SessionCookie represents a browser cookie in the Playwright export format
type SessionCookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires"`
	HTTPOnly bool    `json:"httpOnly"`
	Secure   bool    `json:"secure"`
	SameSite string  `json:"sameSite,omitempty"`
}

// CookieKey identifies a cookie by name and domain
type CookieKey struct {
	Name   string
	Domain string
}

// Key returns the identity of the cookie
func (c SessionCookie) Key() CookieKey {
	return CookieKey{Name: c.Name, Domain: c.Domain}
}

// IsSession reports whether the cookie has no expiry
func (c SessionCookie) IsSession() bool {
	return c.Expires <= 0
}

// ExpiresAt returns the expiry time, zero for session cookies
func (c SessionCookie) ExpiresAt() time.Time {
	if c.IsSession() {
		return time.Time{}
	}
	sec := int64(c.Expires)
	nsec := int64((c.Expires - float64(sec)) * float64(time.Second))
	return time.Unix(sec, nsec)
}

// UnmarshalJSON accepts both Playwright exports and browser extension
// exports (expirationDate, session, lowercase sameSite values).
func (c *SessionCookie) UnmarshalJSON(data []byte) error {
	type plain SessionCookie
	var raw struct {
		plain
		ExpirationDate *float64 `json:"expirationDate"`
		Session        bool     `json:"session"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*c = SessionCookie(raw.plain)
	if c.Expires == 0 && raw.ExpirationDate != nil {
		c.Expires = *raw.ExpirationDate
	}
	if raw.Session {
		c.Expires = -1
	}
	if c.Path == "" {
		c.Path = "/"
	}
	c.SameSite = NormalizeSameSite(c.SameSite)
	return nil
}

// NormalizeSameSite maps the known spellings to Strict, Lax or None.
// Unknown or unspecified values become empty.
func NormalizeSameSite(value string) string {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "strict":
		return "Strict"
	case "lax":
		return "Lax"
	case "none", "no_restriction":
		return "None"
	default:
		return ""
	}
}

// RequiredCookie binds a cookie name to the only domain it is accepted from
type RequiredCookie struct {
	Name   string `json:"name"`
	Domain string `json:"domain"`
}

func (r RequiredCookie) String() string {
	return r.Name + "@" + r.Domain
}

// RequiredCookieSet is the ordered set of cookies a refresh must produce
type RequiredCookieSet []RequiredCookie

// DefaultRequiredCookies are the essential cookies issued by the portal
var DefaultRequiredCookies = RequiredCookieSet{
	{Name: "_cl", Domain: ".manheim.com"},
	{Name: "SESSION", Domain: ".manheim.com"},
	{Name: "session", Domain: "mcom-header-footer.manheim.com"},
	{Name: "session.sig", Domain: "mcom-header-footer.manheim.com"},
}

// Names returns the cookie names in order
func (s RequiredCookieSet) Names() []string {
	names := make([]string, len(s))
	for i, r := range s {
		names[i] = r.Name
	}
	return names
}

func (s RequiredCookieSet) String() string {
	parts := make([]string, len(s))
	for i, r := range s {
		parts[i] = r.String()
	}
	return strings.Join(parts, ",")
}

// ParseRequiredCookies parses "name@domain,name@domain".
// The last '@' separates name and domain.
func ParseRequiredCookies(value string) (RequiredCookieSet, error) {
	var set RequiredCookieSet
	seen := make(map[string]bool)

	for _, item := range strings.Split(value, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		idx := strings.LastIndex(item, "@")
		if idx <= 0 || idx == len(item)-1 {
			return nil, fmt.Errorf("invalid required cookie %q, expected name@domain", item)
		}
		name := item[:idx]
		if seen[name] {
			return nil, fmt.Errorf("required cookie %q listed twice", name)
		}
		seen[name] = true
		set = append(set, RequiredCookie{Name: name, Domain: item[idx+1:]})
	}

	if len(set) == 0 {
		return nil, fmt.Errorf("required cookie set is empty")
	}
	return set, nil
}

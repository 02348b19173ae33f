package state

import (
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"
)

// StoredCookie is the persisted form of one cookie held by a Jar.
type StoredCookie struct {
	Name     string    `json:"name"`
	Value    string    `json:"value"`
	Domain   string    `json:"domain"`
	Path     string    `json:"path,omitempty"`
	Expires  time.Time `json:"expires,omitzero"`
	Secure   bool      `json:"secure,omitempty"`
	HTTPOnly bool      `json:"httpOnly,omitempty"`
}

func (c StoredCookie) expired(now time.Time) bool {
	return !c.Expires.IsZero() && !c.Expires.After(now)
}

// Jar is a host-keyed cookie store that can be exported and restored.
// It implements http.CookieJar.
type Jar struct {
	mu      sync.RWMutex
	cookies map[string]map[string]StoredCookie // domain -> name -> cookie
	now     func() time.Time
}

var _ http.CookieJar = (*Jar)(nil)

// NewJar returns an empty Jar.
func NewJar() *Jar {
	return &Jar{cookies: make(map[string]map[string]StoredCookie), now: time.Now}
}

// SetCookies stores cookies received from u. Cookies with a negative MaxAge
// or an expiry in the past delete any stored cookie of the same name.
func (j *Jar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	if u == nil || len(cookies) == 0 {
		return
	}
	host := canonicalHost(u.Hostname())
	now := j.now()

	j.mu.Lock()
	defer j.mu.Unlock()
	for _, c := range cookies {
		if c == nil || c.Name == "" {
			continue
		}
		domain := host
		if c.Domain != "" {
			domain = canonicalHost(c.Domain)
		}
		sc := StoredCookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HttpOnly,
		}
		switch {
		case c.MaxAge < 0:
			sc.Expires = now
		case c.MaxAge > 0:
			sc.Expires = now.Add(time.Duration(c.MaxAge) * time.Second)
		case !c.Expires.IsZero():
			sc.Expires = c.Expires
		}
		if sc.expired(now) {
			if byName, ok := j.cookies[domain]; ok {
				delete(byName, c.Name)
			}
			continue
		}
		byName, ok := j.cookies[domain]
		if !ok {
			byName = make(map[string]StoredCookie)
			j.cookies[domain] = byName
		}
		byName[c.Name] = sc
	}
}

// Cookies returns the unexpired cookies that apply to u.
func (j *Jar) Cookies(u *url.URL) []*http.Cookie {
	if u == nil {
		return nil
	}
	matched := j.forHost(canonicalHost(u.Hostname()))
	out := make([]*http.Cookie, 0, len(matched))
	for _, c := range matched {
		out = append(out, &http.Cookie{Name: c.Name, Value: c.Value})
	}
	return out
}

// Lookup returns the value of the named cookie visible to host.
func (j *Jar) Lookup(host, name string) (string, bool) {
	for _, c := range j.forHost(canonicalHost(host)) {
		if c.Name == name {
			return c.Value, true
		}
	}
	return "", false
}

// Header renders the cookies visible to host as a Cookie header value.
func (j *Jar) Header(host string) string {
	matched := j.forHost(canonicalHost(host))
	parts := make([]string, 0, len(matched))
	for _, c := range matched {
		parts = append(parts, c.Name+"="+c.Value)
	}
	return strings.Join(parts, "; ")
}

// forHost returns matching cookies sorted by name, with the most specific
// domain winning on name collisions.
func (j *Jar) forHost(host string) []StoredCookie {
	now := j.now()
	j.mu.RLock()
	defer j.mu.RUnlock()

	best := make(map[string]StoredCookie)
	for domain, byName := range j.cookies {
		if !domainMatch(host, domain) {
			continue
		}
		for name, c := range byName {
			if c.expired(now) {
				continue
			}
			if prev, ok := best[name]; ok && len(prev.Domain) > len(c.Domain) {
				continue
			}
			best[name] = c
		}
	}
	out := make([]StoredCookie, 0, len(best))
	for _, c := range best {
		out = append(out, c)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Name < out[b].Name })
	return out
}

// Export returns every unexpired cookie in a stable order.
func (j *Jar) Export() []StoredCookie {
	now := j.now()
	j.mu.RLock()
	defer j.mu.RUnlock()
	var out []StoredCookie
	for _, byName := range j.cookies {
		for _, c := range byName {
			if !c.expired(now) {
				out = append(out, c)
			}
		}
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].Domain != out[b].Domain {
			return out[a].Domain < out[b].Domain
		}
		return out[a].Name < out[b].Name
	})
	return out
}

// Import replaces the jar contents with cookies.
func (j *Jar) Import(cookies []StoredCookie) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.cookies = make(map[string]map[string]StoredCookie)
	for _, c := range cookies {
		if c.Name == "" {
			continue
		}
		c.Domain = canonicalHost(c.Domain)
		byName, ok := j.cookies[c.Domain]
		if !ok {
			byName = make(map[string]StoredCookie)
			j.cookies[c.Domain] = byName
		}
		byName[c.Name] = c
	}
}

// Clear removes every cookie.
func (j *Jar) Clear() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.cookies = make(map[string]map[string]StoredCookie)
}

func canonicalHost(h string) string {
	return strings.TrimPrefix(strings.ToLower(strings.TrimSpace(h)), ".")
}

func domainMatch(host, domain string) bool {
	if host == domain {
		return true
	}
	return strings.HasSuffix(host, "."+domain)
}

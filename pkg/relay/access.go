package relay

import "crypto/subtle"

// AccessPolicy decides whether a request may use the relay.
type AccessPolicy struct {
	Required bool
	Secret   string
}

// Allow reports whether key grants access. When access is required, an
// unset secret denies everyone, so a misconfigured server looks the same
// as a wrong key from the outside.
func (p AccessPolicy) Allow(key string) bool {
	if !p.Required {
		return true
	}
	if p.Secret == "" || key == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(key), []byte(p.Secret)) == 1
}

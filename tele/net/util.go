package telenet

import (
	"net"
	"net/url"
	"strings"

	"github.com/juju/errors"
)

func addrString(a net.Addr) string {
	if a == nil {
		return ""
	}
	return a.String()
}

// parseURI accepts tcp://host:port and unix:///path
func parseURI(s string) (scheme, address string, err error) {
	u, err := url.ParseRequestURI(s)
	if err != nil {
		return "", "", err
	}
	switch u.Scheme {
	case "tcp":
		return u.Scheme, u.Host, nil
	case "unix":
		if u.Path == "" {
			return "", "", errors.NotValidf("unix url=%s without path", s)
		}
		return u.Scheme, u.Path, nil
	}
	return "", "", errors.NotSupportedf("url=%s scheme", s)
}

// IsTimeout is true for ErrTimeout and network timeouts.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if t, ok := errors.Cause(err).(interface{ Timeout() bool }); ok && t.Timeout() {
		return true
	}
	return errors.IsTimeout(err) || strings.HasSuffix(err.Error(), "i/o timeout")
}

type timeoutError struct{}

func (timeoutError) Error() string   { return "timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

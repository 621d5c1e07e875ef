// Package route models the decision returned for a request: go direct, or
// go through a typed upstream proxy.
package route

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Scheme is the protocol spoken to an upstream proxy.
type Scheme uint8

const (
	HTTP Scheme = iota + 1
	HTTPS
	SOCKS4
	SOCKS5
)

// String returns the scheme name.
func (s Scheme) String() string {
	switch s {
	case HTTP:
		return "HTTP"
	case HTTPS:
		return "HTTPS"
	case SOCKS4:
		return "SOCKS4"
	case SOCKS5:
		return "SOCKS5"
	default:
		return "Scheme(" + strconv.Itoa(int(s)) + ")"
	}
}

// keyword is the PAC directive for the scheme.
func (s Scheme) keyword() string {
	switch s {
	case HTTP:
		return "PROXY"
	case SOCKS4:
		return "SOCKS"
	default:
		return s.String()
	}
}

// URLScheme is the scheme used in proxy URLs understood by net/http.
func (s Scheme) URLScheme() string {
	switch s {
	case HTTP:
		return "http"
	case HTTPS:
		return "https"
	case SOCKS4:
		return "socks4"
	case SOCKS5:
		return "socks5"
	default:
		return ""
	}
}

// Route is either Direct or a proxy endpoint. The zero value is Direct.
type Route struct {
	Scheme Scheme // zero for Direct
	Host   string
	Port   uint16
}

// Direct returns the route for connecting to the origin without a proxy.
func Direct() Route {
	return Route{}
}

// Proxy returns a proxy route. It does not validate its arguments; use
// Validate or Parse when the values come from configuration.
func Proxy(scheme Scheme, host string, port uint16) Route {
	return Route{Scheme: scheme, Host: host, Port: port}
}

// IsDirect reports whether r is the direct route.
func (r Route) IsDirect() bool {
	return r.Scheme == 0
}

// Address returns host:port of the proxy, or "" for Direct.
func (r Route) Address() string {
	if r.IsDirect() {
		return ""
	}
	return net.JoinHostPort(r.Host, strconv.Itoa(int(r.Port)))
}

// String renders the route as a PAC directive, e.g. "PROXY squid:3128".
func (r Route) String() string {
	if r.IsDirect() {
		return "DIRECT"
	}
	return r.Scheme.keyword() + " " + r.Address()
}

// Kind is a low-cardinality label for the route: "direct" or the
// lower-case scheme name.
func (r Route) Kind() string {
	if r.IsDirect() {
		return "direct"
	}
	return strings.ToLower(r.Scheme.String())
}

// Validate checks the proxy invariants.
func (r Route) Validate() error {
	if r.IsDirect() {
		if r.Host != "" || r.Port != 0 {
			return &SpecError{Raw: r.String(), Reason: "direct route carries an address"}
		}
		return nil
	}
	if r.Scheme > SOCKS5 {
		return &SpecError{Raw: r.String(), Reason: "unknown scheme"}
	}
	if r.Host == "" {
		return &SpecError{Raw: r.String(), Reason: "empty proxy host"}
	}
	if r.Port == 0 {
		return &SpecError{Raw: r.String(), Reason: "port must be in 1-65535"}
	}
	return nil
}

// SpecError reports route text that cannot be parsed.
type SpecError struct {
	Raw    string
	Reason string
}

func (e *SpecError) Error() string {
	return fmt.Sprintf("invalid route %q: %s", e.Raw, e.Reason)
}

var keywords = map[string]Scheme{
	"PROXY":  HTTP,
	"HTTP":   HTTP,
	"HTTPS":  HTTPS,
	"SOCKS":  SOCKS4,
	"SOCKS4": SOCKS4,
	"SOCKS5": SOCKS5,
}

// Parse reads a PAC-style route: "DIRECT", "<SCHEME> host:port" or a bare
// "host:port", which means a plain HTTP proxy.
func Parse(text string) (Route, error) {
	raw := text
	text = strings.TrimSpace(text)
	if text == "" {
		return Route{}, &SpecError{Raw: raw, Reason: "empty route"}
	}
	if strings.Contains(text, ";") {
		return Route{}, &SpecError{Raw: raw, Reason: "only a single directive is supported"}
	}

	fields := strings.Fields(text)
	var (
		scheme Scheme
		addr   string
	)
	switch len(fields) {
	case 1:
		if strings.EqualFold(fields[0], "DIRECT") {
			return Direct(), nil
		}
		if _, ok := keywords[strings.ToUpper(fields[0])]; ok {
			return Route{}, &SpecError{Raw: raw, Reason: "missing proxy address"}
		}
		scheme, addr = HTTP, fields[0]
	case 2:
		s, ok := keywords[strings.ToUpper(fields[0])]
		if !ok {
			return Route{}, &SpecError{Raw: raw, Reason: fmt.Sprintf("unknown scheme %q", fields[0])}
		}
		scheme, addr = s, fields[1]
	default:
		return Route{}, &SpecError{Raw: raw, Reason: "expected \"<SCHEME> host:port\""}
	}

	host, portText, err := net.SplitHostPort(addr)
	if err != nil {
		return Route{}, &SpecError{Raw: raw, Reason: "address must be host:port"}
	}
	port, err := strconv.ParseUint(portText, 10, 16)
	if err != nil || port == 0 {
		return Route{}, &SpecError{Raw: raw, Reason: "port must be in 1-65535"}
	}

	r := Proxy(scheme, host, uint16(port))
	if err := r.Validate(); err != nil {
		return Route{}, &SpecError{Raw: raw, Reason: err.(*SpecError).Reason}
	}
	return r, nil
}

// MustParse is like Parse but panics on error.
func MustParse(text string) Route {
	r, err := Parse(text)
	if err != nil {
		panic(err)
	}
	return r
}

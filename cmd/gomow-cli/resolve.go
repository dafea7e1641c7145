package main

import (
	"fmt"
	"net"
	"sort"
	"strings"
)

func normalizeName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	replacer := strings.NewReplacer(" ", "", "-", "", "_", "")
	return replacer.Replace(name)
}

// matchMethod finds the fully-qualified method ("pkg.Service.Method") whose
// short name matches input, ignoring case and separators.
func matchMethod(input string, methods []string) (string, error) {
	needle := normalizeName(input)
	var found []string
	for _, method := range methods {
		short := method
		if idx := strings.LastIndex(method, "."); idx >= 0 {
			short = method[idx+1:]
		}
		if normalizeName(short) == needle {
			found = append(found, method)
		}
	}
	switch len(found) {
	case 1:
		return found[0], nil
	case 0:
		available := append([]string(nil), methods...)
		sort.Strings(available)
		return "", fmt.Errorf("method %q not found. Available: %s", input, strings.Join(available, ", "))
	default:
		sort.Strings(found)
		return "", fmt.Errorf("method %q is ambiguous: %s", input, strings.Join(found, ", "))
	}
}

// dialable turns a listen address such as "0.0.0.0:9010" or ":9010" into
// one a client can connect to.
func dialable(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return net.JoinHostPort(host, port)
}

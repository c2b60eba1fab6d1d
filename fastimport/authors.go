// SPDX-License-Identifier: BSD-2-Clause

package fastimport

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strings"
	"time"
)

// Contributor associates a repository login with a git identity.
type Contributor struct {
	Login    string
	FullName string
	Email    string
	// TZ is a numeric offset such as "+0100" or an IANA zone name.
	TZ string
}

// Incomplete tells whether the entry still needs a human to fill it in.
func (cb Contributor) Incomplete() bool {
	return cb.Login == cb.FullName || !strings.Contains(cb.Email, "@")
}

func (cb Contributor) String() string {
	out := fmt.Sprintf("%s = %s <%s>", cb.Login, cb.FullName, cb.Email)
	if cb.TZ != "" {
		out += " " + cb.TZ
	}
	return out
}

// location resolves TZ, or returns nil for UTC.
func (cb Contributor) location() (*time.Location, error) {
	if cb.TZ == "" {
		return nil, nil
	}
	if t, err := time.Parse("-0700", cb.TZ); err == nil {
		_, offset := t.Zone()
		return time.FixedZone(cb.TZ, offset), nil
	}
	return time.LoadLocation(cb.TZ)
}

// AuthorMap maps logins to contributors.
type AuthorMap map[string]Contributor

var authorLineRE = regexp.MustCompile(`^([^ =]+) *= *([^<]*)<([^<>]*)> *(.*)$`)

// ReadAuthorMap parses lines of the form
//
//	login = Full Name <email> [timezone]
//
// Blank lines and lines starting with '#' are ignored.
func ReadAuthorMap(r io.Reader) (AuthorMap, error) {
	am := make(AuthorMap)
	scanner := bufio.NewScanner(r)
	lineno := 0
	for scanner.Scan() {
		lineno++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		m := authorLineRE.FindStringSubmatch(line)
		if m == nil {
			return nil, fmt.Errorf("author map line %d is ill-formed: %q", lineno, line)
		}
		cb := Contributor{
			Login:    m[1],
			FullName: strings.TrimSpace(m[2]),
			Email:    strings.TrimSpace(m[3]),
			TZ:       strings.TrimSpace(m[4]),
		}
		if _, err := cb.location(); err != nil {
			return nil, fmt.Errorf("author map line %d: bad timezone %q: %w", lineno, cb.TZ, err)
		}
		am[cb.Login] = cb
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return am, nil
}

// Suffix adds an address domain to entries lacking one.
func (am AuthorMap) Suffix(domain string) {
	for k, cb := range am {
		if !strings.Contains(cb.Email, "@") {
			cb.Email += "@" + domain
			am[k] = cb
		}
	}
}

// Write dumps the map sorted by login, optionally only the entries
// still needing attention.
func (am AuthorMap) Write(w io.Writer, incomplete bool) error {
	logins := make([]string, 0, len(am))
	for k := range am {
		logins = append(logins, k)
	}
	sort.Strings(logins)
	for _, login := range logins {
		cb := am[login]
		if incomplete && !cb.Incomplete() {
			continue
		}
		if _, err := fmt.Fprintln(w, cb); err != nil {
			return err
		}
	}
	return nil
}

// Observe adds a placeholder for a login the map does not know yet.
func (am AuthorMap) Observe(login, fullname string) {
	if login == "" {
		return
	}
	if _, ok := am[login]; ok {
		return
	}
	if fullname == "" {
		fullname = login
	}
	am[login] = Contributor{Login: login, FullName: fullname, Email: login}
}

package syncer

import (
	"fmt"
	"net/url"
	"strings"
)

// Endpoint is a parsed sqlitecloud:// connection string: the two
// derived HTTPS endpoints cloudsync_network_init stashes on the
// connection, plus the credential extracted from the query string.
type Endpoint struct {
	Host     string
	Port     string
	Database string
	APIKey   string
	Token    string

	Check  string
	Upload string
}

const defaultPort = "443"

// ParseConnString parses a sqlitecloud://HOST[:PORT]/DATABASE?apikey=K
// (or ?token=T) connection string per spec.md §6, deriving the check
// and upload endpoints:
//
//	check  = https://HOST:PORT/v1/cloudsync/DATABASE/SITEID
//	upload = check + "/upload"
//
// siteID is the connection's own site id hex string, folded into the
// check endpoint at parse time since it never changes for the life of
// the connection.
func ParseConnString(raw, siteIDHex string) (Endpoint, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Endpoint{}, fmt.Errorf("syncer: parse connection string: %w", err)
	}
	if u.Scheme != "sqlitecloud" {
		return Endpoint{}, fmt.Errorf("syncer: unsupported scheme %q, want sqlitecloud", u.Scheme)
	}
	if u.Hostname() == "" {
		return Endpoint{}, fmt.Errorf("syncer: connection string has no host")
	}
	database := strings.TrimPrefix(u.Path, "/")
	if database == "" {
		return Endpoint{}, fmt.Errorf("syncer: connection string has no database")
	}

	port := u.Port()
	if port == "" {
		port = defaultPort
	}

	ep := Endpoint{
		Host:     u.Hostname(),
		Port:     port,
		Database: database,
		APIKey:   u.Query().Get("apikey"),
		Token:    u.Query().Get("token"),
	}
	if ep.APIKey == "" && ep.Token == "" {
		return Endpoint{}, fmt.Errorf("syncer: connection string has neither apikey nor token")
	}

	ep.Check = fmt.Sprintf("https://%s:%s/v1/cloudsync/%s/%s", ep.Host, ep.Port, ep.Database, siteIDHex)
	ep.Upload = ep.Check + "/upload"
	return ep, nil
}

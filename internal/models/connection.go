package models

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// SourceSystem names the backend that owns a data point's data.
type SourceSystem string

const (
	SourceSQLServer SourceSystem = "sqlserver"
	SourceFile      SourceSystem = "file"
)

var sourceSystemAliases = map[string]SourceSystem{
	"sqlserver": SourceSQLServer,
	"mssql":     SourceSQLServer,
	"sql":       SourceSQLServer,
	"file":      SourceFile,
	"access":    SourceFile,
	"desktop":   SourceFile,
}

// SourceSystems lists every supported backend in a stable order.
func SourceSystems() []SourceSystem {
	return []SourceSystem{SourceSQLServer, SourceFile}
}

func ParseSourceSystem(raw string) (SourceSystem, error) {
	s, ok := sourceSystemAliases[strings.ToLower(strings.TrimSpace(raw))]
	if !ok {
		return "", fmt.Errorf("unknown source system %q", raw)
	}
	return s, nil
}

func (s SourceSystem) Valid() bool {
	return s == SourceSQLServer || s == SourceFile
}

// ConnectionProfile holds the parameters needed to reach one source system.
// SQL Server profiles use the network fields; file profiles only use Path.
type ConnectionProfile struct {
	ID         string       `json:"id,omitempty" db:"id"`
	System     SourceSystem `json:"system" db:"source_system" mapstructure:"system"`
	Host       string       `json:"host,omitempty" db:"host" mapstructure:"host"`
	Port       int          `json:"port,omitempty" db:"port" mapstructure:"port"`
	Instance   string       `json:"instance,omitempty" db:"instance" mapstructure:"instance"`
	Database   string       `json:"database,omitempty" db:"db_name" mapstructure:"database"`
	Username   string       `json:"username,omitempty" db:"username" mapstructure:"username"`
	Password   string       `json:"password,omitempty" db:"-" mapstructure:"password"` // plaintext, stored encrypted
	Integrated bool         `json:"integrated,omitempty" db:"integrated" mapstructure:"integrated"`
	Encrypt    string       `json:"encrypt,omitempty" db:"encrypt" mapstructure:"encrypt"`
	Path       string       `json:"path,omitempty" db:"file_path" mapstructure:"path"`
	UpdatedAt  time.Time    `json:"updated_at,omitempty" db:"updated_at"`
}

// DSN builds the driver connection string for the profile.
func (p ConnectionProfile) DSN() (string, error) {
	switch p.System {
	case SourceSQLServer:
		if p.Host == "" {
			return "", fmt.Errorf("sqlserver profile requires a host")
		}
		host := p.Host
		if p.Port > 0 {
			host = host + ":" + strconv.Itoa(p.Port)
		}
		u := &url.URL{Scheme: "sqlserver", Host: host}
		if p.Instance != "" {
			u.Path = "/" + p.Instance
		}
		q := url.Values{}
		if p.Database != "" {
			q.Set("database", p.Database)
		}
		if p.Encrypt != "" {
			q.Set("encrypt", p.Encrypt)
		}
		// Without user info the driver falls back to the platform's integrated auth.
		if !p.Integrated {
			if p.Username == "" {
				return "", fmt.Errorf("sqlserver profile requires a username or integrated auth")
			}
			u.User = url.UserPassword(p.Username, p.Password)
		}
		u.RawQuery = q.Encode()
		return u.String(), nil
	case SourceFile:
		if p.Path == "" {
			return "", fmt.Errorf("file profile requires a path")
		}
		return "file:" + p.Path + "?mode=ro", nil
	default:
		return "", fmt.Errorf("unknown source system: %s", p.System)
	}
}

// RedactedPassword replaces passwords in API responses.
const RedactedPassword = "********"

// Redacted returns a copy safe to hand to API clients.
func (p ConnectionProfile) Redacted() ConnectionProfile {
	if p.Password != "" {
		p.Password = RedactedPassword
	}
	return p
}

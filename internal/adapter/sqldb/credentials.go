// Package sqldb answers questions over a relational table: it turns a
// question into a read-only SELECT, runs it, and renders the rows.
package sqldb

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"

	"wikichat/internal/domain"
	"wikichat/internal/infra/config"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
)

// Credentials are the externally supplied connection settings. The DSN is
// assembled from them and handed to the driver as-is.
type Credentials struct {
	Driver   string
	Host     string
	Port     int
	User     string
	Password string
	Database string
	Params   map[string]string
}

// CredentialsFromConfig copies the connection fields of cfg.
func CredentialsFromConfig(cfg config.SQLConfig) Credentials {
	return Credentials{
		Driver:   cfg.Driver,
		Host:     cfg.Host,
		Port:     cfg.Port,
		User:     cfg.User,
		Password: cfg.Password,
		Database: cfg.Database,
		Params:   cfg.Params,
	}
}

// Validate reports missing fields as ErrMissingCredentials.
func (c Credentials) Validate() error {
	const op = "sqldb.Credentials.Validate"

	var missing []string
	switch c.Driver {
	case DriverSQLite:
		if c.Database == "" {
			missing = append(missing, "database")
		}
	case DriverMySQL, DriverPostgres:
		if c.Host == "" {
			missing = append(missing, "host")
		}
		if c.User == "" {
			missing = append(missing, "user")
		}
		if c.Password == "" {
			missing = append(missing, "password")
		}
		if c.Database == "" {
			missing = append(missing, "database")
		}
	default:
		return domain.NewSubSystemError("sqldb", op, domain.ErrInvalidInput,
			fmt.Sprintf("unsupported driver %q", c.Driver))
	}
	if len(missing) > 0 {
		return domain.NewSubSystemError("sqldb", op, domain.ErrMissingCredentials,
			c.Driver+": "+strings.Join(missing, ", "))
	}
	return nil
}

// DriverName is the database/sql driver registered for c.Driver.
func (c Credentials) DriverName() string {
	if c.Driver == DriverPostgres {
		return "pgx"
	}
	return c.Driver
}

// DSN assembles the driver-specific connection string.
func (c Credentials) DSN() string {
	switch c.Driver {
	case DriverMySQL:
		mc := mysql.NewConfig()
		mc.User = c.User
		mc.Passwd = c.Password
		mc.Net = "tcp"
		mc.Addr = net.JoinHostPort(c.Host, strconv.Itoa(c.portOr(3306)))
		mc.DBName = c.Database
		mc.ParseTime = true
		if len(c.Params) > 0 {
			mc.Params = c.Params
		}
		return mc.FormatDSN()

	case DriverPostgres:
		u := url.URL{
			Scheme: "postgres",
			User:   url.UserPassword(c.User, c.Password),
			Host:   net.JoinHostPort(c.Host, strconv.Itoa(c.portOr(5432))),
			Path:   "/" + c.Database,
		}
		u.RawQuery = c.values().Encode()
		return u.String()

	default:
		if len(c.Params) == 0 {
			return c.Database
		}
		return c.Database + "?" + c.values().Encode()
	}
}

// Redacted is DSN with the password masked, for logs.
func (c Credentials) Redacted() string {
	if c.Password == "" {
		return c.DSN()
	}
	masked := c
	masked.Password = "xxxxx"
	return masked.DSN()
}

// Dialect is the SQL dialect name used in prompts.
func (c Credentials) Dialect() string {
	switch c.Driver {
	case DriverMySQL:
		return "MySQL"
	case DriverPostgres:
		return "PostgreSQL"
	default:
		return "SQLite"
	}
}

func (c Credentials) portOr(def int) int {
	if c.Port > 0 {
		return c.Port
	}
	return def
}

func (c Credentials) values() url.Values {
	v := url.Values{}
	for k, val := range c.Params {
		v.Set(k, val)
	}
	return v
}

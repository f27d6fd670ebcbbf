package pgadapter

import (
	"fmt"
	"time"
)

// Config holds the settings for the adapter and its connection pool.
type Config struct {
	Connection        Connection
	ConnectionDetails ConnectionDetails

	// CollectionPrefix is prepended to every class name when deriving the
	// physical table name. Empty means classes map to tables verbatim.
	CollectionPrefix string
}

type Connection struct {
	Host     string
	Port     string
	User     string
	Password string
	DbName   string
	SSLMode  string
}

type ConnectionDetails struct {
	MaxConns        int32
	MinConns        int32
	ConnMaxLifetime time.Duration
}

// ConnString renders the keyword/value connection string pgx expects.
func (c Config) ConnString() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Connection.Host,
		c.Connection.Port,
		c.Connection.User,
		c.Connection.Password,
		c.Connection.DbName,
		c.Connection.SSLMode)
}

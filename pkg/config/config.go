package config

import (
	"log"
	"os"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const (
	prefix      = "mailvault"
	tableFormat = `mailvault is configured via the environment, or a .env file in the working
directory. The following environment variables can be used:

KEY	DEFAULT	REQUIRED	DESCRIPTION
{{range .}}{{usage_key .}}	{{usage_default .}}	{{usage_required .}}	{{usage_description .}}
{{end}}`
)

var (
	// Version of this build, set by main
	Version = ""

	// BuildDate for this build, set by main
	BuildDate = ""
)

// Root wraps all other configurations.
type Root struct {
	LogLevel string `required:"true" default:"info" desc:"debug, info, warn, or error"`
	Accounts string `required:"true" default:"accounts.yaml" desc:"Account definitions (YAML)"`
	Fetch    Fetch
	Storage  Storage
	Lua      Lua
	Web      Web
}

// Fetch contains the fetch engine configuration.
type Fetch struct {
	Timeout     time.Duration `required:"true" default:"30s" desc:"Default network operation timeout"`
	BatchSize   int           `required:"true" default:"100" desc:"IMAP messages per FETCH"`
	Criterion   string        `required:"true" default:"UNSEEN" desc:"Default fetching criterion"`
	SkipSpam    bool          `required:"true" default:"true" desc:"Drop messages flagged as spam?"`
	Workers     int           `required:"true" default:"4" desc:"Mailboxes fetched in parallel"`
	IgnoreTypes []string      `default:"text/calendar,application/pgp-signature" desc:"Part types never recorded as attachments"`
}

// Storage contains the blob and record store configuration.
type Storage struct {
	Type     string            `required:"true" default:"file" desc:"Blob store: file or memory"`
	Path     string            `required:"true" default:"/tmp/mailvault" desc:"Blob store path"`
	Params   map[string]string `desc:"Blob store parameters, ex: maxkb:10240"`
	Database string            `required:"true" default:"/tmp/mailvault/mailvault.db" desc:"Record database file"`
}

// Lua contains the Lua extension host configuration.
type Lua struct {
	Path string `required:"true" default:"mailvault.lua" desc:"Lua script path"`
}

// Web contains the monitor HTTP server configuration.
type Web struct {
	Addr           string `required:"true" default:"127.0.0.1:9000" desc:"Monitor server host:port"`
	MonitorHistory int    `required:"true" default:"30" desc:"Monitor remembered messages"`
}

// Process loads an optional .env file, then parses configuration from the environment.
// Variables already present in the environment take precedence over the .env file.
func Process() (*Root, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	c := &Root{}
	err := envconfig.Process(prefix, c)
	return c, err
}

// Usage prints out the envconfig usage to Stderr.
func Usage() {
	tabs := tabwriter.NewWriter(os.Stderr, 1, 0, 4, ' ', 0)
	if err := envconfig.Usagef(prefix, &Root{}, tabs, tableFormat); err != nil {
		log.Fatalf("Unable to parse env config: %v", err)
	}
	tabs.Flush()
}

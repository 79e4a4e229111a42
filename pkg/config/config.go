package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/kballard/go-shellquote"
	"gopkg.in/ini.v1"
)

const (
	DefaultUser          = "root"
	DefaultDevicePrefix  = "sdb"
	DefaultPartPower     = 18
	DefaultZoneMax       = 9
	DefaultSSHTimeout    = 60 * time.Second
	DefaultCopyTimeout   = 360 * time.Second
	DefaultDeployTimeout = 500 * time.Second
	DefaultLogName       = "swiftfleet.log"
	DefaultReportDir     = "/var/lib/swiftfleet/reports"
	DefaultMetadataDir   = "/etc/delta/swift"
	DefaultConfDir       = "/etc/swift"
	DefaultLockFile      = "/etc/delta/swift.lock"
	DefaultDBFile        = "/var/lib/swiftfleet/fleet.db"
	DefaultDevicesDir    = "/srv/node"
	DefaultAgentPath     = "/usr/local/bin/swiftfleet"
)

// ErrMissingKey is matched by every MissingKeyError
var ErrMissingKey = errors.New("missing required configuration key")

// MissingKeyError reports a required key absent from the configuration file
type MissingKeyError struct {
	Section string
	Key     string
}

func (e *MissingKeyError) Error() string {
	return fmt.Sprintf("missing required key %q in section [%s]", e.Key, e.Section)
}

func (e *MissingKeyError) Is(target error) bool {
	return target == ErrMissingKey
}

// InvalidValueError reports a key whose value cannot be converted
type InvalidValueError struct {
	Section string
	Key     string
	Value   string
	Reason  string
}

func (e *InvalidValueError) Error() string {
	return fmt.Sprintf("invalid value %q for [%s] %s: %s", e.Value, e.Section, e.Key, e.Reason)
}

// Params is the typed parameter set of one swiftfleet process.
// It is loaded once and handed to every component that needs it.
type Params struct {
	// [storage]
	User         string
	Password     string
	NumOfReplica int
	DeviceCnt    int
	DevicePrx    string
	PartPower    int
	ZoneMax      int

	// [timeout]
	SSHTimeout    time.Duration
	CopyTimeout   time.Duration
	DeployTimeout time.Duration

	// [log]
	LogDir   string
	LogName  string
	LogLevel string
	LogJSON  bool

	// [report]
	ReportDir string

	// [paths]
	MetadataDir string
	ConfDir     string
	LockFile    string
	DBFile      string
	DevicesDir  string
	AgentPath   string

	// [propagate]
	ApplyCommand []string
	Bootstrap    bool
}

// LogFile returns the full path of the log file
func (p *Params) LogFile() string {
	return filepath.Join(p.LogDir, p.LogName)
}

// Load reads an INI configuration file into Params
func Load(path string) (*Params, error) {
	f, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return parse(f)
}

// LoadBytes parses INI content held in memory
func LoadBytes(data []byte) (*Params, error) {
	f, err := ini.Load(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return parse(f)
}

func parse(f *ini.File) (*Params, error) {
	r := &reader{file: f}

	p := &Params{
		User:         r.str("storage", "user", DefaultUser),
		Password:     r.required("storage", "password"),
		NumOfReplica: r.requiredInt("storage", "numOfReplica"),
		DeviceCnt:    r.requiredInt("storage", "deviceCnt"),
		DevicePrx:    r.str("storage", "devicePrx", DefaultDevicePrefix),
		PartPower:    r.integer("storage", "partPower", DefaultPartPower),
		ZoneMax:      r.integer("storage", "zoneMax", DefaultZoneMax),

		SSHTimeout:    r.seconds("timeout", "ssh", DefaultSSHTimeout),
		CopyTimeout:   r.seconds("timeout", "copy", DefaultCopyTimeout),
		DeployTimeout: r.seconds("timeout", "deploy", DefaultDeployTimeout),

		LogDir:   r.required("log", "dir"),
		LogName:  r.str("log", "name", DefaultLogName),
		LogLevel: r.str("log", "level", "info"),
		LogJSON:  r.boolean("log", "json", false),

		ReportDir: r.str("report", "dir", DefaultReportDir),

		MetadataDir: r.str("paths", "metadata", DefaultMetadataDir),
		ConfDir:     r.str("paths", "conf", DefaultConfDir),
		LockFile:    r.str("paths", "lock", DefaultLockFile),
		DBFile:      r.str("paths", "db", DefaultDBFile),
		DevicesDir:  r.str("paths", "devices", DefaultDevicesDir),
		AgentPath:   r.str("paths", "agent", DefaultAgentPath),

		Bootstrap: r.boolean("propagate", "bootstrap", true),
	}

	if apply := r.str("propagate", "apply", ""); apply != "" {
		words, err := shellquote.Split(apply)
		if err != nil {
			r.fail(&InvalidValueError{Section: "propagate", Key: "apply", Value: apply, Reason: err.Error()})
		}
		p.ApplyCommand = words
	}

	if r.err != nil {
		return nil, r.err
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Validate checks value ranges that the INI types cannot express
func (p *Params) Validate() error {
	switch {
	case p.NumOfReplica < 1:
		return &InvalidValueError{Section: "storage", Key: "numOfReplica", Value: strconv.Itoa(p.NumOfReplica), Reason: "must be at least 1"}
	case p.DeviceCnt < 1:
		return &InvalidValueError{Section: "storage", Key: "deviceCnt", Value: strconv.Itoa(p.DeviceCnt), Reason: "must be at least 1"}
	case p.PartPower < 1 || p.PartPower > 24:
		return &InvalidValueError{Section: "storage", Key: "partPower", Value: strconv.Itoa(p.PartPower), Reason: "must be between 1 and 24"}
	case p.ZoneMax < 1:
		return &InvalidValueError{Section: "storage", Key: "zoneMax", Value: strconv.Itoa(p.ZoneMax), Reason: "must be at least 1"}
	case strings.TrimSpace(p.DevicePrx) == "":
		return &InvalidValueError{Section: "storage", Key: "devicePrx", Value: p.DevicePrx, Reason: "must not be empty"}
	}
	return nil
}

// reader keeps the first error so parse can read every key in one pass
type reader struct {
	file *ini.File
	err  error
}

func (r *reader) fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

func (r *reader) key(section, name string) (*ini.Key, bool) {
	sec, err := r.file.GetSection(section)
	if err != nil || !sec.HasKey(name) {
		return nil, false
	}
	return sec.Key(name), true
}

func (r *reader) required(section, name string) string {
	k, ok := r.key(section, name)
	if !ok || strings.TrimSpace(k.String()) == "" {
		r.fail(&MissingKeyError{Section: section, Key: name})
		return ""
	}
	return strings.TrimSpace(k.String())
}

func (r *reader) requiredInt(section, name string) int {
	k, ok := r.key(section, name)
	if !ok {
		r.fail(&MissingKeyError{Section: section, Key: name})
		return 0
	}
	v, err := k.Int()
	if err != nil {
		r.fail(&InvalidValueError{Section: section, Key: name, Value: k.String(), Reason: "not an integer"})
	}
	return v
}

func (r *reader) str(section, name, def string) string {
	k, ok := r.key(section, name)
	if !ok || strings.TrimSpace(k.String()) == "" {
		return def
	}
	return strings.TrimSpace(k.String())
}

func (r *reader) integer(section, name string, def int) int {
	k, ok := r.key(section, name)
	if !ok {
		return def
	}
	v, err := k.Int()
	if err != nil {
		r.fail(&InvalidValueError{Section: section, Key: name, Value: k.String(), Reason: "not an integer"})
		return def
	}
	return v
}

func (r *reader) boolean(section, name string, def bool) bool {
	k, ok := r.key(section, name)
	if !ok {
		return def
	}
	v, err := k.Bool()
	if err != nil {
		r.fail(&InvalidValueError{Section: section, Key: name, Value: k.String(), Reason: "not a boolean"})
		return def
	}
	return v
}

func (r *reader) seconds(section, name string, def time.Duration) time.Duration {
	k, ok := r.key(section, name)
	if !ok {
		return def
	}
	v, err := k.Int()
	if err != nil || v <= 0 {
		r.fail(&InvalidValueError{Section: section, Key: name, Value: k.String(), Reason: "must be a positive number of seconds"})
		return def
	}
	return time.Duration(v) * time.Second
}

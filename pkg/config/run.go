package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/andrej220/rdist/internal/lg"
	"github.com/andrej220/rdist/pkg/transport"
)

const (
	DefaultServerPort    = 8044
	DefaultWorkerCommand = "rdist worker"
)

type KafkaConfig struct {
	Brokers []string `yaml:"brokers" json:"brokers" bson:"brokers"`
	Topic   string   `yaml:"topic" json:"topic" bson:"topic" validate:"required_with=Brokers"`
}

type RedisConfig struct {
	Addr    string `yaml:"addr" json:"addr" bson:"addr" validate:"omitempty,hostname_port"`
	Channel string `yaml:"channel" json:"channel" bson:"channel" validate:"required_with=Addr"`
}

type SSHConfig struct {
	KeyPath  string        `yaml:"key_path" json:"key_path" bson:"key_path"`
	Password string        `yaml:"password" json:"-" bson:"password"`
	Timeout  time.Duration `yaml:"timeout" json:"timeout" bson:"timeout"`
}

// Config is the flat set of options a session is built from.
type Config struct {
	Hosts         []string    `yaml:"hosts" json:"hosts" bson:"hosts" validate:"dive,hostspec"`
	Keyword       string      `yaml:"keyword" json:"keyword" bson:"keyword"`
	ExitFirst     bool        `yaml:"exitfirst" json:"exitfirst" bson:"exitfirst"`
	Boxing        bool        `yaml:"boxing" json:"boxing" bson:"boxing"`
	NoCapture     bool        `yaml:"nocapture" json:"nocapture" bson:"nocapture"`
	Apigen        string      `yaml:"apigen" json:"apigen" bson:"apigen"`
	ApigenOutput  string      `yaml:"apigen_output" json:"apigen_output" bson:"apigen_output" validate:"required_with=Apigen"`
	Reporter      string      `yaml:"reporter" json:"reporter" bson:"reporter" validate:"reporter"`
	Verbose       bool        `yaml:"verbose" json:"verbose" bson:"verbose"`
	StartServer   bool        `yaml:"startserver" json:"startserver" bson:"startserver"`
	ServerPort    int         `yaml:"server_port" json:"server_port" bson:"server_port" validate:"min=1,max=65535"`
	WorkerCommand string      `yaml:"worker_command" json:"worker_command" bson:"worker_command" validate:"required"`
	RemoteDir     string      `yaml:"remote_dir" json:"remote_dir" bson:"remote_dir"`
	SyncSource    string      `yaml:"sync_source" json:"sync_source" bson:"sync_source" validate:"omitempty,dir"`
	BoxCommand    []string    `yaml:"box_command" json:"box_command" bson:"box_command"`
	Suite         string      `yaml:"suite" json:"suite" bson:"suite" validate:"required"`
	SummaryFile   string      `yaml:"summary_file" json:"summary_file" bson:"summary_file"`
	Kafka         KafkaConfig `yaml:"kafka" json:"kafka" bson:"kafka"`
	Redis         RedisConfig `yaml:"redis" json:"redis" bson:"redis"`
	SSH           SSHConfig   `yaml:"ssh" json:"ssh" bson:"ssh"`
	Log           lg.Config   `yaml:"log" json:"log" bson:"log"`
}

func Default() Config {
	return Config{
		ServerPort:    DefaultServerPort,
		WorkerCommand: DefaultWorkerCommand,
		SSH:           SSHConfig{Timeout: 10 * time.Second},
		Log:           lg.Config{ServiceName: "rdist", Format: "console", MaxSizeMB: 10, MaxBackups: 3},
	}
}

// Fix resolves options that imply others.
func (c *Config) Fix() {
	if c.StartServer {
		c.Reporter = "web"
	}
	if c.NoCapture {
		c.Boxing = false
	}
	c.Reporter = strings.ToLower(strings.TrimSpace(c.Reporter))
	for i, h := range c.Hosts {
		c.Hosts[i] = strings.TrimSpace(h)
	}
}

var validate *validator.Validate

func init() {
	validate = validator.New()
	_ = validate.RegisterValidation("hostspec", validateHostSpec)
	_ = validate.RegisterValidation("reporter", validateReporter)
}

func validateHostSpec(fl validator.FieldLevel) bool {
	_, err := transport.ParseHostSpec(fl.Field().String())
	return err == nil
}

func validateReporter(fl validator.FieldLevel) bool {
	switch fl.Field().String() {
	case "", "local", "remote", "web":
		return true
	}
	return false
}

func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// HostSpecs parses the configured hosts, with the remote directory applied
// to every host that does not name its own.
func (c *Config) HostSpecs() ([]transport.HostSpec, error) {
	specs := make([]transport.HostSpec, 0, len(c.Hosts))
	for _, h := range c.Hosts {
		s, err := transport.ParseHostSpec(h)
		if err != nil {
			return nil, err
		}
		if s.Dir == "" && !s.IsLocal() && !s.IsInProc() {
			s.Dir = c.RemoteDir
		}
		specs = append(specs, s)
	}
	return specs, nil
}

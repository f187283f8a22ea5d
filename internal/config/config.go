package config

import (
	"net/url"
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/kballard/go-shellquote"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
)

// DefaultFile is looked up in the working directory when no --config is given.
const DefaultFile = "slurmjobs.toml"

// EnvPrefix prefixes every environment override, e.g. SLURMJOBS_SCRIPT_ACCOUNT.
const EnvPrefix = "SLURMJOBS"

type Config struct {
	Slurm     SlurmConfig  `mapstructure:"slurm" toml:"slurm"`
	Script    ScriptConfig `mapstructure:"script" toml:"script"`
	Files     FilesConfig  `mapstructure:"files" toml:"files"`
	HistoryDB string       `mapstructure:"history_db" toml:"history_db"`
	NotifyURL string       `mapstructure:"notify_url" toml:"notify_url"`
	LogJSON   bool         `mapstructure:"log_json" toml:"log_json"`
}

// SlurmConfig locates the workload manager's command-line tools.
type SlurmConfig struct {
	SbatchPath string `mapstructure:"sbatch_path" toml:"sbatch_path"`
	SqueuePath string `mapstructure:"squeue_path" toml:"squeue_path"`
	SacctPath  string `mapstructure:"sacct_path" toml:"sacct_path"`
	// SbatchArgs is a shell-quoted string of extra arguments placed before the script path.
	SbatchArgs string `mapstructure:"sbatch_args" toml:"sbatch_args"`
	// JobshPath enables GPU usage in monitor output when set.
	JobshPath string `mapstructure:"jobsh_path" toml:"jobsh_path"`
}

// ScriptConfig feeds the #SBATCH header and body of generated job scripts.
type ScriptConfig struct {
	Account    string   `mapstructure:"account" toml:"account"`
	GPUs       int      `mapstructure:"gpus" toml:"gpus"`
	MailUser   string   `mapstructure:"mail_user" toml:"mail_user"`
	MailType   string   `mapstructure:"mail_type" toml:"mail_type"`
	TimeLimit  string   `mapstructure:"time_limit" toml:"time_limit"`
	Command    string   `mapstructure:"command" toml:"command"`
	Directives []string `mapstructure:"directives" toml:"directives"`
}

// FilesConfig holds the default file names used by each stage.
type FilesConfig struct {
	BatchFile     string `mapstructure:"batch_file" toml:"batch_file"`
	MetadataFile  string `mapstructure:"metadata_file" toml:"metadata_file"`
	SetupScript   string `mapstructure:"setup_script" toml:"setup_script"`
	SubmitErrors  string `mapstructure:"submit_errors" toml:"submit_errors"`
	StatusFile    string `mapstructure:"status_file" toml:"status_file"`
	StatusLog     string `mapstructure:"status_log" toml:"status_log"`
	ErrorLogDir   string `mapstructure:"error_log_dir" toml:"error_log_dir"`
	CompletionLog string `mapstructure:"completion_log" toml:"completion_log"`
	RerunFile     string `mapstructure:"rerun_file" toml:"rerun_file"`
}

// SetDefaults registers every key so that environment overrides reach Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("slurm.sbatch_path", "sbatch")
	v.SetDefault("slurm.squeue_path", "squeue")
	v.SetDefault("slurm.sacct_path", "sacct")
	v.SetDefault("slurm.sbatch_args", "")
	v.SetDefault("slurm.jobsh_path", "")

	v.SetDefault("script.account", "")
	v.SetDefault("script.gpus", 0)
	v.SetDefault("script.mail_user", "")
	v.SetDefault("script.mail_type", "END")
	v.SetDefault("script.time_limit", "07:00:00")
	v.SetDefault("script.command", "python main.py")
	v.SetDefault("script.directives", []string{})

	v.SetDefault("files.batch_file", "batches.json")
	v.SetDefault("files.metadata_file", "job_metadata.json")
	v.SetDefault("files.setup_script", "setup_env.sh")
	v.SetDefault("files.submit_errors", "job_submission_errors.json")
	v.SetDefault("files.status_file", "job_status.json")
	v.SetDefault("files.status_log", "job_status.log")
	v.SetDefault("files.error_log_dir", "error_logs")
	v.SetDefault("files.completion_log", "batch_completion.log")
	v.SetDefault("files.rerun_file", "rerun_batches.txt")

	v.SetDefault("history_db", "")
	v.SetDefault("notify_url", "")
	v.SetDefault("log_json", false)
}

// New returns a Viper instance wired with defaults and environment binding.
// configPath may be empty, in which case DefaultFile is read when present.
func New(configPath string) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)

	if configPath == "" {
		if _, err := os.Stat(DefaultFile); err != nil {
			return v, nil
		}
		configPath = DefaultFile
	}

	v.SetConfigFile(configPath)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "read config file %s", configPath)
	}
	return v, nil
}

// Load reads and validates the configuration.
func Load(configPath string) (*Config, error) {
	v, err := New(configPath)
	if err != nil {
		return nil, err
	}
	return FromViper(v)
}

// FromViper unmarshals and validates the configuration held by v.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "unmarshal config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	for key, val := range map[string]string{
		"slurm.sbatch_path": c.Slurm.SbatchPath,
		"slurm.squeue_path": c.Slurm.SqueuePath,
		"slurm.sacct_path":  c.Slurm.SacctPath,
	} {
		if strings.TrimSpace(val) == "" {
			return errors.Newf("%s must not be empty", key)
		}
	}
	if _, err := c.SbatchArgs(); err != nil {
		return err
	}
	if c.Script.GPUs < 0 {
		return errors.Newf("script.gpus must be >= 0, got %d", c.Script.GPUs)
	}
	if strings.TrimSpace(c.Script.TimeLimit) == "" {
		return errors.New("script.time_limit must not be empty")
	}
	if strings.TrimSpace(c.Script.Command) == "" {
		return errors.New("script.command must not be empty")
	}
	if c.NotifyURL != "" {
		u, err := url.Parse(c.NotifyURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return errors.WithHint(
				errors.Newf("notify_url %q is not an http(s) URL", c.NotifyURL),
				"set notify_url to an address like https://hooks.example.org/slurm")
		}
	}
	return nil
}

// SbatchArgs splits the configured extra sbatch arguments.
func (c *Config) SbatchArgs() ([]string, error) {
	args, err := shellquote.Split(c.Slurm.SbatchArgs)
	if err != nil {
		return nil, errors.Wrapf(err, "slurm.sbatch_args %q", c.Slurm.SbatchArgs)
	}
	return args, nil
}

// TOML renders the effective configuration in the config file format.
func (c *Config) TOML() ([]byte, error) {
	out, err := toml.Marshal(c)
	if err != nil {
		return nil, errors.Wrap(err, "encode config")
	}
	return out, nil
}

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	apperrors "canvas-aux/internal/errors"
)

// EnvPrefix is the prefix for environment overrides, e.g.
// CANVAS_AUX_DATABASE_DEFAULT_HOST.
const EnvPrefix = "CANVAS_AUX"

// DefaultConfigName is the file searched for when no --config is given
const DefaultConfigName = "canvas_aux"

// DatabaseSection holds the [DATABASE] keys
type DatabaseSection struct {
	DefaultHost     string `mapstructure:"default_host" yaml:"default_host"`
	DefaultUser     string `mapstructure:"default_user" yaml:"default_user"`
	Port            int    `mapstructure:"port" yaml:"port"`
	AuxiliaryDBName string `mapstructure:"canvas_auxiliary_db_name" yaml:"canvas_auxiliary_db_name"`
	CanvasDBName    string `mapstructure:"canvas_db_name" yaml:"canvas_db_name"`
	PasswordFile    string `mapstructure:"canvas_pwd_file" yaml:"canvas_pwd_file"`
}

// TestMachineSection holds the [TESTMACHINE] keys
type TestMachineSection struct {
	MySQLHost string `mapstructure:"mysql_host" yaml:"mysql_host"`
	MySQLUser string `mapstructure:"mysql_user" yaml:"mysql_user"`
}

// PathsSection holds the [PATHS] keys
type PathsSection struct {
	TemplateDir string `mapstructure:"template_dir" yaml:"template_dir"`
	DataDir     string `mapstructure:"data_dir" yaml:"data_dir"`
	ExportDir   string `mapstructure:"export_dir" yaml:"export_dir"`
}

// ExternalSection holds the [EXTERNAL] keys for the catalog preparer
type ExternalSection struct {
	CatalogURL   string `mapstructure:"catalog_url" yaml:"catalog_url"`
	CatalogTable string `mapstructure:"catalog_table" yaml:"catalog_table"`
	CatalogFile  string `mapstructure:"catalog_file" yaml:"catalog_file"`
}

// ArchiveSection holds the [ARCHIVE] keys for publishing export archives
type ArchiveSection struct {
	Provider        string `mapstructure:"provider" yaml:"provider"`
	LocalPath       string `mapstructure:"local_path" yaml:"local_path"`
	Bucket          string `mapstructure:"bucket" yaml:"bucket"`
	Region          string `mapstructure:"region" yaml:"region"`
	Prefix          string `mapstructure:"prefix" yaml:"prefix"`
	Container       string `mapstructure:"container" yaml:"container"`
	AccountName     string `mapstructure:"account_name" yaml:"account_name"`
	AccountKeyEnv   string `mapstructure:"account_key_env" yaml:"account_key_env"`
	CredentialsFile string `mapstructure:"credentials_file" yaml:"credentials_file"`
	Compression     string `mapstructure:"compression" yaml:"compression"`
	PassphraseEnv   string `mapstructure:"passphrase_env" yaml:"passphrase_env"`
}

// Config is the parsed configuration file. It is passed explicitly to every
// component that needs it.
type Config struct {
	Database    DatabaseSection    `mapstructure:"database" yaml:"database"`
	TestMachine TestMachineSection `mapstructure:"testmachine" yaml:"testmachine"`
	Paths       PathsSection       `mapstructure:"paths" yaml:"paths"`
	External    ExternalSection    `mapstructure:"external" yaml:"external"`
	Archive     ArchiveSection     `mapstructure:"archive" yaml:"archive"`

	source string
}

// Load reads an INI configuration file. An empty path searches the working
// directory and $HOME/.config/canvas-aux for canvas_aux.ini.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("ini")

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(DefaultConfigName)
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "canvas-aux"))
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvKeys(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, apperrors.NewConfigurationError("cannot read configuration file", err).
			WithContext("path", path)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, apperrors.NewConfigurationError("cannot parse configuration file", err)
	}
	cfg.source = v.ConfigFileUsed()
	cfg.SetDefaults()

	return cfg, nil
}

// bindEnvKeys registers every known key so environment overrides reach
// Unmarshal even when the file does not mention the key.
func bindEnvKeys(v *viper.Viper) {
	for _, key := range []string{
		"database.default_host", "database.default_user", "database.port",
		"database.canvas_auxiliary_db_name", "database.canvas_db_name", "database.canvas_pwd_file",
		"testmachine.mysql_host", "testmachine.mysql_user",
		"paths.template_dir", "paths.data_dir", "paths.export_dir",
		"external.catalog_url", "external.catalog_table", "external.catalog_file",
		"archive.provider", "archive.local_path", "archive.bucket", "archive.region",
		"archive.prefix", "archive.container", "archive.account_name", "archive.account_key_env",
		"archive.credentials_file", "archive.compression", "archive.passphrase_env",
	} {
		_ = v.BindEnv(key)
	}
}

// SetDefaults fills optional keys
func (c *Config) SetDefaults() {
	if c.Database.Port == 0 {
		c.Database.Port = 3306
	}
	if c.Paths.TemplateDir == "" {
		c.Paths.TemplateDir = "sql"
	}
	if c.Paths.DataDir == "" {
		c.Paths.DataDir = "data"
	}
	if c.Paths.ExportDir == "" {
		c.Paths.ExportDir = "exports"
	}
	if c.External.CatalogFile == "" {
		c.External.CatalogFile = "course_catalog.csv"
	}
	if c.Archive.Provider == "" {
		c.Archive.Provider = "local"
	}
	if c.Archive.Compression == "" {
		c.Archive.Compression = "gzip"
	}
}

// Source returns the path of the file the configuration was read from
func (c *Config) Source() string {
	return c.source
}

// Validate checks the keys every verb needs
func (c *Config) Validate() error {
	return c.ValidateConnection(false)
}

// ValidateConnection checks the keys needed to reach the auxiliary schema.
// The password file is optional when the password is given on the command
// line.
func (c *Config) ValidateConnection(passwordSupplied bool) error {
	var missing []string

	if c.Database.DefaultHost == "" {
		missing = append(missing, "DATABASE.default_host")
	}
	if c.Database.DefaultUser == "" {
		missing = append(missing, "DATABASE.default_user")
	}
	if c.Database.AuxiliaryDBName == "" {
		missing = append(missing, "DATABASE.canvas_auxiliary_db_name")
	}
	if c.Database.PasswordFile == "" && !passwordSupplied {
		missing = append(missing, "DATABASE.canvas_pwd_file")
	}

	if len(missing) > 0 {
		return apperrors.NewConfigurationError(
			fmt.Sprintf("missing configuration keys: %s", strings.Join(missing, ", ")), nil)
	}
	return nil
}

// ValidateTestMachine checks the [TESTMACHINE] keys
func (c *Config) ValidateTestMachine() error {
	var missing []string
	if c.TestMachine.MySQLHost == "" {
		missing = append(missing, "TESTMACHINE.mysql_host")
	}
	if c.TestMachine.MySQLUser == "" {
		missing = append(missing, "TESTMACHINE.mysql_user")
	}
	if len(missing) > 0 {
		return apperrors.NewConfigurationError(
			fmt.Sprintf("missing configuration keys: %s", strings.Join(missing, ", ")), nil)
	}
	return nil
}

// Substitutions returns the values for the template placeholders. The
// production schema name is only required when templates are resolved.
func (c *Config) Substitutions() (map[string]string, error) {
	if c.Database.CanvasDBName == "" {
		return nil, apperrors.NewConfigurationError("missing configuration key: DATABASE.canvas_db_name", nil)
	}
	if c.Database.AuxiliaryDBName == "" {
		return nil, apperrors.NewConfigurationError("missing configuration key: DATABASE.canvas_auxiliary_db_name", nil)
	}

	dataDir, err := filepath.Abs(c.Paths.DataDir)
	if err != nil {
		return nil, apperrors.NewConfigurationError("cannot resolve data directory", err)
	}

	return map[string]string{
		"canvas_db":  c.Database.CanvasDBName,
		"canvas_aux": c.Database.AuxiliaryDBName,
		"data_dir":   dataDir,
	}, nil
}

// UseTestMachine points the database section at the [TESTMACHINE] host/user
func (c *Config) UseTestMachine() error {
	if err := c.ValidateTestMachine(); err != nil {
		return err
	}
	c.Database.DefaultHost = c.TestMachine.MySQLHost
	c.Database.DefaultUser = c.TestMachine.MySQLUser
	return nil
}

// SampleINI is printed by the config command
const SampleINI = `; canvas-aux configuration

[DATABASE]
default_host = localhost
default_user = canvasdata
port = 3306
canvas_db_name = canvasdata_prd
canvas_auxiliary_db_name = canvasdata_aux
canvas_pwd_file = /home/canvasdata/.ssh/canvas_pwd

[TESTMACHINE]
mysql_host = localhost
mysql_user = unittest

[PATHS]
template_dir = sql
data_dir = data
export_dir = exports

[EXTERNAL]
; catalog_url = https://example.edu/courses/catalog.xml
catalog_table = CourseCatalog
catalog_file = course_catalog.csv

[ARCHIVE]
; local | s3 | gcs | azure
provider = local
local_path = /var/backups/canvas-aux
compression = gzip
; bucket, region, prefix, container, account_name, account_key_env,
; credentials_file, passphrase_env
`

package config

import (
	"errors"
	"fmt"
	"time"

	"wake_covid_scrape/internal/powerbi"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

const (
	SinkGoogleSheets = "gsheets"
	SinkXLSX         = "xlsx"
)

type Settings struct {
	CredentialsFile     string
	SpreadsheetID       string
	SpreadsheetName     string
	InfectionsWorksheet string
	DeathsWorksheet     string

	Endpoint     string
	FetchTimeout time.Duration
	SheetTimeout time.Duration

	Sink     string
	XLSXPath string
	StateDir string

	NtfyEnabled  bool
	NtfyURL      string
	NtfyTopic    string
	NtfyPriority string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("google_credentials_file", "credentials.json")
	v.SetDefault("spreadsheet_id", "")
	v.SetDefault("spreadsheet_name", "Wake county municipality COVID19")
	v.SetDefault("infections_worksheet", powerbi.Infections.Worksheet)
	v.SetDefault("deaths_worksheet", powerbi.Deaths.Worksheet)
	v.SetDefault("powerbi_endpoint", powerbi.DefaultEndpoint)
	v.SetDefault("fetch_timeout", 30*time.Second)
	v.SetDefault("sheet_timeout", 30*time.Second)
	v.SetDefault("sink", SinkGoogleSheets)
	v.SetDefault("xlsx_path", "wake_covid.xlsx")
	v.SetDefault("state_dir", "")
	v.SetDefault("ntfy_enabled", false)
	v.SetDefault("ntfy_url", "https://ntfy.sh")
	v.SetDefault("ntfy_topic", "wake-covid-scrape")
	v.SetDefault("ntfy_priority", "")
}

// Load reads config.yaml from configPath if present; environment variables
// with the upper-cased key name override file values.
func Load(configPath string) (Settings, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Settings{}, fmt.Errorf("failed to read config file: %w", err)
		}
		log.Debug().Str("path", configPath).Msg("No config.yaml found, using defaults and environment")
	} else {
		log.Debug().Str("file", v.ConfigFileUsed()).Msg("Loaded config file")
	}

	s := Settings{
		CredentialsFile:     v.GetString("google_credentials_file"),
		SpreadsheetID:       v.GetString("spreadsheet_id"),
		SpreadsheetName:     v.GetString("spreadsheet_name"),
		InfectionsWorksheet: v.GetString("infections_worksheet"),
		DeathsWorksheet:     v.GetString("deaths_worksheet"),
		Endpoint:            v.GetString("powerbi_endpoint"),
		FetchTimeout:        v.GetDuration("fetch_timeout"),
		SheetTimeout:        v.GetDuration("sheet_timeout"),
		Sink:                v.GetString("sink"),
		XLSXPath:            v.GetString("xlsx_path"),
		StateDir:            v.GetString("state_dir"),
		NtfyEnabled:         v.GetBool("ntfy_enabled"),
		NtfyURL:             v.GetString("ntfy_url"),
		NtfyTopic:           v.GetString("ntfy_topic"),
		NtfyPriority:        v.GetString("ntfy_priority"),
	}

	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

func (s Settings) Validate() error {
	var errs []error

	switch s.Sink {
	case SinkGoogleSheets:
		if s.CredentialsFile == "" {
			errs = append(errs, errors.New("GOOGLE_CREDENTIALS_FILE is required for the gsheets sink"))
		}
		if s.SpreadsheetID == "" && s.SpreadsheetName == "" {
			errs = append(errs, errors.New("SPREADSHEET_ID or SPREADSHEET_NAME is required for the gsheets sink"))
		}
	case SinkXLSX:
		if s.XLSXPath == "" {
			errs = append(errs, errors.New("XLSX_PATH is required for the xlsx sink"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown SINK %q (want %s or %s)", s.Sink, SinkGoogleSheets, SinkXLSX))
	}

	if s.FetchTimeout <= 0 {
		errs = append(errs, errors.New("FETCH_TIMEOUT must be positive"))
	}
	if s.SheetTimeout <= 0 {
		errs = append(errs, errors.New("SHEET_TIMEOUT must be positive"))
	}
	if s.NtfyEnabled && (s.NtfyURL == "" || s.NtfyTopic == "") {
		errs = append(errs, errors.New("NTFY_URL and NTFY_TOPIC are required when NTFY_ENABLED is set"))
	}

	return errors.Join(errs...)
}

// Query returns the preset query for mode with the configured worksheet.
func (s Settings) Query(mode string) (powerbi.Query, error) {
	q, err := powerbi.Lookup(mode)
	if err != nil {
		return powerbi.Query{}, err
	}

	switch mode {
	case powerbi.Infections.Mode:
		if s.InfectionsWorksheet != "" {
			q.Worksheet = s.InfectionsWorksheet
		}
	case powerbi.Deaths.Mode:
		if s.DeathsWorksheet != "" {
			q.Worksheet = s.DeathsWorksheet
		}
	}
	return q, nil
}

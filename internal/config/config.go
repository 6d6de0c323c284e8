package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Paths struct {
	SharedDir     string `yaml:"shared_dir"`      // hand-off directory shared with the terminal
	SignalFile    string `yaml:"signal_file"`     // current-signal file name
	ResultFile    string `yaml:"result_file"`     // current-result file name
	TerminalDir   string `yaml:"terminal_dir"`    // execution terminal install dir
	TerminalExe   string `yaml:"terminal_exe"`    // executable name, used for liveness + restart
	MarketDataDir string `yaml:"market_data_dir"` // where the terminal streams quotes
	LogDir        string `yaml:"log_dir"`
}

type Lifecycle struct {
	PollIntervalMs    int      `yaml:"poll_interval_ms"`
	ResultTimeoutSecs int      `yaml:"result_timeout_seconds"`
	MaxSize           float64  `yaml:"max_size"`
	RetentionHours    int      `yaml:"retention_hours"` // processed/ mirror retention
	Instruments       []string `yaml:"instruments"`     // supported canonical symbols
}

type Health struct {
	CheckIntervalSecs int     `yaml:"check_interval_seconds"`
	DebounceCount     int     `yaml:"debounce_count"`
	FlowWindowMins    int     `yaml:"flow_window_minutes"` // rolling window for success rate
	StaleDataSecs     int     `yaml:"stale_data_seconds"`
	CPUWarnPct        float64 `yaml:"cpu_warn_pct"`
	CPUCritPct        float64 `yaml:"cpu_crit_pct"`
	MemWarnPct        float64 `yaml:"mem_warn_pct"`
	MemCritPct        float64 `yaml:"mem_crit_pct"`
	DiskWarnPct       float64 `yaml:"disk_warn_pct"` // used-space percent
	DiskCritPct       float64 `yaml:"disk_crit_pct"`
}

type Recovery struct {
	CooldownSecs       int      `yaml:"cooldown_seconds"` // min gap between recovery episodes per category
	RestartWaitSecs    int      `yaml:"restart_wait_seconds"`
	MaintenanceHourUTC int      `yaml:"maintenance_hour_utc"`
	EventLogPath       string   `yaml:"event_log_path"`
	TempGlobs          []string `yaml:"temp_globs"`        // reclaimed during cleanup
	CloneStagingDir    string   `yaml:"clone_staging_dir"` // staged terminal copy scrubbed for replication
	CredentialGlobs    []string `yaml:"credential_globs"`
	LogMaxAgeHours     int      `yaml:"log_max_age_hours"`
	SnapshotMaxAgeMins int      `yaml:"snapshot_max_age_minutes"`
	KeepArchiveDays    int      `yaml:"keep_archive_days"`
}

type Alerts struct {
	Enabled       bool   `yaml:"enabled"`
	WebhookURL    string `yaml:"webhook_url"`
	JournalPath   string `yaml:"journal_path"`
	RatePerMinute int    `yaml:"rate_per_minute"`
	TimeoutMs     int    `yaml:"timeout_ms"`
	MaxRetries    int    `yaml:"max_retries"`
}

type Broker struct {
	Profile         string            `yaml:"profile"` // skip detection when set
	Prefix          string            `yaml:"prefix"`
	Suffix          string            `yaml:"suffix"`
	SymbolOverrides map[string]string `yaml:"symbol_overrides"`
}

type Root struct {
	Paths       Paths     `yaml:"paths"`
	Lifecycle   Lifecycle `yaml:"lifecycle"`
	Health      Health    `yaml:"health"`
	Recovery    Recovery  `yaml:"recovery"`
	Alerts      Alerts    `yaml:"alerts"`
	Broker      Broker    `yaml:"broker"`
	MetricsAddr string    `yaml:"metrics_addr"`
}

func Load(path string) (Root, error) {
	var c Root
	b, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return c, err
	}

	if c.Paths.SharedDir == "" {
		return c, fmt.Errorf("paths.shared_dir is required")
	}
	if c.Paths.SignalFile == "" {
		c.Paths.SignalFile = "fire_signal.json"
	}
	if c.Paths.ResultFile == "" {
		c.Paths.ResultFile = "trade_result.json"
	}
	if c.Paths.TerminalExe == "" {
		c.Paths.TerminalExe = "terminal64.exe"
	}

	if c.Lifecycle.PollIntervalMs == 0 {
		c.Lifecycle.PollIntervalMs = 500
	}
	if c.Lifecycle.ResultTimeoutSecs == 0 {
		c.Lifecycle.ResultTimeoutSecs = 30
	}
	if c.Lifecycle.MaxSize == 0 {
		c.Lifecycle.MaxSize = 1.0
	}
	if c.Lifecycle.RetentionHours == 0 {
		c.Lifecycle.RetentionHours = 24
	}
	if len(c.Lifecycle.Instruments) == 0 {
		c.Lifecycle.Instruments = []string{
			"EURUSD", "GBPUSD", "USDJPY", "USDCHF", "AUDUSD", "USDCAD", "NZDUSD", "XAUUSD",
		}
	}

	if c.Health.CheckIntervalSecs == 0 {
		c.Health.CheckIntervalSecs = 30
	}
	if c.Health.DebounceCount == 0 {
		c.Health.DebounceCount = 2
	}
	if c.Health.FlowWindowMins == 0 {
		c.Health.FlowWindowMins = 60
	}
	if c.Health.StaleDataSecs == 0 {
		c.Health.StaleDataSecs = 300
	}
	if c.Health.CPUWarnPct == 0 {
		c.Health.CPUWarnPct = 80
	}
	if c.Health.CPUCritPct == 0 {
		c.Health.CPUCritPct = 95
	}
	if c.Health.MemWarnPct == 0 {
		c.Health.MemWarnPct = 85
	}
	if c.Health.MemCritPct == 0 {
		c.Health.MemCritPct = 95
	}
	if c.Health.DiskWarnPct == 0 {
		c.Health.DiskWarnPct = 85
	}
	if c.Health.DiskCritPct == 0 {
		c.Health.DiskCritPct = 95
	}

	if c.Recovery.CooldownSecs == 0 {
		c.Recovery.CooldownSecs = 900
	}
	if c.Recovery.RestartWaitSecs == 0 {
		c.Recovery.RestartWaitSecs = 10
	}
	if c.Recovery.MaintenanceHourUTC == 0 {
		c.Recovery.MaintenanceHourUTC = 3
	}
	if c.Recovery.EventLogPath == "" {
		c.Recovery.EventLogPath = "data/recovery_events.jsonl"
	}

	if c.Alerts.JournalPath == "" {
		c.Alerts.JournalPath = "data/alerts.jsonl"
	}
	if c.Alerts.RatePerMinute == 0 {
		c.Alerts.RatePerMinute = 10
	}
	if c.Alerts.TimeoutMs == 0 {
		c.Alerts.TimeoutMs = 10000
	}
	if c.Alerts.MaxRetries == 0 {
		c.Alerts.MaxRetries = 3
	}

	if c.MetricsAddr == "" {
		c.MetricsAddr = "127.0.0.1:8092"
	}

	return c, nil
}

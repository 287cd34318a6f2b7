package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

type Config struct {
	Port                   string            `mapstructure:"PORT"`
	Env                    string            `mapstructure:"ENV"`
	DatabaseURL            string            `mapstructure:"DATABASE_URL"`
	DBMaxConns             int32             `mapstructure:"DB_MAX_CONNS"`
	DBMinConns             int32             `mapstructure:"DB_MIN_CONNS"`
	AuthIssuer             string            `mapstructure:"AUTH_ISSUER"`
	AuthAudience           string            `mapstructure:"AUTH_AUDIENCE"`
	AuthSigningKey         string            `mapstructure:"AUTH_SIGNING_KEY"`
	CORSOrigins            []string          `mapstructure:"-"`
	InstitutionCode        string            `mapstructure:"INSTITUTION_CODE"`
	StornoReferralMaxAge   time.Duration     `mapstructure:"STORNO_REFERRAL_MAX_AGE"`
	StornoDefaultMaxAge    time.Duration     `mapstructure:"STORNO_DEFAULT_MAX_AGE"`
	CentralRPS             float64           `mapstructure:"CENTRAL_RPS"`
	CentralBurst           int               `mapstructure:"CENTRAL_BURST"`
	BaseTariff             decimal.Decimal   `mapstructure:"-"`
	CopayRate              decimal.Decimal   `mapstructure:"-"`
	CopayCap               decimal.Decimal   `mapstructure:"-"`
	OncologyExemptPrefixes []string          `mapstructure:"-"`
	DepartmentStaffRaw     string            `mapstructure:"DEPARTMENT_STAFF"`
	DepartmentStaff        map[string]string `mapstructure:"-"`
}

var keys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"AUTH_ISSUER", "AUTH_AUDIENCE", "AUTH_SIGNING_KEY", "CORS_ORIGINS",
	"INSTITUTION_CODE", "BASE_TARIFF", "COPAY_RATE", "COPAY_CAP",
	"ONCOLOGY_EXEMPT_PREFIXES", "STORNO_REFERRAL_MAX_AGE", "STORNO_DEFAULT_MAX_AGE",
	"DEPARTMENT_STAFF", "CENTRAL_RPS", "CENTRAL_BURST",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("INSTITUTION_CODE", "000000")
	v.SetDefault("BASE_TARIFF", "15.00")
	v.SetDefault("COPAY_RATE", "0.20")
	v.SetDefault("COPAY_CAP", "5.00")
	v.SetDefault("ONCOLOGY_EXEMPT_PREFIXES", "C")
	v.SetDefault("STORNO_REFERRAL_MAX_AGE", "72h")
	v.SetDefault("STORNO_DEFAULT_MAX_AGE", "192h")
	v.SetDefault("CENTRAL_RPS", 10)
	v.SetDefault("CENTRAL_BURST", 20)

	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// A missing .env is fine.
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.CORSOrigins = splitList(v.GetString("CORS_ORIGINS"))
	cfg.OncologyExemptPrefixes = splitList(v.GetString("ONCOLOGY_EXEMPT_PREFIXES"))
	for key, dst := range map[string]*decimal.Decimal{
		"BASE_TARIFF": &cfg.BaseTariff,
		"COPAY_RATE":  &cfg.CopayRate,
		"COPAY_CAP":   &cfg.CopayCap,
	} {
		d, err := decimal.NewFromString(strings.TrimSpace(v.GetString(key)))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		*dst = d
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// ParseDepartmentStaff reads "department=staffID,..." pairs.
func ParseDepartmentStaff(s string) (map[string]string, error) {
	out := make(map[string]string)
	for _, pair := range splitList(s) {
		dept, staff, ok := strings.Cut(pair, "=")
		dept, staff = strings.TrimSpace(dept), strings.TrimSpace(staff)
		if !ok || dept == "" || staff == "" {
			return nil, fmt.Errorf("DEPARTMENT_STAFF entry %q must be department=staffID", pair)
		}
		out[dept] = staff
	}
	return out, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks that the configuration is safe to run and fills
// DepartmentStaff.
func (c *Config) Validate() error {
	if c.Env != "development" && c.Env != "production" {
		return fmt.Errorf("ENV must be \"development\" or \"production\", got %q", c.Env)
	}
	if !c.IsDev() && c.AuthSigningKey == "" {
		return fmt.Errorf("AUTH_SIGNING_KEY is required outside development")
	}
	if !c.BaseTariff.IsPositive() {
		return fmt.Errorf("BASE_TARIFF must be positive, got %s", c.BaseTariff)
	}
	if c.CopayRate.IsNegative() || c.CopayRate.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("COPAY_RATE must be within [0,1], got %s", c.CopayRate)
	}
	if c.CopayCap.IsNegative() {
		return fmt.Errorf("COPAY_CAP must not be negative, got %s", c.CopayCap)
	}
	if c.StornoReferralMaxAge < 0 || c.StornoDefaultMaxAge < 0 {
		return fmt.Errorf("storno windows must not be negative")
	}
	if c.CentralRPS <= 0 || c.CentralBurst <= 0 {
		return fmt.Errorf("CENTRAL_RPS and CENTRAL_BURST must be positive")
	}
	if c.DepartmentStaff == nil {
		staff, err := ParseDepartmentStaff(c.DepartmentStaffRaw)
		if err != nil {
			return err
		}
		c.DepartmentStaff = staff
	}
	return nil
}

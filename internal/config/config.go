package config

import (
	"log"
	"os"
	"strings"
	"sync"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Backend selects the persistence implementation at startup.
type Backend string

const (
	BackendFlatFile Backend = "flatfile"
	BackendDatabase Backend = "database"
)

type Config struct {
	Server      ServerConfig
	Storage     StorageConfig
	Calendar    CalendarConfig
	Forecast    ForecastConfig
	MonteCarlo  MonteCarloConfig
	ExpiryAlert ExpiryAlertConfig
}

type ServerConfig struct {
	Port           string
	Mode           string
	ReadTimeout    int
	WriteTimeout   int
	AllowedOrigins []string
}

type StorageConfig struct {
	Backend      Backend
	DataDir      string
	DatabasePath string
}

type CalendarConfig struct {
	LeadTimeDaysDefault int
	OrderDays           []int
	DeliveryDays        []int
	HolidayCalendarPath string
}

type ForecastConfig struct {
	OOSLookbackDays int
	WindowWeeks     int
	AlphaBase       float64
	AlphaBoost      float64
}

type MonteCarloConfig struct {
	Distribution      string
	NSimulations      int
	RandomSeed        int64
	OutputStat        string
	OutputPercentile  int
	HorizonMode       string
	HorizonDays       int
	ExpectedWasteRate float64
}

type ExpiryAlertConfig struct {
	CriticalDays int
	WarningDays  int
}

var (
	once     sync.Once
	instance *Config
)

// Load builds the process-wide configuration once. Engine code never calls
// this at runtime; cmd/ entry points load it and thread the struct through
// constructors.
func Load() *Config {
	once.Do(func() {
		// Load .env file if it exists
		_ = godotenv.Load()

		// Set default values
		viper.SetDefault("SERVER_PORT", "8080")
		viper.SetDefault("SERVER_MODE", "release")
		viper.SetDefault("SERVER_ALLOWED_ORIGINS", []string{"*"})
		viper.SetDefault("STORAGE_BACKEND", string(BackendFlatFile))
		viper.SetDefault("APP_DATA_DIR", "./data")
		viper.SetDefault("DATABASE_PATH", "./data/scorte.db")
		viper.SetDefault("LEAD_TIME_DAYS_DEFAULT", 1)
		viper.SetDefault("ORDER_DAYS", "0,1,2,3,4")
		viper.SetDefault("DELIVERY_DAYS", "0,1,2,3,4,5")
		viper.SetDefault("HOLIDAY_CALENDAR_PATH", "")
		viper.SetDefault("OOS_LOOKBACK_DAYS", 30)
		viper.SetDefault("FORECAST_WINDOW_WEEKS", 12)
		viper.SetDefault("FORECAST_ALPHA_BASE", 0.3)
		viper.SetDefault("FORECAST_ALPHA_BOOST", 0.2)
		viper.SetDefault("MC_DISTRIBUTION", "empirical")
		viper.SetDefault("MC_N_SIMULATIONS", 500)
		viper.SetDefault("MC_RANDOM_SEED", 42)
		viper.SetDefault("MC_OUTPUT_STAT", "mean")
		viper.SetDefault("MC_OUTPUT_PERCENTILE", 80)
		viper.SetDefault("MC_HORIZON_MODE", "auto")
		viper.SetDefault("MC_HORIZON_DAYS", 7)
		viper.SetDefault("MC_EXPECTED_WASTE_RATE", 0.0)
		viper.SetDefault("EXPIRY_ALERT_CRITICAL_DAYS", 2)
		viper.SetDefault("EXPIRY_ALERT_WARNING_DAYS", 5)

		// Read from environment variables
		viper.AutomaticEnv()

		ensureDir(viper.GetString("APP_DATA_DIR"))

		instance = &Config{
			Server: ServerConfig{
				Port:           viper.GetString("SERVER_PORT"),
				Mode:           viper.GetString("SERVER_MODE"),
				ReadTimeout:    viper.GetInt("SERVER_READ_TIMEOUT"),
				WriteTimeout:   viper.GetInt("SERVER_WRITE_TIMEOUT"),
				AllowedOrigins: viper.GetStringSlice("SERVER_ALLOWED_ORIGINS"),
			},
			Storage: StorageConfig{
				Backend:      Backend(viper.GetString("STORAGE_BACKEND")),
				DataDir:      viper.GetString("APP_DATA_DIR"),
				DatabasePath: viper.GetString("DATABASE_PATH"),
			},
			Calendar: CalendarConfig{
				LeadTimeDaysDefault: viper.GetInt("LEAD_TIME_DAYS_DEFAULT"),
				OrderDays:           parseWeekdays(viper.GetString("ORDER_DAYS")),
				DeliveryDays:        parseWeekdays(viper.GetString("DELIVERY_DAYS")),
				HolidayCalendarPath: viper.GetString("HOLIDAY_CALENDAR_PATH"),
			},
			Forecast: ForecastConfig{
				OOSLookbackDays: viper.GetInt("OOS_LOOKBACK_DAYS"),
				WindowWeeks:     viper.GetInt("FORECAST_WINDOW_WEEKS"),
				AlphaBase:       viper.GetFloat64("FORECAST_ALPHA_BASE"),
				AlphaBoost:      viper.GetFloat64("FORECAST_ALPHA_BOOST"),
			},
			MonteCarlo: MonteCarloConfig{
				Distribution:      viper.GetString("MC_DISTRIBUTION"),
				NSimulations:      viper.GetInt("MC_N_SIMULATIONS"),
				RandomSeed:        viper.GetInt64("MC_RANDOM_SEED"),
				OutputStat:        viper.GetString("MC_OUTPUT_STAT"),
				OutputPercentile:  viper.GetInt("MC_OUTPUT_PERCENTILE"),
				HorizonMode:       viper.GetString("MC_HORIZON_MODE"),
				HorizonDays:       viper.GetInt("MC_HORIZON_DAYS"),
				ExpectedWasteRate: viper.GetFloat64("MC_EXPECTED_WASTE_RATE"),
			},
			ExpiryAlert: ExpiryAlertConfig{
				CriticalDays: viper.GetInt("EXPIRY_ALERT_CRITICAL_DAYS"),
				WarningDays:  viper.GetInt("EXPIRY_ALERT_WARNING_DAYS"),
			},
		}
	})

	return instance
}

// parseWeekdays parses "0,1,2" into weekday indices (Mon=0). Invalid tokens
// are skipped.
func parseWeekdays(s string) []int {
	var days []int
	for _, tok := range strings.Split(s, ",") {
		tok = strings.TrimSpace(tok)
		if len(tok) != 1 || tok[0] < '0' || tok[0] > '6' {
			continue
		}
		days = append(days, int(tok[0]-'0'))
	}
	return days
}

func ensureDir(dir string) {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0755); err != nil {
			log.Fatalf("Failed to create directory %s: %v", dir, err)
		}
	}
}

package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"
)

// App holds the runtime configuration loaded from environment variables.
type App struct {
	Env             string
	DataDir         string
	DatabaseFile    string
	CredentialsFile string
	APIConfigFile   string
	SyncInterval    time.Duration
	HTTPTimeout     time.Duration

	// Mock API server settings (cmd/mockapi only).
	HTTPPort        string
	JWTIssuer       string
	JWTSigningKey   string
	TokenTTL        time.Duration
	RateLimitPerMin int
}

// Load returns application config populated from environment variables with sensible defaults.
func Load() App {
	dataDir := getEnv("DATA_DIR", defaultDataDir())
	return App{
		Env:             getEnv("APP_ENV", "dev"),
		DataDir:         dataDir,
		DatabaseFile:    getEnv("DATABASE_FILE", filepath.Join(dataDir, "centerphone.db")),
		CredentialsFile: getEnv("CREDENTIALS_FILE", filepath.Join(dataDir, "credentials.json")),
		APIConfigFile:   getEnv("API_CONFIG_FILE", filepath.Join(dataDir, "api-config.json")),
		SyncInterval:    durationEnv("SYNC_INTERVAL", 5*time.Minute),
		HTTPTimeout:     durationEnv("HTTP_TIMEOUT", 30*time.Second),
		HTTPPort:        getEnv("HTTP_PORT", "8081"),
		JWTIssuer:       getEnv("JWT_ISSUER", "centerphone-mockapi"),
		JWTSigningKey:   getEnv("JWT_SIGNING_KEY", "dev-signing-secret-change"),
		TokenTTL:        durationEnv("TOKEN_TTL", 12*time.Hour),
		RateLimitPerMin: intEnv("RATE_LIMIT_PER_MIN", 120),
	}
}

// Endpoints describes the remote attendance API: base URL plus per-operation paths.
type Endpoints struct {
	BaseURL                      string `json:"baseUrl"`
	GetStudentsEndpoint          string `json:"getStudentsEndpoint"`
	GetStudentByPhoneEndpoint    string `json:"getStudentByPhoneEndpoint"`
	SetStudentAttendanceEndpoint string `json:"setStudentAttendanceEndpoint"`
	AttachStudentToCodeEndpoint  string `json:"attachStudentToCodeEndpoint"`
	GetCentersEndpoint           string `json:"getCentersEndpoint"`
	AuthenticationEndpoint       string `json:"authenticationEndpoint"`
}

// DefaultEndpoints is the hardcoded fallback used when the endpoint file
// cannot be loaded. Startup never fails on a missing or broken config file.
func DefaultEndpoints() Endpoints {
	return Endpoints{
		BaseURL:                      "https://centers.example.com",
		GetStudentsEndpoint:          "/students/list",
		GetStudentByPhoneEndpoint:    "/students/by-phone",
		SetStudentAttendanceEndpoint: "/attendance/set",
		AttachStudentToCodeEndpoint:  "/students/attach-code",
		GetCentersEndpoint:           "/centers/list",
		AuthenticationEndpoint:       "/auth/login",
	}
}

// LoadEndpoints reads the endpoint configuration file, falling back to
// DefaultEndpoints on any load or parse error.
func LoadEndpoints(path string) Endpoints {
	data, err := os.ReadFile(path)
	if err != nil {
		log.Printf("endpoint config not loaded (%v), using defaults", err)
		return DefaultEndpoints()
	}
	var eps Endpoints
	if err := json.Unmarshal(data, &eps); err != nil {
		log.Printf("endpoint config invalid (%v), using defaults", err)
		return DefaultEndpoints()
	}
	if eps.BaseURL == "" {
		log.Printf("endpoint config missing baseUrl, using defaults")
		return DefaultEndpoints()
	}
	defaults := DefaultEndpoints()
	fill(&eps.GetStudentsEndpoint, defaults.GetStudentsEndpoint)
	fill(&eps.GetStudentByPhoneEndpoint, defaults.GetStudentByPhoneEndpoint)
	fill(&eps.SetStudentAttendanceEndpoint, defaults.SetStudentAttendanceEndpoint)
	fill(&eps.AttachStudentToCodeEndpoint, defaults.AttachStudentToCodeEndpoint)
	fill(&eps.GetCentersEndpoint, defaults.GetCentersEndpoint)
	fill(&eps.AuthenticationEndpoint, defaults.AuthenticationEndpoint)
	return eps
}

func fill(field *string, fallback string) {
	if *field == "" {
		*field = fallback
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".centerphone")
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func durationEnv(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			log.Printf("invalid duration for %s: %v, using fallback %s", key, err, fallback)
			return fallback
		}
		return d
	}
	return fallback
}

func intEnv(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		var parsed int
		if _, err := fmt.Sscanf(val, "%d", &parsed); err == nil {
			return parsed
		}
		log.Printf("invalid int for %s, using fallback %d", key, fallback)
	}
	return fallback
}

package kunci

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// FileConfig is the declarative part of a client configuration. Functions
// (predicates, transforms, credential callbacks) are still supplied in code
// and combined with Options().
//
//	renewal_url: https://api.example.com/auth/refresh
//	credential_mode: storage
//	timeout: 15s
//	expired_statuses: [401]
//	encryption:
//	  marker: secure
//	  response_methods: get
//	rate_limit:
//	  max_tokens: 20
//	  refill_rate: 50ms
type FileConfig struct {
	RenewalURL      string                `yaml:"renewal_url"`
	RenewalMethod   string                `yaml:"renewal_method"`
	CredentialMode  string                `yaml:"credential_mode"`
	Timeout         time.Duration         `yaml:"timeout"`
	ExpiredStatuses []int                 `yaml:"expired_statuses"`
	Encryption      *FileEncryptionConfig `yaml:"encryption"`
	RateLimit       *FileRateLimitConfig  `yaml:"rate_limit"`
	Debug           bool                  `yaml:"debug"`
}

// FileEncryptionConfig is the policy half of EncryptionConfig.
type FileEncryptionConfig struct {
	Marker          string `yaml:"marker"`
	ResponseMethods string `yaml:"response_methods"`
	FailClosed      bool   `yaml:"fail_closed"`
}

// FileRateLimitConfig configures WithRateLimiter.
type FileRateLimitConfig struct {
	MaxTokens  int           `yaml:"max_tokens"`
	RefillRate time.Duration `yaml:"refill_rate"`
}

// LoadConfig reads and parses a YAML configuration file.
func LoadConfig(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return ParseConfig(data)
}

// ParseConfig parses YAML configuration.
func ParseConfig(data []byte) (*FileConfig, error) {
	var fc FileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &fc, nil
}

// Options converts the file configuration into client options. Unknown
// enumerated values are reported here; everything else is left to New.
func (fc *FileConfig) Options() ([]Option, error) {
	var opts []Option

	if fc.RenewalURL != "" {
		opts = append(opts, WithRenewalURL(fc.RenewalURL))
	}
	if fc.RenewalMethod != "" {
		opts = append(opts, WithRenewalMethod(strings.ToUpper(fc.RenewalMethod)))
	}

	switch strings.ToLower(fc.CredentialMode) {
	case "":
	case "web_cookie", "cookie":
		opts = append(opts, WithCredentialMode(CredentialModeWebCookie))
	case "storage":
		opts = append(opts, WithCredentialMode(CredentialModeStorage))
	default:
		return nil, fmt.Errorf("unknown credential_mode %q", fc.CredentialMode)
	}

	if fc.Timeout > 0 {
		opts = append(opts, WithTimeout(fc.Timeout))
	}
	if len(fc.ExpiredStatuses) > 0 {
		opts = append(opts, WithAuthExpiredPredicate(StatusPredicate(fc.ExpiredStatuses...)))
	}

	if fc.Encryption != nil {
		ec := EncryptionConfig{
			EncryptURLMarker: fc.Encryption.Marker,
			FailClosed:       fc.Encryption.FailClosed,
		}
		switch strings.ToLower(fc.Encryption.ResponseMethods) {
		case "":
		case "all":
			ec.ResponseMethods = ResponseMethodsAll
		case "get":
			ec.ResponseMethods = ResponseMethodsGET
		default:
			return nil, fmt.Errorf("unknown encryption.response_methods %q", fc.Encryption.ResponseMethods)
		}
		opts = append(opts, WithEncryption(ec))
	}

	if fc.RateLimit != nil {
		opts = append(opts, WithRateLimiter(fc.RateLimit.MaxTokens, fc.RateLimit.RefillRate))
	}
	if fc.Debug {
		opts = append(opts, WithSimpleLogger())
	}

	return opts, nil
}

package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/roastedbeans/certification-authority/internal/models"
	"github.com/roastedbeans/certification-authority/internal/util/logger"
)

var durationType = reflect.TypeOf(time.Duration(0))

// LoadConfig reads the YAML file at path with ${VAR} expansion, applies env
// tag overrides and defaults. Secrets are resolved separately by Resolve.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse is LoadConfig for an in-memory document.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := overrideWithEnv(reflect.ValueOf(cfg).Elem()); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

// overrideWithEnv walks nested structs and sets every field whose env tag
// names a set variable.
func overrideWithEnv(v reflect.Value) error {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		fieldVal := v.Field(i)
		if field.Type.Kind() == reflect.Struct && field.Type != durationType {
			if err := overrideWithEnv(fieldVal); err != nil {
				return err
			}
			continue
		}
		envKey := field.Tag.Get("env")
		if envKey == "" {
			continue
		}
		envValue, exists := os.LookupEnv(envKey)
		if !exists {
			continue
		}
		if err := setField(fieldVal, envValue); err != nil {
			return fmt.Errorf("env %s: %w", envKey, err)
		}
	}
	return nil
}

func setField(fieldVal reflect.Value, envValue string) error {
	if fieldVal.Type() == durationType {
		d, err := time.ParseDuration(envValue)
		if err != nil {
			return err
		}
		fieldVal.SetInt(int64(d))
		return nil
	}
	switch fieldVal.Kind() {
	case reflect.String:
		fieldVal.SetString(envValue)
	case reflect.Int, reflect.Int64:
		n, err := strconv.ParseInt(envValue, 10, 64)
		if err != nil {
			return err
		}
		fieldVal.SetInt(n)
	case reflect.Float64:
		f, err := strconv.ParseFloat(envValue, 64)
		if err != nil {
			return err
		}
		fieldVal.SetFloat(f)
	case reflect.Bool:
		b, err := strconv.ParseBool(envValue)
		if err != nil {
			return err
		}
		fieldVal.SetBool(b)
	case reflect.Slice:
		if fieldVal.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type %s", fieldVal.Type())
		}
		parts := strings.Split(envValue, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		fieldVal.Set(reflect.ValueOf(parts))
	default:
		return fmt.Errorf("unsupported kind %s", fieldVal.Kind())
	}
	return nil
}

// SecretSource and ParameterSource are satisfied by the AWS loaders.
type SecretSource interface {
	GetSecret(ctx context.Context, name string) (string, error)
}

type ParameterSource interface {
	GetParameter(ctx context.Context, name string, decrypt bool) (string, error)
}

// Resolve replaces the signing key and client registry with their remote
// values when the config names a secret or parameter. A nil source with a
// configured name is an error.
func (c *Config) Resolve(ctx context.Context, secrets SecretSource, params ParameterSource) error {
	if c.Auth.SigningKeySecret != "" {
		if secrets == nil {
			return errors.New("signing_key_secret set but no secrets source available")
		}
		key, err := secrets.GetSecret(ctx, c.Auth.SigningKeySecret)
		if err != nil {
			return fmt.Errorf("load signing key: %w", err)
		}
		c.Auth.SigningKey = strings.TrimSpace(key)
	}
	if c.ClientsParameter != "" {
		if params == nil {
			return errors.New("clients_parameter set but no parameter source available")
		}
		raw, err := params.GetParameter(ctx, c.ClientsParameter, true)
		if err != nil {
			return fmt.Errorf("load clients: %w", err)
		}
		var clients []models.Client
		if err := json.Unmarshal([]byte(raw), &clients); err != nil {
			return fmt.Errorf("decode clients parameter: %w", err)
		}
		c.Clients = clients
		logger.Infow("client registry loaded from parameter store", "clients", len(clients))
	}
	return nil
}

// Validate checks the resolved config.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	seen := make(map[string]bool, len(c.Clients))
	for _, cl := range c.Clients {
		if cl.ClientID == "" || cl.ClientSecret == "" {
			return errors.New("invalid config: client without client_id or client_secret")
		}
		if seen[cl.ClientID] {
			return fmt.Errorf("invalid config: duplicate client %s", cl.ClientID)
		}
		seen[cl.ClientID] = true
	}
	return nil
}

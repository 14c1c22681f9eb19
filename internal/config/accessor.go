package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-viper/mapstructure/v2"
)

// ErrUnknownPath is returned for a dotted path that names no config field.
var ErrUnknownPath = errors.New("unknown config path")

// lookup resolves a dotted path of json names ("relay.maxAlbumSize") to the
// field it names inside cfg.
func lookup(cfg *Config, path string) (reflect.Value, error) {
	v := reflect.ValueOf(cfg).Elem()
	if path == "" {
		return v, nil
	}
	for _, key := range strings.Split(path, ".") {
		if v.Kind() != reflect.Struct {
			return reflect.Value{}, fmt.Errorf("%w: %s", ErrUnknownPath, path)
		}
		f, ok := fieldByName(v, key)
		if !ok {
			return reflect.Value{}, fmt.Errorf("%w: %s", ErrUnknownPath, path)
		}
		v = f
	}
	return v, nil
}

func fieldByName(v reflect.Value, key string) (reflect.Value, bool) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		if jsonName(t.Field(i)) == key {
			return v.Field(i), true
		}
	}
	return reflect.Value{}, false
}

func jsonName(f reflect.StructField) string {
	name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
	if name == "" {
		return f.Name
	}
	return name
}

// GetByPath returns the value at a dotted path. A section path returns the
// whole section.
func GetByPath(cfg *Config, path string) (any, error) {
	v, err := lookup(cfg, path)
	if err != nil {
		return nil, err
	}
	return v.Interface(), nil
}

// SetByPath converts value to the type of the field at path and stores it.
// Sections cannot be set as a whole.
func SetByPath(cfg *Config, path, value string) error {
	v, err := lookup(cfg, path)
	if err != nil {
		return err
	}
	if v.Kind() == reflect.Struct {
		return fmt.Errorf("%s is a section, set one of its fields", path)
	}
	// Decode into a scratch value so a failed conversion leaves cfg as it was.
	out := reflect.New(v.Type())
	if err := mapstructure.WeakDecode(value, out.Interface()); err != nil {
		return fmt.Errorf("%s: cannot use %q as %s: %w", path, value, v.Type(), err)
	}
	v.Set(out.Elem())
	return nil
}

// Sanitize returns a copy of the config with secrets masked.
func Sanitize(cfg *Config) *Config {
	out := *cfg
	if out.Telegram.Token != "" {
		out.Telegram.Token = maskString(out.Telegram.Token)
	}
	if out.VK.Token != "" {
		out.VK.Token = maskString(out.VK.Token)
	}
	if out.Auth.Password != "" {
		out.Auth.Password = "***"
	}
	return &out
}

// maskString keeps four characters at each end of long secrets.
func maskString(s string) string {
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "****" + s[len(s)-4:]
}

// ListPaths returns every settable path with its current value.
func ListPaths(cfg *Config) map[string]any {
	result := make(map[string]any)
	collectLeaves("", reflect.ValueOf(cfg).Elem(), result)
	return result
}

func collectLeaves(prefix string, v reflect.Value, result map[string]any) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		path := jsonName(t.Field(i))
		if prefix != "" {
			path = prefix + "." + path
		}
		if f := v.Field(i); f.Kind() == reflect.Struct {
			collectLeaves(path, f, result)
		} else {
			result[path] = f.Interface()
		}
	}
}

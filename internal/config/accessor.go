package config

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// Dot paths use the JSON field names ("channels.whatsapp.phoneNumberId").
// Map entries are addressed by key ("providers.openai.apiKey") and may be
// created by SetByPath; struct fields must exist.

// GetByPath retrieves a config value by dot-notation path.
func GetByPath(cfg *Config, path string) (any, error) {
	v, err := lookup(reflect.ValueOf(cfg).Elem(), splitPath(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return v.Interface(), nil
}

// SetByPath parses raw according to the type of the field at path and
// stores it in cfg. Lists take comma-separated values.
func SetByPath(cfg *Config, path, raw string) error {
	if err := assignPath(reflect.ValueOf(cfg).Elem(), splitPath(path), raw); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

func splitPath(path string) []string {
	if path == "" {
		return nil
	}
	return strings.Split(path, ".")
}

func lookup(v reflect.Value, parts []string) (reflect.Value, error) {
	for _, key := range parts {
		switch v.Kind() {
		case reflect.Struct:
			f, ok := fieldByJSONName(v, key)
			if !ok {
				return reflect.Value{}, fmt.Errorf("key not found: %s", key)
			}
			v = f
		case reflect.Map:
			e := v.MapIndex(reflect.ValueOf(key))
			if !e.IsValid() {
				return reflect.Value{}, fmt.Errorf("key not found: %s", key)
			}
			v = e
		case reflect.Slice:
			idx, err := strconv.Atoi(key)
			if err != nil || idx < 0 || idx >= v.Len() {
				return reflect.Value{}, fmt.Errorf("invalid list index: %s", key)
			}
			v = v.Index(idx)
		default:
			return reflect.Value{}, fmt.Errorf("cannot traverse into %s at %s", v.Kind(), key)
		}
	}
	return v, nil
}

func assignPath(v reflect.Value, parts []string, raw string) error {
	if len(parts) == 0 {
		return assign(v, raw)
	}
	key := parts[0]
	switch v.Kind() {
	case reflect.Struct:
		f, ok := fieldByJSONName(v, key)
		if !ok {
			return fmt.Errorf("unknown key: %s", key)
		}
		return assignPath(f, parts[1:], raw)
	case reflect.Map:
		// Map values are not addressable: copy, modify, store back.
		if v.IsNil() {
			v.Set(reflect.MakeMap(v.Type()))
		}
		k := reflect.ValueOf(key)
		elem := reflect.New(v.Type().Elem()).Elem()
		if cur := v.MapIndex(k); cur.IsValid() {
			elem.Set(cur)
		}
		if err := assignPath(elem, parts[1:], raw); err != nil {
			return err
		}
		v.SetMapIndex(k, elem)
		return nil
	default:
		return fmt.Errorf("cannot traverse into %s at %s", v.Kind(), key)
	}
}

func assign(v reflect.Value, raw string) error {
	switch v.Kind() {
	case reflect.String:
		v.SetString(raw)
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("expected true or false, got %q", raw)
		}
		v.SetBool(b)
	case reflect.Int, reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return fmt.Errorf("expected an integer, got %q", raw)
		}
		v.SetInt(n)
	case reflect.Float64:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return fmt.Errorf("expected a number, got %q", raw)
		}
		v.SetFloat(f)
	case reflect.Slice:
		if v.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported list type %s", v.Type())
		}
		items := []string{}
		for _, s := range strings.Split(raw, ",") {
			if s = strings.TrimSpace(s); s != "" {
				items = append(items, s)
			}
		}
		v.Set(reflect.ValueOf(items).Convert(v.Type()))
	default:
		return fmt.Errorf("is a section, not a value")
	}
	return nil
}

func fieldByJSONName(v reflect.Value, name string) (reflect.Value, bool) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		tag, _, _ := strings.Cut(t.Field(i).Tag.Get("json"), ",")
		if tag == name {
			return v.Field(i), true
		}
	}
	return reflect.Value{}, false
}

// Sanitize returns a copy of the config with sensitive values masked.
func Sanitize(cfg *Config) *Config {
	data, err := json.Marshal(cfg)
	if err != nil {
		return cfg
	}
	var copy Config
	if err := json.Unmarshal(data, &copy); err != nil {
		return cfg
	}

	for name, prov := range copy.Providers {
		prov.APIKey = maskIfSet(prov.APIKey)
		copy.Providers[name] = prov
	}

	copy.Speech.APIKey = maskIfSet(copy.Speech.APIKey)

	wa := &copy.Channels.WhatsApp
	wa.AccessToken = maskIfSet(wa.AccessToken)
	wa.VerifyToken = maskIfSet(wa.VerifyToken)
	if wa.AppSecret != "" {
		wa.AppSecret = "***"
	}

	copy.Channels.Telegram.Token = maskIfSet(copy.Channels.Telegram.Token)

	return &copy
}

func maskIfSet(s string) string {
	if s == "" {
		return ""
	}
	return maskString(s)
}

// maskString shows first 4 and last 4 chars, masks the rest.
func maskString(s string) string {
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "****" + s[len(s)-4:]
}

// ListPaths returns every leaf path with its value, including fields the
// JSON encoding omits when empty.
func ListPaths(cfg *Config) map[string]any {
	out := make(map[string]any)
	collectLeaves("", reflect.ValueOf(cfg).Elem(), out)
	return out
}

func collectLeaves(prefix string, v reflect.Value, out map[string]any) {
	join := func(k string) string {
		if prefix == "" {
			return k
		}
		return prefix + "." + k
	}
	switch v.Kind() {
	case reflect.Struct:
		t := v.Type()
		for i := 0; i < t.NumField(); i++ {
			tag, _, _ := strings.Cut(t.Field(i).Tag.Get("json"), ",")
			if tag == "" || tag == "-" {
				continue
			}
			collectLeaves(join(tag), v.Field(i), out)
		}
	case reflect.Map:
		iter := v.MapRange()
		for iter.Next() {
			collectLeaves(join(iter.Key().String()), iter.Value(), out)
		}
	default:
		out[prefix] = v.Interface()
	}
}

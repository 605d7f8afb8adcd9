package config

import (
	"fmt"
	"reflect"
	"slices"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// GetValue returns the setting at a dot-separated yaml path such as
// "retry.max_attempts", formatted the way 'hilo config get' prints it.
func (c *Config) GetValue(path string) (string, error) {
	field, err := lookupField(reflect.ValueOf(c).Elem(), path)
	if err != nil {
		return "", err
	}
	return formatValue(field), nil
}

// SetValue parses value into the setting at path. Lists are comma
// separated; everything else is parsed as a YAML scalar of the field's type,
// so durations, hex postcodes, and floats read the same as in config files.
func (c *Config) SetValue(path, value string) error {
	field, err := lookupField(reflect.ValueOf(c).Elem(), path)
	if err != nil {
		return err
	}
	if err := assign(field, value); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

// lookupField walks root one yaml key at a time.
func lookupField(root reflect.Value, path string) (reflect.Value, error) {
	cur := root
	for _, key := range strings.Split(path, ".") {
		if cur.Kind() == reflect.Pointer {
			if cur.IsNil() {
				return reflect.Value{}, fmt.Errorf("config key %s is unset", key)
			}
			cur = cur.Elem()
		}
		if cur.Kind() != reflect.Struct {
			return reflect.Value{}, fmt.Errorf("config key %s has no field %s", path, key)
		}
		next, ok := structField(cur, key)
		if !ok {
			return reflect.Value{}, fmt.Errorf("unknown config key: %s", path)
		}
		cur = next
	}
	return cur, nil
}

// structField matches key against yaml tags first, then field names.
func structField(v reflect.Value, key string) (reflect.Value, bool) {
	t := v.Type()
	for i := range t.NumField() {
		if yamlKey(t.Field(i)) == key {
			return v.Field(i), true
		}
	}
	for i := range t.NumField() {
		if strings.EqualFold(t.Field(i).Name, key) {
			return v.Field(i), true
		}
	}
	return reflect.Value{}, false
}

func yamlKey(f reflect.StructField) string {
	name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
	return name
}

func assign(field reflect.Value, value string) error {
	if !field.CanSet() {
		return fmt.Errorf("not settable")
	}
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
		return nil
	case reflect.Bool:
		field.SetBool(parseBool(value))
		return nil
	case reflect.Map, reflect.Struct:
		return fmt.Errorf("%s values can only be set in a config file", field.Kind())
	case reflect.Slice:
		items := strings.Split(value, ",")
		list := reflect.MakeSlice(field.Type(), 0, len(items))
		for _, item := range items {
			elem := reflect.New(field.Type().Elem()).Elem()
			if err := assign(elem, strings.TrimSpace(item)); err != nil {
				return err
			}
			list = reflect.Append(list, elem)
		}
		field.Set(list)
		return nil
	}

	parsed := reflect.New(field.Type())
	if err := yaml.Unmarshal([]byte(value), parsed.Interface()); err != nil {
		return fmt.Errorf("invalid %s %q", field.Type(), value)
	}
	field.Set(parsed.Elem())
	return nil
}

func formatValue(v reflect.Value) string {
	if !v.IsValid() {
		return ""
	}
	switch x := v.Interface().(type) {
	case time.Duration:
		return x.String()
	case uint64:
		return fmt.Sprintf("%#x", x)
	}

	switch v.Kind() {
	case reflect.Pointer:
		if v.IsNil() {
			return "<nil>"
		}
		return formatValue(v.Elem())
	case reflect.Slice:
		if v.Len() == 0 {
			return "[]"
		}
		items := make([]string, v.Len())
		for i := range items {
			items[i] = formatValue(v.Index(i))
		}
		return strings.Join(items, ", ")
	case reflect.Map:
		entries := make([]string, 0, v.Len())
		for it := v.MapRange(); it.Next(); {
			entries = append(entries, fmt.Sprintf("%v: %s", it.Key(), formatValue(it.Value())))
		}
		slices.Sort(entries)
		return "{" + strings.Join(entries, ", ") + "}"
	case reflect.Struct:
		return fmt.Sprintf("%+v", v.Interface())
	default:
		return fmt.Sprint(v.Interface())
	}
}

var leafPaths = sync.OnceValue(func() []string {
	var paths []string
	var walk func(t reflect.Type, prefix string)
	walk = func(t reflect.Type, prefix string) {
		for i := range t.NumField() {
			key := yamlKey(t.Field(i))
			if key == "" || key == "-" {
				continue
			}
			if prefix != "" {
				key = prefix + "." + key
			}
			if t.Field(i).Type.Kind() == reflect.Struct {
				walk(t.Field(i).Type, key)
			} else {
				paths = append(paths, key)
			}
		}
	}
	walk(reflect.TypeFor[Config](), "")
	slices.Sort(paths)
	return paths
})

// AllConfigPaths returns every settable leaf path, sorted.
func AllConfigPaths() []string {
	return slices.Clone(leafPaths())
}

// isLeafPath reports whether path names a setting rather than a section.
func isLeafPath(path string) bool {
	_, found := slices.BinarySearch(leafPaths(), path)
	return found
}

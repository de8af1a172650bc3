package config

import (
	"fmt"
	"os"
	"reflect"

	"github.com/spf13/cast"
)

// Load 从环境变量加载配置，prefix为环境变量前缀（如"AM"）
func Load(prefix string) (*MarketConfig, error) {
	cfg := &MarketConfig{}
	if err := loadStruct(reflect.ValueOf(cfg).Elem(), prefix); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadStruct(v reflect.Value, prefix string) error {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		tag := field.Tag.Get("cfg")
		if tag == "" {
			continue
		}

		name := tag
		if prefix != "" {
			name = prefix + "_" + tag
		}

		if field.Type.Kind() == reflect.Struct {
			if err := loadStruct(v.Field(i), name); err != nil {
				return err
			}
			continue
		}

		raw, ok := os.LookupEnv(name)
		if !ok {
			raw = field.Tag.Get("default")
			if raw == "" {
				continue
			}
		}

		if err := setField(v.Field(i), raw); err != nil {
			return fmt.Errorf("config %s: %w", name, err)
		}
	}
	return nil
}

func setField(v reflect.Value, raw string) error {
	switch v.Kind() {
	case reflect.String:
		v.SetString(raw)
	case reflect.Bool:
		b, err := cast.ToBoolE(raw)
		if err != nil {
			return err
		}
		v.SetBool(b)
	case reflect.Int, reflect.Int32, reflect.Int64:
		n, err := cast.ToInt64E(raw)
		if err != nil {
			return err
		}
		v.SetInt(n)
	default:
		return fmt.Errorf("unsupported config field kind %s", v.Kind())
	}
	return nil
}

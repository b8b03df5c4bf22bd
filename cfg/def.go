package cfg

import (
	"reflect"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

// SetDefaults 为结构体设置默认值，基于 def tag
func SetDefaults(object interface{}) error {
	if object == nil {
		return errors.New("object cannot be nil")
	}

	rv := reflect.ValueOf(object)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return errors.New("object must be a non-nil pointer")
	}

	return setDefaults(rv.Elem())
}

// setDefaults 递归地为结构体字段设置默认值
func setDefaults(rv reflect.Value) error {
	if !rv.IsValid() {
		return nil
	}

	if rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return nil
		}
		return setDefaults(rv.Elem())
	}

	if rv.Kind() != reflect.Struct {
		return nil
	}

	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		field := rt.Field(i)
		fieldValue := rv.Field(i)

		if !fieldValue.CanSet() {
			continue
		}

		// 嵌套结构体递归处理
		if fieldValue.Kind() == reflect.Struct ||
			(fieldValue.Kind() == reflect.Ptr && fieldValue.Type().Elem().Kind() == reflect.Struct) {
			if err := setDefaults(fieldValue); err != nil {
				return errors.WithMessagef(err, "failed to set defaults for field %s", field.Name)
			}
		}

		defTag := field.Tag.Get("def")
		if defTag == "" {
			continue
		}

		// 只有在字段为零值时才设置默认值
		if !fieldValue.IsZero() {
			continue
		}

		if err := setDefaultValue(fieldValue, defTag); err != nil {
			return errors.WithMessagef(err, "failed to set default value for field %s", field.Name)
		}
	}

	return nil
}

// setDefaultValue 根据字段类型和 def tag 设置默认值
func setDefaultValue(rv reflect.Value, defValue string) error {
	switch rv.Kind() {
	case reflect.String:
		rv.SetString(defValue)
		return nil

	case reflect.Bool:
		val, err := strconv.ParseBool(defValue)
		if err != nil {
			return errors.Wrapf(err, "invalid bool value %q", defValue)
		}
		rv.SetBool(val)
		return nil

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// 特殊处理 time.Duration
		if rv.Type() == reflect.TypeOf(time.Duration(0)) {
			duration, err := time.ParseDuration(defValue)
			if err != nil {
				return errors.Wrapf(err, "invalid duration value %q", defValue)
			}
			rv.Set(reflect.ValueOf(duration))
			return nil
		}
		val, err := strconv.ParseInt(defValue, 0, rv.Type().Bits())
		if err != nil {
			return errors.Wrapf(err, "invalid int value %q", defValue)
		}
		rv.SetInt(val)
		return nil

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		val, err := strconv.ParseUint(defValue, 0, rv.Type().Bits())
		if err != nil {
			return errors.Wrapf(err, "invalid uint value %q", defValue)
		}
		rv.SetUint(val)
		return nil

	case reflect.Float32, reflect.Float64:
		val, err := strconv.ParseFloat(defValue, rv.Type().Bits())
		if err != nil {
			return errors.Wrapf(err, "invalid float value %q", defValue)
		}
		rv.SetFloat(val)
		return nil
	}

	return errors.Errorf("unsupported type %v", rv.Type())
}

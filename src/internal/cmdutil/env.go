package cmdutil

import (
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/pachyderm/durachunk/src/internal/errors"
	"gopkg.in/yaml.v3"
)

// Decoder decodes an env file.
type Decoder interface {
	Decode() (map[string]string, error)
}

// Populate populates an object with environment variables.
//
// The environment has precedence over the decoders, earlier
// decoders have precedence over later decoders.
func Populate(object interface{}, decoders ...Decoder) error {
	decoderMap, err := getDecoderMap(decoders)
	if err != nil {
		return err
	}
	return walk(reflect.ValueOf(object), false, func(tag *envTag) string {
		return getValue(tag.key, tag.defaultValue, decoderMap)
	})
}

// PopulateDefaults will parse the tags of the given structure and populate each
// field with a default value (if specified in the tags). This is meant for use
// by tests, which do not want to read from env vars.
func PopulateDefaults(object interface{}) error {
	return walk(reflect.ValueOf(object), false, func(tag *envTag) string {
		return tag.defaultValue
	})
}

const (
	cannotParseErr              = "cannot parse"
	envKeyNotSetWhenRequiredErr = "env key not set when required"
	expectedPointerErr          = "expected pointer"
	expectedStructErr           = "expected struct"
	fieldTypeNotAllowedErr      = "field type not allowed"
	invalidTagErr               = "invalid tag, must be KEY,{required},{default=DEFAULT_VALUE}"
)

// Types whose underlying kind would parse them wrongly.
var knownTypes = map[reflect.Type]func(string) (any, error){
	reflect.TypeOf(time.Duration(0)): func(x string) (any, error) {
		return time.ParseDuration(x) //nolint:wrapcheck
	},
}

func walk(reflectValue reflect.Value, recursive bool, lookup func(*envTag) string) error {
	if reflectValue.Type().Kind() == reflect.Ptr {
		reflectValue = reflectValue.Elem()
	} else if !recursive {
		return errors.Errorf("%s: %v", expectedPointerErr, reflectValue.Type())
	}
	if reflectValue.Type().Kind() != reflect.Struct {
		return errors.Errorf("%s: %v", expectedStructErr, reflectValue.Type())
	}
	for i := 0; i < reflectValue.NumField(); i++ {
		structField := reflectValue.Type().Field(i)
		if structField.Type.Kind() == reflect.Struct {
			if err := walk(reflectValue.Field(i), true, lookup); err != nil {
				return err
			}
			continue
		}
		tag, err := getEnvTag(structField)
		if err != nil {
			return err
		}
		if tag == nil {
			continue
		}
		value := lookup(tag)
		if value == "" {
			if tag.required {
				return errors.Errorf("%s: %s %v", envKeyNotSetWhenRequiredErr, tag.key, reflectValue.Type())
			}
			continue
		}
		parsed, err := parseField(structField.Type, value)
		if err != nil {
			return errors.Wrapf(err, "%s", tag.key)
		}
		reflectValue.Field(i).Set(reflect.ValueOf(parsed).Convert(structField.Type))
	}
	return nil
}

func getDecoderMap(decoders []Decoder) (map[string]string, error) {
	env := make(map[string]string)
	for _, decoder := range decoders {
		subEnv, err := decoder.Decode()
		if err != nil {
			return nil, errors.EnsureStack(err)
		}
		for key, value := range subEnv {
			if value != "" {
				if _, ok := env[key]; !ok {
					env[key] = value
				}
			}
		}
	}
	return env, nil
}

func getValue(key string, defaultValue string, decoderMap map[string]string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	if value := decoderMap[key]; value != "" {
		return value
	}
	return defaultValue
}

type envTag struct {
	key          string
	required     bool
	defaultValue string
}

func getEnvTag(structField reflect.StructField) (*envTag, error) {
	tag := structField.Tag.Get("env")
	if tag == "" {
		return nil, nil
	}
	split := strings.SplitN(tag, ",", 2)
	envTag := &envTag{
		key: split[0],
	}
	if len(split) == 1 {
		return envTag, nil
	}
	split = strings.SplitN(strings.TrimSpace(split[1]), "=", 2)
	switch split[0] {
	case "required":
		envTag.required = true
	case "default":
		if len(split) != 2 {
			return nil, errors.Errorf("%s: %s", invalidTagErr, tag)
		}
		envTag.defaultValue = split[1]
	default:
		return nil, errors.Errorf("%s: %s", invalidTagErr, tag)
	}
	return envTag, nil
}

func parseField(t reflect.Type, value string) (any, error) {
	if parser, ok := knownTypes[t]; ok {
		v, err := parser(value)
		if err != nil {
			return nil, errors.Wrapf(err, cannotParseErr)
		}
		return v, nil
	}
	var (
		v   any
		err error
	)
	switch t.Kind() {
	case reflect.Bool:
		v, err = strconv.ParseBool(value)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		var i int64
		i, err = strconv.ParseInt(value, 10, t.Bits())
		v = i
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		var u uint64
		u, err = strconv.ParseUint(value, 10, t.Bits())
		v = u
	case reflect.Float32, reflect.Float64:
		var f float64
		f, err = strconv.ParseFloat(value, t.Bits())
		v = f
	case reflect.String:
		v = value
	default:
		return nil, errors.Errorf("%s: %v", fieldTypeNotAllowedErr, t.Kind())
	}
	if err != nil {
		return nil, errors.Wrapf(err, cannotParseErr)
	}
	return v, nil
}

// YAMLFileDecoder reads a flat YAML map of KEY: value pairs, as written in a
// config file next to the environment variables it stands in for.
type YAMLFileDecoder struct {
	Path string
}

// Decode implements Decoder.  A missing file decodes to an empty map.
func (d YAMLFileDecoder) Decode() (map[string]string, error) {
	data, err := os.ReadFile(d.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, errors.EnsureStack(err)
	}
	raw := make(map[string]any)
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrapf(err, "decode %s", d.Path)
	}
	result := make(map[string]string, len(raw))
	for k, v := range raw {
		switch v := v.(type) {
		case nil:
		case string:
			result[k] = v
		case map[string]any, []any:
			return nil, errors.Errorf("decode %s: key %s must be a scalar", d.Path, k)
		default:
			result[k] = strings.TrimSpace(stringify(v))
		}
	}
	return result, nil
}

func stringify(v any) string {
	out, err := yaml.Marshal(v)
	if err != nil {
		return ""
	}
	return string(out)
}

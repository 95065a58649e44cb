package config

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"

	"github.com/bitrise-io/go-utils/colorstring"
	"github.com/bitrise-io/go-utils/parseutil"
	"github.com/bitrise-io/go-utils/v2/env"
)

// Secret variables are not shown in the printed configuration.
type Secret string

const secret = "*****"

// String implements fmt.Stringer. A printed Secret masks the underlying
// value with asterisks.
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return secret
}

// Parser populates configuration structs from environment variables.
type Parser struct {
	envRepo env.Repository
}

// NewParser ...
func NewParser(envRepo env.Repository) Parser {
	return Parser{envRepo: envRepo}
}

// Parse reads the environment variables named by `env` struct tags into
// conf, which must be a pointer to a struct. A constraint may follow the
// name: `env:"KEY,required"` fails when KEY is unset or empty, and
// `env:"KEY,opt[a,b]"` restricts the accepted values. Fields whose variable
// is unset keep their current value.
func (p Parser) Parse(conf interface{}) error {
	c := reflect.ValueOf(conf)
	if c.Kind() != reflect.Ptr {
		return fmt.Errorf("expected a pointer to a struct, got %T", conf)
	}
	c = c.Elem()
	if c.Kind() != reflect.Struct {
		return fmt.Errorf("expected a pointer to a struct, got %T", conf)
	}

	t := c.Type()
	var errs []error
	for i := 0; i < c.NumField(); i++ {
		tag, ok := t.Field(i).Tag.Lookup("env")
		if !ok {
			continue
		}
		key, constraint := parseTag(tag)

		if err := setField(c.Field(i), p.envRepo.Get(key), constraint); err != nil {
			errs = append(errs, fmt.Errorf("- %s: %s", key, err))
		}
	}
	if len(errs) > 0 {
		message := "failed to parse config:"
		for _, err := range errs {
			message += "\n" + err.Error()
		}
		return errors.New(message)
	}
	return nil
}

var optionsConstraint = regexp.MustCompile(`^opt\[(.*)\]$`)

func setField(field reflect.Value, value, constraint string) error {
	switch {
	case constraint == "":
	case constraint == "required":
		if value == "" {
			return errors.New("required variable is not present")
		}
	case optionsConstraint.MatchString(constraint):
		options := strings.Split(optionsConstraint.FindStringSubmatch(constraint)[1], ",")
		if !contains(options, value) {
			return fmt.Errorf("value is not in value options (%s)", constraint)
		}
	default:
		return fmt.Errorf("invalid constraint (%s)", constraint)
	}

	if value == "" {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Bool:
		b, err := parseutil.ParseBool(value)
		if err != nil {
			return errors.New("can't convert to bool")
		}
		field.SetBool(b)
	case reflect.Int, reflect.Int64:
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil || field.OverflowInt(n) {
			return errors.New("can't convert to int")
		}
		field.SetInt(n)
	case reflect.Slice:
		field.Set(reflect.ValueOf(strings.Split(value, "|")))
	default:
		return fmt.Errorf("type is not supported (%s)", field.Kind())
	}
	return nil
}

func contains(options []string, value string) bool {
	for _, option := range options {
		if option == value {
			return true
		}
	}
	return false
}

func parseTag(tag string) (string, string) {
	if i := strings.Index(tag, ","); i != -1 {
		return tag[:i], tag[i+1:]
	}
	return tag, ""
}

// Print writes conf to the standard output, one line per field, with the
// struct name as a title. Secret values are masked and empty optional
// values show as <unset>.
func Print(conf interface{}) {
	fmt.Print(toString(conf))
}

func toString(conf interface{}) string {
	v := reflect.ValueOf(conf)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	t := v.Type()

	title := t.Name()
	if title != "" {
		title = strings.ToUpper(title[:1]) + title[1:]
	}

	str := colorstring.Bluef("%s:\n", title)
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		name := field.Name
		if tag, ok := field.Tag.Lookup("env"); ok {
			name, _ = parseTag(tag)
		}
		value := valueString(v.Field(i))
		if value == "" && !strings.Contains(field.Tag.Get("env"), "required") {
			value = "<unset>"
		}
		str += fmt.Sprintf("- %s: %v\n", name, value)
	}
	return str
}

func valueString(v reflect.Value) string {
	if v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return ""
		}
		v = v.Elem()
	}
	if v.IsZero() {
		return ""
	}
	return fmt.Sprintf("%v", v.Interface())
}

package config

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEnvRepo struct {
	vars map[string]string
}

func (f fakeEnvRepo) Get(key string) string { return f.vars[key] }

func (f fakeEnvRepo) Set(key, value string) error { f.vars[key] = value; return nil }

func (f fakeEnvRepo) Unset(key string) error { delete(f.vars, key); return nil }

func (f fakeEnvRepo) List() []string { return nil }

func TestParse(t *testing.T) {
	parser := NewParser(fakeEnvRepo{vars: map[string]string{
		"STORE_REGION":     "eu-west-1",
		"STORE_ACCESS_KEY": "AKIAEXAMPLE",
		"STORE_SECRET_KEY": "shhh",
		"WORKER_COUNT":     "6",
		"VERBOSE":          "yes",
		"FORMATS":          "xml|parquet",
	}})

	var conf struct {
		Region    string   `env:"STORE_REGION,required"`
		AccessKey string   `env:"STORE_ACCESS_KEY"`
		SecretKey Secret   `env:"STORE_SECRET_KEY"`
		Workers   int      `env:"WORKER_COUNT"`
		Verbose   bool     `env:"VERBOSE"`
		Formats   []string `env:"FORMATS"`
		Untagged  string
	}
	require.NoError(t, parser.Parse(&conf))

	assert.Equal(t, "eu-west-1", conf.Region)
	assert.Equal(t, "AKIAEXAMPLE", conf.AccessKey)
	assert.Equal(t, Secret("shhh"), conf.SecretKey)
	assert.Equal(t, 6, conf.Workers)
	assert.True(t, conf.Verbose)
	assert.Equal(t, []string{"xml", "parquet"}, conf.Formats)
	assert.Empty(t, conf.Untagged)
}

func TestParseKeepsDefaultsForUnsetVariables(t *testing.T) {
	parser := NewParser(fakeEnvRepo{vars: map[string]string{}})

	conf := struct {
		Workers int    `env:"WORKER_COUNT"`
		Region  string `env:"STORE_REGION"`
	}{Workers: 8, Region: "us-east-1"}
	require.NoError(t, parser.Parse(&conf))

	assert.Equal(t, 8, conf.Workers)
	assert.Equal(t, "us-east-1", conf.Region)
}

func TestParseRequired(t *testing.T) {
	parser := NewParser(fakeEnvRepo{vars: map[string]string{}})

	var conf struct {
		Region string `env:"STORE_REGION,required"`
	}
	err := parser.Parse(&conf)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "STORE_REGION")
	assert.Contains(t, err.Error(), "required variable is not present")
}

func TestParseValueOptions(t *testing.T) {
	var conf struct {
		Codec string `env:"CODEC,opt[snappy,zstd]"`
	}

	parser := NewParser(fakeEnvRepo{vars: map[string]string{"CODEC": "snappy"}})
	require.NoError(t, parser.Parse(&conf))
	assert.Equal(t, "snappy", conf.Codec)

	parser = NewParser(fakeEnvRepo{vars: map[string]string{"CODEC": "lzo"}})
	require.Error(t, parser.Parse(&conf))
}

func TestParseInvalidValues(t *testing.T) {
	parser := NewParser(fakeEnvRepo{vars: map[string]string{
		"WORKER_COUNT": "several",
		"VERBOSE":      "kind of",
	}})

	var conf struct {
		Workers int  `env:"WORKER_COUNT"`
		Verbose bool `env:"VERBOSE"`
	}
	err := parser.Parse(&conf)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "WORKER_COUNT")
	assert.Contains(t, err.Error(), "VERBOSE")
}

func TestParseRejectsNonStructPointer(t *testing.T) {
	parser := NewParser(fakeEnvRepo{vars: map[string]string{}})

	var conf struct {
		Region string `env:"STORE_REGION"`
	}
	require.Error(t, parser.Parse(conf))

	var s string
	require.Error(t, parser.Parse(&s))
}

func TestParseInvalidConstraint(t *testing.T) {
	parser := NewParser(fakeEnvRepo{vars: map[string]string{"LENGTH": "12"}})

	var conf struct {
		Length string `env:"LENGTH,length"`
	}
	require.Error(t, parser.Parse(&conf))
}

func TestSecretString(t *testing.T) {
	assert.Equal(t, "*****", Secret("hunter2").String())
	assert.Equal(t, "", Secret("").String())
}

func TestToString(t *testing.T) {
	type settings struct {
		Region    string `env:"STORE_REGION"`
		SecretKey Secret `env:"STORE_SECRET_KEY"`
		Workers   int    `env:"WORKER_COUNT"`
		Plain     string
	}

	got := toString(settings{
		Region:    "eu-west-1",
		SecretKey: "shhh",
	})

	expected := "\x1b[34;1mSettings:\n\x1b[0m" +
		"- STORE_REGION: eu-west-1\n" +
		"- STORE_SECRET_KEY: *****\n" +
		"- WORKER_COUNT: <unset>\n" +
		"- Plain: <unset>\n"
	assert.Equal(t, expected, got)
}

func TestValueString(t *testing.T) {
	value := "test"
	count := 99
	var nilPtr *string

	tests := []struct {
		name string
		v    reflect.Value
		want string
	}{
		{"string", reflect.ValueOf(value), "test"},
		{"string ptr", reflect.ValueOf(&value), "test"},
		{"nil ptr", reflect.ValueOf(nilPtr), ""},
		{"int", reflect.ValueOf(count), "99"},
		{"zero int", reflect.ValueOf(0), ""},
		{"false bool", reflect.ValueOf(false), ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, valueString(tt.v))
		})
	}
}
